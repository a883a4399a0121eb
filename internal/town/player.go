package town

import (
	"townsquare.app/internal/chat"
	"townsquare.app/internal/protocol"
)

// Player is one connected avatar. Owned by the town loop goroutine; nothing
// outside it may touch a Player directly.
type Player struct {
	ID       string
	UserName string
	Location protocol.Location

	TownChain      *chat.Chain
	ProximityChain *chat.Chain
	DirectChains   map[string]*chat.Chain

	// Ids of players currently within call range, refreshed on every movement.
	nearby []string
}

func newPlayer(id, userName string) *Player {
	return &Player{
		ID:             id,
		UserName:       userName,
		Location:       protocol.Location{Rotation: protocol.RotationFront},
		TownChain:      chat.NewChain(),
		ProximityChain: chat.NewChain(),
		DirectChains:   make(map[string]*chat.Chain),
	}
}

// Snapshot renders the player in wire form. Chain state is included only for
// the player's own "connected" frame; broadcasts carry identity and location.
func (p *Player) Snapshot(withChains bool) protocol.PlayerSnapshot {
	s := protocol.PlayerSnapshot{
		ID:       p.ID,
		UserName: p.UserName,
		Location: p.Location,
	}
	if !withChains {
		return s
	}
	townSnap := p.TownChain.Snapshot()
	proxSnap := p.ProximityChain.Snapshot()
	s.TownChain = &townSnap
	s.ProximityChain = &proxSnap
	if len(p.DirectChains) > 0 {
		s.DirectChains = make(map[string]protocol.ChainSnapshot, len(p.DirectChains))
		for id, c := range p.DirectChains {
			s.DirectChains[id] = c.Snapshot()
		}
	}
	return s
}

// directChainWith returns the player's chain for the given conversation, if
// one exists yet.
func (p *Player) directChainWith(conversationID string) *chat.Chain {
	return p.DirectChains[conversationID]
}
