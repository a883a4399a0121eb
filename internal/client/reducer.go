package client

import (
	"fmt"

	"townsquare.app/internal/chat"
	"townsquare.app/internal/protocol"
	"townsquare.app/internal/town"
)

// Reduce applies one update to the state and returns the next state. It is
// pure: the input state is never mutated, and the same (state, update) pair
// always yields the same result. An update outside the sealed set is an
// error; the controller treats that as a dead session.
func Reduce(state AppState, u Update) (AppState, error) {
	switch u := u.(type) {
	case Connected:
		return reduceConnected(u), nil
	case PlayerAdded:
		next := state
		next.Players = append(copyPlayers(state.Players), u.Player)
		next.NearbyPlayerIDs = recomputeNearby(next)
		return next, nil
	case PlayerMoved:
		next := state
		next.Players = upsertPlayer(state.Players, u.Player)
		next.NearbyPlayerIDs = recomputeNearby(next)
		return next, nil
	case PlayerDisconnected:
		return reducePlayerDisconnected(state, u), nil
	case WeMoved:
		next := state
		next.CurrentLocation = u.Location
		next.NearbyPlayerIDs = recomputeNearby(next)
		return next, nil
	case Disconnected:
		return DefaultState(), nil
	case MessageReceived:
		return reduceMessage(state, u.Message), nil
	case ResetUnviewed:
		return reduceReset(state, u), nil
	default:
		return state, fmt.Errorf("client: unknown update %T", u)
	}
}

func reduceConnected(u Connected) AppState {
	next := DefaultState()
	next.SessionToken = u.SessionToken
	next.UserName = u.UserName
	next.TownFriendlyName = u.TownFriendlyName
	next.TownID = u.TownID
	next.TownIsPubliclyListed = u.TownIsPubliclyListed
	next.MyPlayerID = u.Self.ID
	next.CurrentLocation = u.Self.Location
	next.Players = copyPlayers(u.Players)
	if u.Self.TownChain != nil {
		next.TownChain = chat.FromSnapshot(*u.Self.TownChain)
	}
	if u.Self.ProximityChain != nil {
		next.ProximityChain = chat.FromSnapshot(*u.Self.ProximityChain)
	}
	for id, snap := range u.Self.DirectChains {
		next.DirectChains[id] = chat.FromSnapshot(snap)
	}
	next.NearbyPlayerIDs = recomputeNearby(next)
	return next
}

func reducePlayerDisconnected(state AppState, u PlayerDisconnected) AppState {
	next := state
	players := make([]protocol.PlayerSnapshot, 0, len(state.Players))
	for _, p := range state.Players {
		if p.ID != u.Player.ID {
			players = append(players, p)
		}
	}
	next.Players = players
	next.NearbyPlayerIDs = recomputeNearby(next)

	// A direct conversation with the leaver survives for reading but will
	// accept no further messages.
	convID := chat.ConversationID(state.MyPlayerID, u.Player.ID)
	if ch, ok := state.DirectChains[convID]; ok {
		deactivated := ch.Clone()
		deactivated.Deactivate()
		next.DirectChains = copyChains(state.DirectChains)
		next.DirectChains[convID] = deactivated
	}
	return next
}

func reduceMessage(state AppState, msg protocol.Message) AppState {
	next := state
	switch msg.Kind {
	case protocol.KindTown:
		ch := state.TownChain.Clone()
		ch.Append(msg, state.MyPlayerID)
		next.TownChain = ch
	case protocol.KindProximity:
		ch := state.ProximityChain.Clone()
		ch.Append(msg, state.MyPlayerID)
		next.ProximityChain = ch
	case protocol.KindDirect:
		next.DirectChains = copyChains(state.DirectChains)
		if existing, ok := state.DirectChains[msg.ConversationID]; ok {
			ch := existing.Clone()
			ch.Append(msg, state.MyPlayerID)
			next.DirectChains[msg.ConversationID] = ch
		} else {
			next.DirectChains[msg.ConversationID] = chat.NewDirectChain(msg, state.MyPlayerID)
		}
	}
	return next
}

func reduceReset(state AppState, u ResetUnviewed) AppState {
	next := state
	switch u.Kind {
	case protocol.KindTown:
		ch := state.TownChain.Clone()
		ch.MarkViewed()
		next.TownChain = ch
	case protocol.KindProximity:
		ch := state.ProximityChain.Clone()
		ch.MarkViewed()
		next.ProximityChain = ch
	case protocol.KindDirect:
		if existing, ok := state.DirectChains[u.ConversationID]; ok {
			ch := existing.Clone()
			ch.MarkViewed()
			next.DirectChains = copyChains(state.DirectChains)
			next.DirectChains[u.ConversationID] = ch
		}
	}
	return next
}

// recomputeNearby derives the nearby set from the player list and our own
// location. When the membership is unchanged the previous slice is returned
// as-is, so consumers can compare by identity.
func recomputeNearby(state AppState) []string {
	var ids []string
	for _, p := range state.Players {
		if p.ID == state.MyPlayerID {
			continue
		}
		if town.WithinRadius(p.Location, state.CurrentLocation) {
			ids = append(ids, p.ID)
		}
	}
	if town.SameIDSet(ids, state.NearbyPlayerIDs) {
		return state.NearbyPlayerIDs
	}
	return ids
}

func upsertPlayer(players []protocol.PlayerSnapshot, p protocol.PlayerSnapshot) []protocol.PlayerSnapshot {
	out := copyPlayers(players)
	for i := range out {
		if out[i].ID == p.ID {
			out[i] = p
			return out
		}
	}
	return append(out, p)
}

func copyPlayers(players []protocol.PlayerSnapshot) []protocol.PlayerSnapshot {
	return append([]protocol.PlayerSnapshot(nil), players...)
}

func copyChains(chains map[string]*chat.Chain) map[string]*chat.Chain {
	out := make(map[string]*chat.Chain, len(chains))
	for k, v := range chains {
		out[k] = v
	}
	return out
}
