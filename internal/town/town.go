// Package town implements the authoritative session state for one town: the
// registry of connected players, their message chains, and the fan-out of
// state deltas to the right subset of sockets.
package town

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"townsquare.app/internal/chat"
	"townsquare.app/internal/protocol"
)

const outBufferSize = 64

type Config struct {
	ID             string
	FriendlyName   string
	PubliclyListed bool
	UpdatePassword string
	Capacity       int
}

// SessionLogger receives notable session events. Implementations must not
// block; the town loop calls it inline. May be nil.
type SessionLogger interface {
	LogSession(SessionLogEntry)
}

type SessionLogEntry struct {
	TimeMillis int64  `json:"t"`
	TownID     string `json:"townId"`
	Event      string `json:"event"`
	PlayerID   string `json:"playerId,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// JoinRequest admits an authenticated player to the town. Out is the
// connection's send queue; Resp receives the joiner's full snapshot.
type JoinRequest struct {
	PlayerID string
	UserName string
	Out      chan []byte
	Resp     chan JoinResponse
}

type JoinResponse struct {
	Connected protocol.ConnectedFrame
}

// Envelope carries one decoded client frame into the town loop. Frame is one
// of protocol.PlayerMovementFrame, protocol.MessageSentFrame or
// protocol.MessagesViewedFrame.
type Envelope struct {
	PlayerID string
	Frame    any
}

type client struct {
	out chan []byte
}

// enqueue is non-blocking: when the connection's buffer is full the frame is
// dropped rather than stalling the town loop on a slow or dead socket.
func (c *client) enqueue(b []byte) {
	select {
	case c.out <- b:
	default:
	}
}

// Town is a single-threaded authoritative aggregate. All player and chain
// state is touched only from the Run goroutine; every event is handled to
// completion before the next one starts.
type Town struct {
	cfg     Config
	log     *zap.SugaredLogger
	journal SessionLogger

	players map[string]*Player
	clients map[string]*client

	join     chan JoinRequest
	leave    chan string
	inbox    chan Envelope
	snapshot chan chan []protocol.PlayerSnapshot
	listing  chan listingUpdate
	stop     chan struct{}
	done     chan struct{}

	occupancy atomic.Int64
}

func New(cfg Config, log *zap.SugaredLogger, journal SessionLogger) *Town {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50
	}
	return &Town{
		cfg:      cfg,
		log:      log,
		journal:  journal,
		players:  make(map[string]*Player),
		clients:  make(map[string]*client),
		join:     make(chan JoinRequest),
		leave:    make(chan string, 64),
		inbox:    make(chan Envelope, 256),
		snapshot: make(chan chan []protocol.PlayerSnapshot),
		listing:  make(chan listingUpdate),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

type listingUpdate struct {
	friendlyName   string
	publiclyListed bool
}

func (t *Town) ID() string    { return t.cfg.ID }
func (t *Town) Capacity() int { return t.cfg.Capacity }

// Occupancy is safe to read from any goroutine.
func (t *Town) Occupancy() int { return int(t.occupancy.Load()) }

// Run drives the town loop until the context ends or Stop is called. On exit
// every connected socket's send queue is closed, force-disconnecting it.
func (t *Town) Run(ctx context.Context) error {
	defer close(t.done)
	defer t.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stop:
			return nil
		case req := <-t.join:
			t.handleJoin(req)
		case id := <-t.leave:
			t.handleLeave(id)
		case env := <-t.inbox:
			t.handleEvent(env)
		case resp := <-t.snapshot:
			resp <- t.snapshotPlayers()
		case u := <-t.listing:
			t.cfg.FriendlyName = u.friendlyName
			t.cfg.PubliclyListed = u.publiclyListed
		}
	}
}

func (t *Town) Stop() { close(t.stop) }

// Done is closed once the loop has exited.
func (t *Town) Done() <-chan struct{} { return t.done }

// Connect hands an authenticated player to the loop and waits for its
// snapshot. Reports false when the town has shut down.
func (t *Town) Connect(req JoinRequest) (JoinResponse, bool) {
	select {
	case t.join <- req:
	case <-t.done:
		return JoinResponse{}, false
	}
	select {
	case resp := <-req.Resp:
		return resp, true
	case <-t.done:
		return JoinResponse{}, false
	}
}

// Deliver queues one decoded frame for the loop.
func (t *Town) Deliver(env Envelope) bool {
	select {
	case t.inbox <- env:
		return true
	case <-t.done:
		return false
	}
}

// Disconnect removes a player; safe to call after the town has stopped.
func (t *Town) Disconnect(playerID string) {
	select {
	case t.leave <- playerID:
	case <-t.done:
	}
}

// UpdateListing changes the town's display metadata. Applied on the loop so
// it never races a join snapshot.
func (t *Town) UpdateListing(friendlyName string, publiclyListed bool) {
	select {
	case t.listing <- listingUpdate{friendlyName: friendlyName, publiclyListed: publiclyListed}:
	case <-t.done:
	}
}

// PlayersSnapshot returns the current player list without chain state.
func (t *Town) PlayersSnapshot() []protocol.PlayerSnapshot {
	resp := make(chan []protocol.PlayerSnapshot, 1)
	select {
	case t.snapshot <- resp:
		return <-resp
	case <-t.done:
		return nil
	}
}

func (t *Town) snapshotPlayers() []protocol.PlayerSnapshot {
	out := make([]protocol.PlayerSnapshot, 0, len(t.players))
	for _, p := range t.players {
		out = append(out, p.Snapshot(false))
	}
	return out
}

func (t *Town) handleJoin(req JoinRequest) {
	if old, ok := t.clients[req.PlayerID]; ok {
		close(old.out)
	}
	p := newPlayer(req.PlayerID, req.UserName)
	t.players[p.ID] = p
	if req.Out != nil {
		t.clients[p.ID] = &client{out: req.Out}
	}
	t.occupancy.Store(int64(len(t.players)))
	t.recomputeNearby()

	resp := JoinResponse{Connected: protocol.ConnectedFrame{
		Type:           protocol.TypeConnected,
		TownID:         t.cfg.ID,
		FriendlyName:   t.cfg.FriendlyName,
		PubliclyListed: t.cfg.PubliclyListed,
		Self:           p.Snapshot(true),
		Players:        t.snapshotPlayers(),
	}}
	if req.Resp != nil {
		req.Resp <- resp
	}

	t.broadcast(protocol.PlayerFrame{Type: protocol.TypeNewPlayer, Player: p.Snapshot(false)},
		func(other *Player) bool { return other.ID != p.ID })
	t.logEvent("joined", p.ID, "")
	t.log.Infow("player joined", "town", t.cfg.ID, "player", p.ID, "name", p.UserName)
}

func (t *Town) handleLeave(id string) {
	p, ok := t.players[id]
	if !ok {
		return
	}
	delete(t.players, id)
	if cl, ok := t.clients[id]; ok {
		delete(t.clients, id)
		close(cl.out)
	}
	t.occupancy.Store(int64(len(t.players)))
	t.recomputeNearby()

	t.broadcast(protocol.PlayerFrame{Type: protocol.TypePlayerDisconnect, Player: p.Snapshot(false)},
		func(*Player) bool { return true })

	// Conversations with the departed player go quiet for good.
	for _, other := range t.players {
		if c := other.directChainWith(chat.ConversationID(other.ID, id)); c != nil {
			c.Deactivate()
		}
	}
	t.logEvent("left", id, "")
	t.log.Infow("player left", "town", t.cfg.ID, "player", id)
}

func (t *Town) handleEvent(env Envelope) {
	p, ok := t.players[env.PlayerID]
	if !ok {
		// Raced with a disconnect; absorb silently.
		return
	}
	switch f := env.Frame.(type) {
	case protocol.PlayerMovementFrame:
		t.handleMovement(p, f.Location)
	case protocol.MessageSentFrame:
		t.handleMessage(p, f.Message)
	case protocol.MessagesViewedFrame:
		t.handleViewed(p, f)
	default:
		// The transport only forwards known frames, so this is a programming
		// error, not a client one.
		t.log.Errorw("unknown frame in town loop", "town", t.cfg.ID, "player", env.PlayerID)
	}
}

// Movement is town-global: every other player hears about it. Proximity only
// gates chat and call audience.
func (t *Town) handleMovement(p *Player, loc protocol.Location) {
	p.Location = loc
	t.recomputeNearby()
	t.broadcast(protocol.PlayerFrame{Type: protocol.TypePlayerMoved, Player: p.Snapshot(false)},
		func(other *Player) bool { return other.ID != p.ID })
}

// recomputeNearby refreshes every player's call-range set. Sets that did not
// change keep their old slice so comparisons stay cheap for consumers.
func (t *Town) recomputeNearby() {
	for _, p := range t.players {
		ids := nearbyIDs(t.players, p.Location, p.ID)
		if !SameIDSet(ids, p.nearby) {
			p.nearby = ids
		}
	}
}

func (t *Town) handleMessage(sender *Player, msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindTown:
		for _, p := range t.players {
			p.TownChain.Append(msg, p.ID)
		}
		t.broadcast(protocol.MessageReceivedFrame{Type: protocol.TypeMessageReceived, Message: msg},
			func(*Player) bool { return true })

	case protocol.KindProximity:
		// Audience comes from the sender's location at send time, carried in
		// the message itself, so late movement can't widen it.
		audience := func(p *Player) bool {
			return p.ID == msg.SenderID || WithinRadius(p.Location, msg.Location)
		}
		for _, p := range t.players {
			if audience(p) {
				p.ProximityChain.Append(msg, p.ID)
			}
		}
		t.broadcast(protocol.MessageReceivedFrame{Type: protocol.TypeMessageReceived, Message: msg}, audience)

	case protocol.KindDirect:
		if msg.ConversationID == "" {
			return
		}
		// Id-based routing is authoritative; the recipient display name is
		// advisory. A recipient that is not connected still leaves the
		// message accepted on the sender's side.
		audience := func(p *Player) bool {
			return p.directChainWith(msg.ConversationID) != nil ||
				chat.ConversationID(p.ID, msg.SenderID) == msg.ConversationID ||
				p.ID == msg.SenderID
		}
		for _, p := range t.players {
			if !audience(p) {
				continue
			}
			if c := p.directChainWith(msg.ConversationID); c != nil {
				c.Append(msg, p.ID)
			} else {
				p.DirectChains[msg.ConversationID] = chat.NewDirectChain(msg, p.ID)
			}
		}
		t.broadcast(protocol.MessageReceivedFrame{Type: protocol.TypeMessageReceived, Message: msg}, audience)

	default:
		t.log.Warnw("message with unknown kind dropped", "town", t.cfg.ID, "kind", msg.Kind)
		return
	}
	t.logEvent("message", sender.ID, string(msg.Kind))
}

// handleViewed is pure bookkeeping; nothing is broadcast.
func (t *Town) handleViewed(p *Player, f protocol.MessagesViewedFrame) {
	switch f.Kind {
	case protocol.KindTown:
		p.TownChain.MarkViewed()
	case protocol.KindProximity:
		p.ProximityChain.MarkViewed()
	case protocol.KindDirect:
		if c := p.directChainWith(f.ConversationID); c != nil {
			c.MarkViewed()
		}
	}
}

// broadcast is the single fan-out primitive: marshal once, enqueue to every
// connected socket whose player the audience predicate admits.
func (t *Town) broadcast(frame any, include func(*Player) bool) {
	b, err := json.Marshal(frame)
	if err != nil {
		t.log.Errorw("marshal broadcast", "town", t.cfg.ID, "err", err)
		return
	}
	for id, cl := range t.clients {
		p, ok := t.players[id]
		if !ok || !include(p) {
			continue
		}
		cl.enqueue(b)
	}
}

func (t *Town) closeAll() {
	for id, cl := range t.clients {
		delete(t.clients, id)
		close(cl.out)
	}
	t.players = make(map[string]*Player)
	t.occupancy.Store(0)
}

func (t *Town) logEvent(event, playerID, kind string) {
	if t.journal == nil {
		return
	}
	t.journal.LogSession(SessionLogEntry{
		TimeMillis: time.Now().UnixMilli(),
		TownID:     t.cfg.ID,
		Event:      event,
		PlayerID:   playerID,
		Kind:       kind,
	})
}
