// Package townsvc coordinates the towns of one server process: town
// lifecycle, join sessions and their tokens, and the HTTP management surface.
package townsvc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"townsquare.app/internal/protocol"
	"townsquare.app/internal/town"
	"townsquare.app/internal/townstore"
)

var (
	ErrTownNotFound = errors.New("town not found")
	ErrTownFull     = errors.New("town is at capacity")
	ErrBadPassword  = errors.New("bad update password")
	ErrAuthFailed   = errors.New("invalid or consumed session token")
)

const defaultCapacity = 50

type runtime struct {
	town           *town.Town
	friendlyName   string
	publiclyListed bool
	password       string
	cancel         context.CancelFunc
}

// A session is issued by the join endpoint and consumed by exactly one socket
// connect. Disconnecting destroys it; there is no reconnect with the same
// token.
type session struct {
	token     string
	townID    string
	playerID  string
	userName  string
	connected bool
}

type Coordinator struct {
	log     *zap.SugaredLogger
	store   *townstore.Store // may be nil: directory listing disabled
	journal town.SessionLogger
	cap     int

	mu       sync.RWMutex
	towns    map[string]*runtime
	sessions map[string]*session

	wg     sync.WaitGroup
	closed bool
}

type Option func(*Coordinator)

// WithStore attaches the SQLite town directory.
func WithStore(s *townstore.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithJournal attaches the session event journal.
func WithJournal(j town.SessionLogger) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithCapacity overrides the default per-town capacity.
func WithCapacity(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.cap = n
		}
	}
}

func New(log *zap.SugaredLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:      log,
		cap:      defaultCapacity,
		towns:    make(map[string]*runtime),
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type TownInfo struct {
	TownID         string
	UpdatePassword string
}

type TownSummary struct {
	TownID       string
	FriendlyName string
	Occupancy    int
	Capacity     int
}

// CreateTown starts a new town loop and registers it in the directory.
func (c *Coordinator) CreateTown(friendlyName string, publiclyListed bool) (TownInfo, error) {
	id := uuid.NewString()
	password := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	tn := town.New(town.Config{
		ID:             id,
		FriendlyName:   friendlyName,
		PubliclyListed: publiclyListed,
		UpdatePassword: password,
		Capacity:       c.cap,
	}, c.log, c.journal)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return TownInfo{}, errors.New("coordinator closed")
	}
	c.towns[id] = &runtime{
		town:           tn,
		friendlyName:   friendlyName,
		publiclyListed: publiclyListed,
		password:       password,
		cancel:         cancel,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = tn.Run(ctx)
	}()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Insert(townstore.Record{
			TownID:         id,
			FriendlyName:   friendlyName,
			PubliclyListed: publiclyListed,
			Capacity:       c.cap,
		}); err != nil {
			c.log.Errorw("town directory insert", "town", id, "err", err)
		}
	}
	c.logLifecycle("townCreated", id)
	c.log.Infow("town created", "town", id, "name", friendlyName, "public", publiclyListed)
	return TownInfo{TownID: id, UpdatePassword: password}, nil
}

// ListTowns returns the publicly listed towns with live occupancy.
func (c *Coordinator) ListTowns() []TownSummary {
	var out []TownSummary
	if c.store != nil {
		recs, err := c.store.ListPublic()
		if err != nil {
			c.log.Errorw("town directory list", "err", err)
			return nil
		}
		c.mu.RLock()
		for _, r := range recs {
			s := TownSummary{TownID: r.TownID, FriendlyName: r.FriendlyName, Capacity: r.Capacity}
			if rt, ok := c.towns[r.TownID]; ok {
				s.Occupancy = rt.town.Occupancy()
			}
			out = append(out, s)
		}
		c.mu.RUnlock()
		return out
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, rt := range c.towns {
		if !rt.publiclyListed {
			continue
		}
		out = append(out, TownSummary{
			TownID:       id,
			FriendlyName: rt.friendlyName,
			Occupancy:    rt.town.Occupancy(),
			Capacity:     rt.town.Capacity(),
		})
	}
	return out
}

// UpdateTown changes a town's listing metadata after checking its password.
func (c *Coordinator) UpdateTown(townID, password, friendlyName string, publiclyListed bool) error {
	c.mu.Lock()
	rt, ok := c.towns[townID]
	if !ok {
		c.mu.Unlock()
		return ErrTownNotFound
	}
	if rt.password != password {
		c.mu.Unlock()
		return ErrBadPassword
	}
	rt.friendlyName = friendlyName
	rt.publiclyListed = publiclyListed
	tn := rt.town
	c.mu.Unlock()

	tn.UpdateListing(friendlyName, publiclyListed)
	if c.store != nil {
		if err := c.store.Update(townID, friendlyName, publiclyListed); err != nil {
			c.log.Errorw("town directory update", "town", townID, "err", err)
		}
	}
	return nil
}

// DeleteTown tears the town down, force-disconnecting every socket in it.
func (c *Coordinator) DeleteTown(townID, password string) error {
	c.mu.Lock()
	rt, ok := c.towns[townID]
	if !ok {
		c.mu.Unlock()
		return ErrTownNotFound
	}
	if rt.password != password {
		c.mu.Unlock()
		return ErrBadPassword
	}
	delete(c.towns, townID)
	for token, s := range c.sessions {
		if s.townID == townID {
			delete(c.sessions, token)
		}
	}
	c.mu.Unlock()

	rt.town.Stop()
	<-rt.town.Done()
	rt.cancel()
	if c.store != nil {
		if err := c.store.Delete(townID); err != nil {
			c.log.Errorw("town directory delete", "town", townID, "err", err)
		}
	}
	c.logLifecycle("townDeleted", townID)
	c.log.Infow("town deleted", "town", townID)
	return nil
}

func (c *Coordinator) logLifecycle(event, townID string) {
	if c.journal == nil {
		return
	}
	c.journal.LogSession(town.SessionLogEntry{
		TimeMillis: time.Now().UnixMilli(),
		TownID:     townID,
		Event:      event,
	})
}

type JoinInfo struct {
	Token          string
	PlayerID       string
	FriendlyName   string
	PubliclyListed bool
	CurrentPlayers []protocol.PlayerSnapshot
}

// IssueSession creates a join record for the town. The returned token admits
// exactly one socket connect.
func (c *Coordinator) IssueSession(townID, userName string) (JoinInfo, error) {
	c.mu.Lock()
	rt, ok := c.towns[townID]
	if !ok {
		c.mu.Unlock()
		return JoinInfo{}, ErrTownNotFound
	}
	if rt.town.Occupancy() >= rt.town.Capacity() {
		c.mu.Unlock()
		return JoinInfo{}, ErrTownFull
	}
	s := &session{
		token:    uuid.NewString(),
		townID:   townID,
		playerID: uuid.NewString(),
		userName: userName,
	}
	c.sessions[s.token] = s
	info := JoinInfo{
		Token:          s.token,
		PlayerID:       s.playerID,
		FriendlyName:   rt.friendlyName,
		PubliclyListed: rt.publiclyListed,
	}
	tn := rt.town
	c.mu.Unlock()

	info.CurrentPlayers = tn.PlayersSnapshot()
	return info, nil
}

type ConnectResult struct {
	Town      *town.Town
	PlayerID  string
	Connected protocol.ConnectedFrame
}

// Connect consumes a session token and admits the socket to its town. The
// token must belong to exactly the presented town and must not have been
// consumed before; any failure means the caller closes the transport with no
// payload.
func (c *Coordinator) Connect(token, townID string, out chan []byte) (ConnectResult, error) {
	c.mu.Lock()
	s, ok := c.sessions[token]
	if !ok || s.connected || s.townID != townID {
		c.mu.Unlock()
		return ConnectResult{}, ErrAuthFailed
	}
	rt, ok := c.towns[s.townID]
	if !ok {
		delete(c.sessions, token)
		c.mu.Unlock()
		return ConnectResult{}, ErrAuthFailed
	}
	s.connected = true
	c.mu.Unlock()

	resp, ok := rt.town.Connect(town.JoinRequest{
		PlayerID: s.playerID,
		UserName: s.userName,
		Out:      out,
		Resp:     make(chan town.JoinResponse, 1),
	})
	if !ok {
		c.dropSession(token)
		return ConnectResult{}, ErrAuthFailed
	}
	return ConnectResult{Town: rt.town, PlayerID: s.playerID, Connected: resp.Connected}, nil
}

// Disconnect removes the player behind the token and destroys the session
// permanently.
func (c *Coordinator) Disconnect(token string) {
	c.mu.Lock()
	s, ok := c.sessions[token]
	if ok {
		delete(c.sessions, token)
	}
	var rt *runtime
	if ok {
		rt = c.towns[s.townID]
	}
	c.mu.Unlock()

	if ok && rt != nil && s.connected {
		rt.town.Disconnect(s.playerID)
	}
}

func (c *Coordinator) dropSession(token string) {
	c.mu.Lock()
	delete(c.sessions, token)
	c.mu.Unlock()
}

// Close stops every town and waits for their loops to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	towns := make([]*runtime, 0, len(c.towns))
	for id, rt := range c.towns {
		towns = append(towns, rt)
		delete(c.towns, id)
	}
	c.sessions = make(map[string]*session)
	c.mu.Unlock()

	for _, rt := range towns {
		rt.town.Stop()
		<-rt.town.Done()
		rt.cancel()
	}
	c.wg.Wait()
}
