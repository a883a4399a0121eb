// Package client holds the client side of the session protocol: a pure
// reducer over server-pushed events plus a thin socket controller that feeds
// it in receipt order.
package client

import (
	"townsquare.app/internal/chat"
	"townsquare.app/internal/protocol"
)

// AppState is the client's local view of its session. Reduce treats it as
// immutable: every touched collection or chain is replaced, never mutated in
// place, so snapshots taken before and after an update never alias.
type AppState struct {
	SessionToken         string
	UserName             string
	TownFriendlyName     string
	TownID               string
	TownIsPubliclyListed bool
	MyPlayerID           string

	Players         []protocol.PlayerSnapshot
	CurrentLocation protocol.Location
	NearbyPlayerIDs []string

	TownChain      *chat.Chain
	ProximityChain *chat.Chain
	DirectChains   map[string]*chat.Chain
}

// DefaultState is the unauthenticated resting state; disconnection returns
// the client here.
func DefaultState() AppState {
	return AppState{
		CurrentLocation: protocol.Location{Rotation: protocol.RotationFront},
		TownChain:       chat.NewChain(),
		ProximityChain:  chat.NewChain(),
		DirectChains:    map[string]*chat.Chain{},
	}
}

// Update is one state transition input. The set is sealed: the reducer treats
// anything else as a protocol violation.
type Update interface{ isUpdate() }

// Connected folds the join snapshot into local state.
type Connected struct {
	SessionToken         string
	UserName             string
	TownFriendlyName     string
	TownID               string
	TownIsPubliclyListed bool
	Self                 protocol.PlayerSnapshot
	Players              []protocol.PlayerSnapshot
}

type PlayerAdded struct{ Player protocol.PlayerSnapshot }

type PlayerMoved struct{ Player protocol.PlayerSnapshot }

type PlayerDisconnected struct{ Player protocol.PlayerSnapshot }

// WeMoved is local-only: the optimistic location update applied when emitting
// movement, never waited on.
type WeMoved struct{ Location protocol.Location }

type Disconnected struct{}

type MessageReceived struct{ Message protocol.Message }

// ResetUnviewed is local-only: applied immediately, also emitted to the
// server as bookkeeping.
type ResetUnviewed struct {
	Kind           protocol.MessageKind
	ConversationID string
}

func (Connected) isUpdate()          {}
func (PlayerAdded) isUpdate()        {}
func (PlayerMoved) isUpdate()        {}
func (PlayerDisconnected) isUpdate() {}
func (WeMoved) isUpdate()            {}
func (Disconnected) isUpdate()       {}
func (MessageReceived) isUpdate()    {}
func (ResetUnviewed) isUpdate()      {}
