// Package chat holds the message-chain model shared by the authoritative town
// loop and the client reducer.
package chat

import (
	"sort"
	"strings"

	"townsquare.app/internal/protocol"
)

// ConversationID derives the canonical id of a direct conversation: the two
// participant ids sorted lexicographically, joined with ":". Client and server
// must derive it identically, so keep this in sync with schemas/.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// Chain is an append-only, deduplicated log of messages belonging to one
// conversation, plus an unread counter and an active flag. Direct chains also
// carry their conversation id and the two participants.
type Chain struct {
	messages       []protocol.Message
	active         bool
	unviewed       int
	conversationID string
	participants   []protocol.Participant
}

// NewChain returns an empty, active chain with nothing unviewed.
func NewChain() *Chain {
	return &Chain{active: true}
}

// NewDirectChain builds a direct chain from its first message. The seed
// message becomes entry zero and counts as unviewed under the same rule as
// Append: only messages the viewer did not author are unviewed.
func NewDirectChain(seed protocol.Message, viewerID string) *Chain {
	c := &Chain{
		active:         true,
		conversationID: seed.ConversationID,
	}
	for _, id := range strings.Split(seed.ConversationID, ":") {
		p := protocol.Participant{ID: id}
		if id == seed.SenderID {
			p.UserName = seed.SenderName
		} else {
			p.UserName = seed.RecipientName
		}
		c.participants = append(c.participants, p)
	}
	c.messages = append(c.messages, seed)
	if seed.SenderID != viewerID {
		c.unviewed = 1
	}
	return c
}

func (c *Chain) Messages() []protocol.Message { return c.messages }
func (c *Chain) Active() bool                 { return c.active }
func (c *Chain) Unviewed() int                { return c.unviewed }
func (c *Chain) ConversationID() string       { return c.conversationID }

func (c *Chain) Participants() []protocol.Participant { return c.participants }

// Append adds a message to the chain and reports whether it was accepted.
// Appends to an inactive chain and duplicate deliveries are silent no-ops:
// both are benign races, not errors. The unviewed counter moves only for
// messages the viewer did not author.
func (c *Chain) Append(m protocol.Message, viewerID string) bool {
	if !c.active || c.isDuplicate(m) {
		return false
	}
	c.messages = append(c.messages, m)
	if m.SenderID != viewerID {
		c.unviewed++
	}
	return true
}

// isDuplicate walks backward through the trailing run of entries whose
// timestamp equals the candidate's; the first differing timestamp stops the
// scan. A message re-sent with a timestamp older than the newest run is
// therefore re-admitted.
func (c *Chain) isDuplicate(m protocol.Message) bool {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Timestamp != m.Timestamp {
			return false
		}
		if c.messages[i].SenderID == m.SenderID {
			return true
		}
	}
	return false
}

// MarkViewed zeroes the unviewed counter. Contents and activity are untouched.
func (c *Chain) MarkViewed() { c.unviewed = 0 }

// Deactivate turns the chain off; every later Append is dropped.
func (c *Chain) Deactivate() { c.active = false }

// Clone returns a copy sharing no mutable state with the receiver. The client
// reducer treats chains as replaced-on-write: clone, mutate the clone, swap.
func (c *Chain) Clone() *Chain {
	dup := &Chain{
		active:         c.active,
		unviewed:       c.unviewed,
		conversationID: c.conversationID,
	}
	dup.messages = append([]protocol.Message(nil), c.messages...)
	dup.participants = append([]protocol.Participant(nil), c.participants...)
	return dup
}

// Snapshot renders the chain in its wire form. Messages is always an array,
// never null, so clients can consume it without a presence check.
func (c *Chain) Snapshot() protocol.ChainSnapshot {
	return protocol.ChainSnapshot{
		Messages:       append(make([]protocol.Message, 0, len(c.messages)), c.messages...),
		Active:         c.active,
		Unviewed:       c.unviewed,
		ConversationID: c.conversationID,
		Participants:   append([]protocol.Participant(nil), c.participants...),
	}
}

// FromSnapshot rebuilds a chain from its wire form.
func FromSnapshot(s protocol.ChainSnapshot) *Chain {
	return &Chain{
		messages:       append([]protocol.Message(nil), s.Messages...),
		active:         s.Active,
		unviewed:       s.Unviewed,
		conversationID: s.ConversationID,
		participants:   append([]protocol.Participant(nil), s.Participants...),
	}
}
