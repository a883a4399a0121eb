package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"townsquare.app/internal/protocol"
)

const dialTimeout = 5 * time.Second

// Controller owns one town session socket. It feeds every server frame
// through Reduce in receipt order and keeps the resulting AppState readable
// from any goroutine.
type Controller struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger

	writeMu sync.Mutex

	mu    sync.Mutex
	state AppState

	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials the session endpoint, authenticates with the session token
// issued by the join request, and blocks until the server's initial snapshot
// arrives. The returned controller is already reading in the background.
func Connect(wsURL, token, townID string, log *zap.SugaredLogger) (*Controller, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Controller{
		conn:  conn,
		log:   log,
		state: DefaultState(),
		done:  make(chan struct{}),
	}

	join := protocol.JoinFrame{Type: protocol.TypeJoin, Token: token, TownID: townID}
	if err := c.writeJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("session refused: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var connected protocol.ConnectedFrame
	if err := json.Unmarshal(msg, &connected); err != nil || connected.Type != protocol.TypeConnected {
		conn.Close()
		return nil, fmt.Errorf("expected %s frame, got %q", protocol.TypeConnected, msg)
	}

	next, err := Reduce(c.state, Connected{
		SessionToken:         token,
		UserName:             connected.Self.UserName,
		TownFriendlyName:     connected.FriendlyName,
		TownID:               connected.TownID,
		TownIsPubliclyListed: connected.PubliclyListed,
		Self:                 connected.Self,
		Players:              connected.Players,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.state = next

	go c.readLoop()
	return c, nil
}

// State returns the current session state. The returned value shares no
// mutable structure with future states.
func (c *Controller) State() AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PlayerID returns our server-assigned player id.
func (c *Controller) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.MyPlayerID
}

// Done is closed once the session is over, whether we closed it or the
// server did.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Close tears the socket down. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// EmitMovement reports a new location to the town and applies it locally
// without waiting for the echo; the server never echoes our own movement
// back to us.
func (c *Controller) EmitMovement(loc protocol.Location) error {
	if err := c.writeJSON(protocol.PlayerMovementFrame{Type: protocol.TypePlayerMovement, Location: loc}); err != nil {
		return err
	}
	c.apply(WeMoved{Location: loc})
	return nil
}

// EmitMessage sends a chat message. The local chain is only updated when the
// server broadcasts it back, which keeps sender and audience ordering
// identical.
func (c *Controller) EmitMessage(msg protocol.Message) error {
	return c.writeJSON(protocol.MessageSentFrame{Type: protocol.TypeMessageSent, Message: msg})
}

// MarkChainViewed zeroes the unread counter for one chain, locally and on
// the server copy of our session.
func (c *Controller) MarkChainViewed(kind protocol.MessageKind, conversationID string) error {
	if err := c.writeJSON(protocol.MessagesViewedFrame{
		Type:           protocol.TypeMessagesViewed,
		Kind:           kind,
		ConversationID: conversationID,
	}); err != nil {
		return err
	}
	c.apply(ResetUnviewed{Kind: kind, ConversationID: conversationID})
	return nil
}

func (c *Controller) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Controller) apply(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := Reduce(c.state, u)
	if err != nil {
		c.log.Errorw("reduce failed", "error", err)
		return
	}
	c.state = next
}

func (c *Controller) readLoop() {
	defer close(c.done)
	defer c.Close()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.apply(Disconnected{})
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeNewPlayer:
			var f protocol.PlayerFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			c.apply(PlayerAdded{Player: f.Player})
		case protocol.TypePlayerMoved:
			var f protocol.PlayerFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			// Our own movement is already applied optimistically.
			if f.Player.ID == c.PlayerID() {
				continue
			}
			c.apply(PlayerMoved{Player: f.Player})
		case protocol.TypePlayerDisconnect:
			var f protocol.PlayerFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			c.apply(PlayerDisconnected{Player: f.Player})
		case protocol.TypeMessageReceived:
			var f protocol.MessageReceivedFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			c.apply(MessageReceived{Message: f.Message})
		default:
			c.log.Warnw("unexpected frame from server", "type", base.Type)
			c.apply(Disconnected{})
			return
		}
	}
}
