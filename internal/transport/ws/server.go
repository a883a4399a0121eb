// Package ws exposes the town session protocol over a WebSocket endpoint.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"townsquare.app/internal/protocol"
	"townsquare.app/internal/town"
	"townsquare.app/internal/townsvc"
)

const (
	outBufferSize = 64
	writeWait     = 5 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	handshakeWait = 5 * time.Second
	maxFrameSize  = 1 << 20
)

type Server struct {
	svc *townsvc.Coordinator
	log *zap.SugaredLogger

	upgrader websocket.Upgrader
}

func NewServer(svc *townsvc.Coordinator, log *zap.SugaredLogger) *Server {
	return &Server{
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler serves one session per connection. Credentials come either as query
// parameters or as a leading join frame; an invalid or consumed token closes
// the transport with no payload.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		token := r.URL.Query().Get("token")
		townID := r.URL.Query().Get("townId")
		if token == "" || townID == "" {
			token, townID = s.readJoinFrame(conn)
			if token == "" {
				return
			}
		}

		out := make(chan []byte, outBufferSize)
		res, err := s.svc.Connect(token, townID, out)
		if err != nil {
			return
		}
		defer s.svc.Disconnect(token)

		// The joiner's snapshot goes out before the write pump starts, so it
		// always precedes any broadcast already queued behind it.
		snapshot, err := json.Marshal(res.Connected)
		if err != nil {
			s.log.Errorw("marshal connected frame", "player", res.PlayerID, "err", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
			return
		}

		go s.writePump(conn, out)
		s.readLoop(conn, res)
	}
}

func (s *Server) readJoinFrame(conn *websocket.Conn) (token, townID string) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeJoin {
		return "", ""
	}
	var f protocol.JoinFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		return "", ""
	}
	return f.Token, f.TownID
}

// writePump owns all writes after the snapshot. It exits, closing the
// connection, when the town closes the out queue or a write fails.
func (s *Server) writePump(conn *websocket.Conn, out <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()
	for {
		select {
		case b, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, res townsvc.ConnectResult) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypePlayerMovement:
			var f protocol.PlayerMovementFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			res.Town.Deliver(town.Envelope{PlayerID: res.PlayerID, Frame: f})
		case protocol.TypeMessageSent:
			var f protocol.MessageSentFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			res.Town.Deliver(town.Envelope{PlayerID: res.PlayerID, Frame: f})
		case protocol.TypeMessagesViewed:
			var f protocol.MessagesViewedFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			res.Town.Deliver(town.Envelope{PlayerID: res.PlayerID, Frame: f})
		case protocol.TypeJoin:
			// Redundant handshake frame; nothing to do.
		default:
			// An unrecognized tag means the peer speaks a different protocol.
			// Continuing would leave it with stale state, so drop it.
			s.log.Warnw("unknown frame type", "player", res.PlayerID, "type", base.Type)
			return
		}
	}
}
