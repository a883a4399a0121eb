package town

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"townsquare.app/internal/chat"
	"townsquare.app/internal/protocol"
)

func newTestTown() *Town {
	return New(Config{
		ID:           "town-1",
		FriendlyName: "Testing Town",
	}, zap.NewNop().Sugar(), nil)
}

func joinPlayer(t *testing.T, tn *Town, id, name string) (chan []byte, JoinResponse) {
	t.Helper()
	out := make(chan []byte, 16)
	resp := make(chan JoinResponse, 1)
	tn.handleJoin(JoinRequest{PlayerID: id, UserName: name, Out: out, Resp: resp})
	select {
	case r := <-resp:
		return out, r
	default:
		t.Fatalf("no join response for %s", id)
		return nil, JoinResponse{}
	}
}

func drain(out chan []byte) [][]byte {
	var frames [][]byte
	for {
		select {
		case b := <-out:
			frames = append(frames, b)
		default:
			return frames
		}
	}
}

func framesOfType(t *testing.T, frames [][]byte, typ string) [][]byte {
	t.Helper()
	var got [][]byte
	for _, b := range frames {
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if base.Type == typ {
			got = append(got, b)
		}
	}
	return got
}

func TestJoin_SnapshotAndBroadcast(t *testing.T) {
	tn := newTestTown()
	outA, respA := joinPlayer(t, tn, "a", "alice")
	if len(respA.Connected.Players) != 1 || respA.Connected.Self.ID != "a" {
		t.Fatalf("joiner snapshot wrong: %+v", respA.Connected)
	}
	if respA.Connected.Self.TownChain == nil || respA.Connected.Self.ProximityChain == nil {
		t.Fatalf("joiner snapshot missing chain state")
	}

	_, respB := joinPlayer(t, tn, "b", "bob")
	if len(respB.Connected.Players) != 2 {
		t.Fatalf("second joiner sees %d players, want 2", len(respB.Connected.Players))
	}

	newPlayers := framesOfType(t, drain(outA), protocol.TypeNewPlayer)
	if len(newPlayers) != 1 {
		t.Fatalf("existing player got %d newPlayer frames, want 1", len(newPlayers))
	}
	var f protocol.PlayerFrame
	if err := json.Unmarshal(newPlayers[0], &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Player.ID != "b" || f.Player.UserName != "bob" {
		t.Fatalf("newPlayer frame = %+v", f.Player)
	}
	if tn.Occupancy() != 2 {
		t.Fatalf("occupancy = %d", tn.Occupancy())
	}
}

func TestMovement_TownGlobalExceptSender(t *testing.T) {
	tn := newTestTown()
	outA, _ := joinPlayer(t, tn, "a", "alice")
	outB, _ := joinPlayer(t, tn, "b", "bob")
	drain(outA)
	drain(outB)

	loc := protocol.Location{X: 500, Y: 500, Rotation: protocol.RotationBack, Moving: true}
	tn.handleEvent(Envelope{PlayerID: "a", Frame: protocol.PlayerMovementFrame{Type: protocol.TypePlayerMovement, Location: loc}})

	moved := framesOfType(t, drain(outB), protocol.TypePlayerMoved)
	if len(moved) != 1 {
		t.Fatalf("observer got %d playerMoved frames, want 1", len(moved))
	}
	var f protocol.PlayerFrame
	if err := json.Unmarshal(moved[0], &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Player.Location != loc {
		t.Fatalf("broadcast location = %+v, want %+v", f.Player.Location, loc)
	}
	if got := framesOfType(t, drain(outA), protocol.TypePlayerMoved); len(got) != 0 {
		t.Fatalf("sender received its own movement echo")
	}
	// Movement is town-global even when far outside call range.
	if WithinRadius(tn.players["a"].Location, tn.players["b"].Location) {
		t.Fatalf("test setup: players should be out of range")
	}
}

func TestTownMessage_FanoutIncludesSenderUnreadAsymmetry(t *testing.T) {
	tn := newTestTown()
	outA, _ := joinPlayer(t, tn, "a", "alice")
	outB, _ := joinPlayer(t, tn, "b", "bob")
	drain(outA)
	drain(outB)

	msg := protocol.Message{
		SenderID:   "a",
		SenderName: "alice",
		Content:    "hello town",
		Timestamp:  time.Now().UnixMilli(),
		Kind:       protocol.KindTown,
	}
	tn.handleEvent(Envelope{PlayerID: "a", Frame: protocol.MessageSentFrame{Type: protocol.TypeMessageSent, Message: msg}})

	for name, out := range map[string]chan []byte{"a": outA, "b": outB} {
		got := framesOfType(t, drain(out), protocol.TypeMessageReceived)
		if len(got) != 1 {
			t.Fatalf("%s got %d messageReceived frames, want 1", name, len(got))
		}
		var f protocol.MessageReceivedFrame
		if err := json.Unmarshal(got[0], &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if f.Message.Content != msg.Content {
			t.Fatalf("content = %q", f.Message.Content)
		}
	}
	if got := tn.players["a"].TownChain.Unviewed(); got != 0 {
		t.Fatalf("sender unread = %d, want 0", got)
	}
	if got := tn.players["b"].TownChain.Unviewed(); got != 1 {
		t.Fatalf("recipient unread = %d, want 1", got)
	}
}

func TestProximityMessage_StrictRadiusFromSendLocation(t *testing.T) {
	tn := newTestTown()
	outA, _ := joinPlayer(t, tn, "a", "alice")
	outB, _ := joinPlayer(t, tn, "b", "bob")
	outC, _ := joinPlayer(t, tn, "c", "carol")

	// b exactly on the boundary, c just inside.
	tn.handleEvent(Envelope{PlayerID: "b", Frame: protocol.PlayerMovementFrame{Location: protocol.Location{X: 80, Y: 0, Rotation: protocol.RotationFront}}})
	tn.handleEvent(Envelope{PlayerID: "c", Frame: protocol.PlayerMovementFrame{Location: protocol.Location{X: 79.99, Y: 0, Rotation: protocol.RotationFront}}})
	drain(outA)
	drain(outB)
	drain(outC)

	msg := protocol.Message{
		SenderID:   "a",
		SenderName: "alice",
		Location:   protocol.Location{X: 0, Y: 0, Rotation: protocol.RotationFront},
		Content:    "psst",
		Timestamp:  time.Now().UnixMilli(),
		Kind:       protocol.KindProximity,
	}
	tn.handleEvent(Envelope{PlayerID: "a", Frame: protocol.MessageSentFrame{Message: msg}})

	if got := framesOfType(t, drain(outA), protocol.TypeMessageReceived); len(got) != 1 {
		t.Fatalf("sender got %d frames, want 1", len(got))
	}
	if got := framesOfType(t, drain(outB), protocol.TypeMessageReceived); len(got) != 0 {
		t.Fatalf("player at exactly 80 units should be excluded, got %d frames", len(got))
	}
	if got := framesOfType(t, drain(outC), protocol.TypeMessageReceived); len(got) != 1 {
		t.Fatalf("player at 79.99 units should be included, got %d frames", len(got))
	}
	if tn.players["b"].ProximityChain.Unviewed() != 0 {
		t.Fatalf("out-of-range player's chain was touched")
	}
	if tn.players["c"].ProximityChain.Unviewed() != 1 {
		t.Fatalf("in-range player's chain not appended")
	}
}

func TestDirectMessage_RoutingAndDisconnectDeactivation(t *testing.T) {
	tn := newTestTown()
	outA, _ := joinPlayer(t, tn, "a", "alice")
	outB, _ := joinPlayer(t, tn, "b", "bob")
	outC, _ := joinPlayer(t, tn, "c", "carol")
	drain(outA)
	drain(outB)
	drain(outC)

	conv := chat.ConversationID("a", "b")
	msg := protocol.Message{
		SenderID:       "a",
		SenderName:     "alice",
		RecipientName:  "bob",
		Content:        "hi bob",
		Timestamp:      time.Now().UnixMilli(),
		Kind:           protocol.KindDirect,
		ConversationID: conv,
	}
	tn.handleEvent(Envelope{PlayerID: "a", Frame: protocol.MessageSentFrame{Message: msg}})

	if got := framesOfType(t, drain(outA), protocol.TypeMessageReceived); len(got) != 1 {
		t.Fatalf("sender not delivered")
	}
	if got := framesOfType(t, drain(outB), protocol.TypeMessageReceived); len(got) != 1 {
		t.Fatalf("recipient not delivered")
	}
	if got := framesOfType(t, drain(outC), protocol.TypeMessageReceived); len(got) != 0 {
		t.Fatalf("third party received a direct message")
	}

	chainA := tn.players["a"].DirectChains[conv]
	chainB := tn.players["b"].DirectChains[conv]
	if chainA == nil || chainB == nil {
		t.Fatalf("direct chains not created on both sides")
	}
	if chainA.Unviewed() != 0 || chainB.Unviewed() != 1 {
		t.Fatalf("unread: sender=%d recipient=%d", chainA.Unviewed(), chainB.Unviewed())
	}

	tn.handleLeave("b")
	if chainA.Active() {
		t.Fatalf("chain with departed player still active")
	}
	before := len(chainA.Messages())
	later := msg
	later.Timestamp++
	tn.handleEvent(Envelope{PlayerID: "a", Frame: protocol.MessageSentFrame{Message: later}})
	if len(chainA.Messages()) != before {
		t.Fatalf("append to inactive chain changed it")
	}
}

func TestViewedResetsUnread(t *testing.T) {
	tn := newTestTown()
	joinPlayer(t, tn, "a", "alice")
	joinPlayer(t, tn, "b", "bob")

	msg := protocol.Message{SenderID: "a", SenderName: "alice", Content: "x", Timestamp: 1, Kind: protocol.KindTown}
	tn.handleEvent(Envelope{PlayerID: "a", Frame: protocol.MessageSentFrame{Message: msg}})
	if tn.players["b"].TownChain.Unviewed() != 1 {
		t.Fatalf("setup: unread not incremented")
	}
	tn.handleEvent(Envelope{PlayerID: "b", Frame: protocol.MessagesViewedFrame{Kind: protocol.KindTown}})
	if tn.players["b"].TownChain.Unviewed() != 0 {
		t.Fatalf("view event did not reset unread")
	}
}

func TestEventForUnknownPlayerAbsorbed(t *testing.T) {
	tn := newTestTown()
	joinPlayer(t, tn, "a", "alice")
	// A frame racing with a disconnect must not panic or mutate anything.
	tn.handleEvent(Envelope{PlayerID: "ghost", Frame: protocol.PlayerMovementFrame{Location: protocol.Location{X: 1}}})
	if len(tn.players) != 1 {
		t.Fatalf("ghost event changed the registry")
	}
}

func TestLeaveBroadcastsDisconnect(t *testing.T) {
	tn := newTestTown()
	outA, _ := joinPlayer(t, tn, "a", "alice")
	joinPlayer(t, tn, "b", "bob")
	drain(outA)

	tn.handleLeave("b")
	got := framesOfType(t, drain(outA), protocol.TypePlayerDisconnect)
	if len(got) != 1 {
		t.Fatalf("got %d playerDisconnect frames, want 1", len(got))
	}
	var f protocol.PlayerFrame
	if err := json.Unmarshal(got[0], &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Player.ID != "b" {
		t.Fatalf("disconnect frame for %q", f.Player.ID)
	}
	if tn.Occupancy() != 1 {
		t.Fatalf("occupancy = %d", tn.Occupancy())
	}
}
