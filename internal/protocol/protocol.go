package protocol

import "encoding/json"

// Frame types, client -> server.
const (
	TypeJoin           = "join"
	TypePlayerMovement = "playerMovement"
	TypeMessageSent    = "messageSent"
	TypeMessagesViewed = "messagesViewed"
)

// Frame types, server -> client.
const (
	TypeConnected        = "connected"
	TypeNewPlayer        = "newPlayer"
	TypePlayerMoved      = "playerMoved"
	TypePlayerDisconnect = "playerDisconnect"
	TypeMessageReceived  = "messageReceived"
)

// BaseFrame lets us route unknown JSON frames by type.
type BaseFrame struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseFrame, error) {
	var f BaseFrame
	err := json.Unmarshal(b, &f)
	return f, err
}
