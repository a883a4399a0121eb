package protocol

// MessageKind classifies a chat message by its audience.
type MessageKind string

const (
	KindTown      MessageKind = "town"
	KindProximity MessageKind = "proximity"
	KindDirect    MessageKind = "direct"
)

// Rotation values a client may report.
const (
	RotationFront = "front"
	RotationBack  = "back"
	RotationLeft  = "left"
	RotationRight = "right"
)

// Location is a player's position on the town map.
type Location struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation string  `json:"rotation"`
	Moving   bool    `json:"moving"`
}

// Message is an immutable chat message. Location is the sender's location at
// send time; it decides the proximity audience, it is not for display.
// ConversationID and RecipientName are set only for direct messages.
type Message struct {
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	RecipientName  string      `json:"recipientName,omitempty"`
	Location       Location    `json:"location"`
	Content        string      `json:"content"`
	Timestamp      int64       `json:"timestamp"`
	Kind           MessageKind `json:"kind"`
	ConversationID string      `json:"conversationId,omitempty"`
}

// Participant identifies one side of a direct conversation.
type Participant struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
}

// ChainSnapshot is the wire form of a message chain.
type ChainSnapshot struct {
	Messages       []Message     `json:"messages"`
	Active         bool          `json:"active"`
	Unviewed       int           `json:"unviewed"`
	ConversationID string        `json:"conversationId,omitempty"`
	Participants   []Participant `json:"participants,omitempty"`
}

// PlayerSnapshot is a point-in-time copy of a player. Chain snapshots are
// populated only in the joiner's own "connected" frame; broadcast frames carry
// just identity and location.
type PlayerSnapshot struct {
	ID             string                   `json:"id"`
	UserName       string                   `json:"userName"`
	Location       Location                 `json:"location"`
	TownChain      *ChainSnapshot           `json:"townChain,omitempty"`
	ProximityChain *ChainSnapshot           `json:"proximityChain,omitempty"`
	DirectChains   map[string]ChainSnapshot `json:"directChains,omitempty"`
}

// join (client -> server): the connect handshake. Token must match a join
// session previously issued for exactly this town.
type JoinFrame struct {
	Type   string `json:"type"`
	Token  string `json:"token"`
	TownID string `json:"townId"`
}

// playerMovement (client -> server)
type PlayerMovementFrame struct {
	Type     string   `json:"type"`
	Location Location `json:"location"`
}

// messageSent (client -> server)
type MessageSentFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// messagesViewed (client -> server): unread-reset bookkeeping, no broadcast.
type MessagesViewedFrame struct {
	Type           string      `json:"type"`
	Kind           MessageKind `json:"kind"`
	ConversationID string      `json:"conversationId,omitempty"`
}

// connected (server -> client): full snapshot sent to the joiner once admitted.
type ConnectedFrame struct {
	Type           string           `json:"type"`
	TownID         string           `json:"townId"`
	FriendlyName   string           `json:"friendlyName"`
	PubliclyListed bool             `json:"publiclyListed"`
	Self           PlayerSnapshot   `json:"self"`
	Players        []PlayerSnapshot `json:"players"`
}

// newPlayer / playerMoved / playerDisconnect (server -> client)
type PlayerFrame struct {
	Type   string         `json:"type"`
	Player PlayerSnapshot `json:"player"`
}

// messageReceived (server -> client)
type MessageReceivedFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}
