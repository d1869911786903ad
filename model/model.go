package model

// Actions understood by the presence channel. Anything else is ignored.
const (
	ActionJoin  = "join"
	ActionMove  = "move"
	ActionChat  = "chat"
	ActionLeave = "leave"
	ActionError = "error"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is the server-side representation of one connected client
// inside a room. Instances stored in the registry are owned by it;
// everyone else works with value copies.
type Participant struct {
	UserID   string   `json:"userId"`
	Position Position `json:"position"`
	Color    string   `json:"color"`
	RoomID   string   `json:"roomId"`
}

// Envelope is the inbound frame shape.
type Envelope struct {
	Action string   `json:"action"`
	Data   *Payload `json:"data"`
}

type Payload struct {
	UserID   string    `json:"userId"`
	RoomID   string    `json:"roomId"`
	Message  string    `json:"message,omitempty"`
	Position *Position `json:"position,omitempty"`
	Color    string    `json:"color,omitempty"`
}

// Message is the outbound frame, both for room broadcasts and for
// direct error replies.
type Message struct {
	Action   string        `json:"action"`
	UserID   string        `json:"userId"`
	RoomID   string        `json:"roomId"`
	Message  string        `json:"message,omitempty"`
	Position *Position     `json:"position,omitempty"`
	Color    string        `json:"color,omitempty"`
	Users    []Participant `json:"users,omitempty"`
}

const defaultWireBuffer = 32

// Wire is the outbound handle of a single connection. It is owned
// exclusively by that connection's sender pump.
type Wire struct {
	TX chan Message
}

func NewWire() Wire {
	return Wire{
		TX: make(chan Message, defaultWireBuffer),
	}
}
