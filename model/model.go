package model

// Envelope is the structured unit exchanged over the wire.
// RoomName is set only on room-scoped broadcasts so receivers can route
// replies back to the same room.
type Envelope struct {
	Event    string         `json:"event"`
	Data     map[string]any `json:"data,omitempty"`
	RoomName string         `json:"roomName,omitempty"`
}

// Source kinds carried by message-sent bus notifications.
const (
	SourceConnection = "connection"
	SourceServer     = "server"
	SourceRoom       = "room"
)

// Room lifecycle actions carried by room bus notifications.
const (
	RoomActionAdd    = "add"
	RoomActionRemove = "remove"
)

// RoomEvent announces a room registration or removal on the registry bus.
type RoomEvent struct {
	Action string `json:"action"`
	Name   string `json:"name"`
}

// MessageEvent describes one successful publish. For room publishes SourceID
// is the room name, for direct sends it is the connection id.
type MessageEvent struct {
	Event    string         `json:"event"`
	Data     map[string]any `json:"data,omitempty"`
	Source   string         `json:"source"`
	SourceID string         `json:"source_id,omitempty"`
}

// BridgeFrame is the unit adapters exchange over an external broker. Origin
// is the publishing server id; receivers drop their own frames to prevent
// mirror loops. Exactly one of Message or Room is set.
type BridgeFrame struct {
	Origin  string        `json:"origin"`
	Message *MessageEvent `json:"message,omitempty"`
	Room    *RoomEvent    `json:"room,omitempty"`
}
