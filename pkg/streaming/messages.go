// Package streaming defines the messages exchanged with a live marker viewer.
package streaming

import (
	"encoding/json"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartProfile = "start_profile"
	TypeEndProfile   = "end_profile"
	TypeThread       = "thread"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartProfilePayload announces the profile the following threads belong to.
type StartProfilePayload struct {
	Name    string `json:"name"`
	Product string `json:"product"`
}

// ThreadPayload carries the derived markers of one thread. Markers holds
// the encoded marker list in start-time order.
type ThreadPayload struct {
	Index   int             `json:"index"`
	Name    string          `json:"name"`
	Pid     int             `json:"pid"`
	Tid     int             `json:"tid"`
	Markers json.RawMessage `json:"markers"`
}
