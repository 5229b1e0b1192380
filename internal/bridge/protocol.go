package bridge

// Event names pushed over the feed.
const (
	EventCallStarted     = "call.started"
	EventCallAnswered    = "call.answered"
	EventCallEnded       = "call.ended"
	EventConnectionState = "connection.state"
)

// Frame is the envelope for every message pushed to a feed client. Seq is
// monotonically increasing per server lifetime so clients can detect gaps
// after a reconnect.
type Frame struct {
	Type    string `json:"type"` // always "event"
	Event   string `json:"event"`
	Seq     int64  `json:"seq"`
	Payload any    `json:"payload,omitempty"`
}

// ConnectionStatePayload accompanies EventConnectionState frames.
type ConnectionStatePayload struct {
	Old string `json:"old"`
	New string `json:"new"`
}
