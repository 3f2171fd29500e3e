package stream

// Wire event discriminators. The gateway frames every message as a JSON
// envelope with an "event" field; the remaining fields are event-specific.
const (
	// Outbound.
	EventBrowserConnect = "browser_connect"
	EventBrowserAudio   = "browser_audio"
	EventPing           = "ping"

	// Inbound.
	EventStreamStart           = "streamStart"
	EventStreamStop            = "streamStop"
	EventAudio                 = "audio"
	EventMark                  = "mark"
	EventDTMF                  = "dtmf"
	EventPong                  = "pong"
	EventConnectionEstablished = "connection_established"
	EventBrowserConnected      = "browser_connected"
)

// Envelope is the JSON frame exchanged with the media-stream gateway.
// Fields beyond Event are populated per event type and omitted otherwise.
type Envelope struct {
	Event     string `json:"event"`
	Payload   string `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	StreamSID string `json:"streamSid,omitempty"`
	CallSID   string `json:"callSid,omitempty"`
	Format    string `json:"format,omitempty"`
	Name      string `json:"name,omitempty"`
	Digit     string `json:"digit,omitempty"`
}

// Status is a point-in-time snapshot of the channel. It is recomputed on
// every call and never mutated in place.
type Status struct {
	Connected    bool   `json:"connected"`
	StreamActive bool   `json:"streamActive"`
	StreamID     string `json:"streamId,omitempty"`
	CallID       string `json:"callId,omitempty"`
}
