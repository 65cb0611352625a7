package transport

// EventType identifies a transport event.
type EventType int

const (
	// EventConnected is emitted when the WebSocket handshake completes,
	// before the provider has announced the stream.
	EventConnected EventType = iota

	// EventStreamStart carries the stream and call identifiers assigned by
	// the telephony provider. Emitted exactly once per connection.
	EventStreamStart

	// EventMedia carries one inbound audio frame (decoded line audio).
	EventMedia

	// EventMark acknowledges that the line has played back the audio sent
	// before the named mark.
	EventMark

	// EventDTMF carries a single DTMF digit.
	EventDTMF

	// EventStop is emitted when the provider closes the media stream.
	EventStop

	// EventError carries a transport fault. The connection is unusable
	// afterwards.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventStreamStart:
		return "start"
	case EventMedia:
		return "media"
	case EventMark:
		return "mark"
	case EventDTMF:
		return "dtmf"
	case EventStop:
		return "stop"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a tagged transport event. Exactly the fields implied by Type are
// populated; consumers switch on Type exhaustively.
type Event struct {
	Type EventType

	// StreamSID and CallSID are set for EventStreamStart.
	StreamSID string
	CallSID   string

	// CustomParams carries provider custom parameters from the start
	// message, if any.
	CustomParams map[string]string

	// Audio is set for EventMedia.
	Audio []byte

	// Label is set for EventMark.
	Label string

	// Digit is set for EventDTMF.
	Digit string

	// Err is set for EventError.
	Err error
}

// Channel is one duplex, ordered, message-based media connection to the
// telephony side. Implementations deliver inbound events in arrival order
// and serialize outbound commands.
type Channel interface {
	// Events returns the inbound event stream. The channel is closed when
	// the connection terminates.
	Events() <-chan Event

	// PlayAudio queues one chunk of outbound audio for the line.
	PlayAudio(audio []byte) error

	// SendMark asks the line to echo the label back once all audio queued
	// before it has been played.
	SendMark(label string) error

	// Clear discards any audio the line has buffered but not yet played.
	// Clearing an already-drained line is a no-op on the provider side.
	Clear() error

	// StreamSID returns the media connection identifier, empty until the
	// start message arrives.
	StreamSID() string

	// CallSID returns the call identifier, empty until the start message
	// arrives.
	CallSID() string

	// Close tears down the connection. Safe to call multiple times.
	Close() error
}
