// Package backend abstracts the voice backend of a call: the component that
// turns recognized human speech into synthesized agent speech.
//
// Two interchangeable strategies implement the Adapter interface. Composed
// drives separate speech-to-text, conversation-engine, and speech-synthesis
// collaborators. Managed delegates all three to a single external
// conversational-voice service and only translates framing.
package backend

import (
	"context"
	"time"

	"github.com/agentplexus/voiceline/engine"
)

// ApologyUtterance is spoken when the backend cannot produce a real reply.
// The caller must hear something rather than silence or a hard disconnect.
const ApologyUtterance = "I'm sorry, I'm having trouble on my end. Could you say that again?"

// Chunk is synthesized agent audio tagged with the response index of the
// reply it belongs to. Indices are non-decreasing within a session. A Chunk
// with Final set and no audio marks the end of that reply's audio.
type Chunk struct {
	Index int
	Audio []byte
	Final bool
}

// EventType identifies an adapter event.
type EventType int

const (
	// EventUtteranceFragment is a partial transcript of caller speech.
	EventUtteranceFragment EventType = iota
	// EventUtteranceFinal is a completed caller utterance.
	EventUtteranceFinal
	// EventAgentReply carries the text of the agent's reply for a turn,
	// emitted before its audio starts streaming.
	EventAgentReply
	// EventAdaptation reports a persona or style change decided by the
	// conversation engine.
	EventAdaptation
	// EventInterrupt reports that the backend itself detected the caller
	// barging in (managed services do their own detection).
	EventInterrupt
	// EventError reports a per-turn backend fault. The session continues;
	// the caller hears an apology for the affected turn.
	EventError
)

// Event is a tagged adapter event.
type Event struct {
	Type EventType

	// Text is set for utterance events.
	Text string

	// Adaptation is set for EventAdaptation.
	Adaptation string

	// Turn is the correlation token of the affected turn, where known.
	Turn int

	// Err is set for EventError.
	Err error
}

// Config is the immutable per-call behavioral snapshot supplied at
// provisioning time.
type Config struct {
	// Prompt is the behavioral prompt for the conversation engine.
	Prompt string

	// Greeting is the opening utterance, spoken as response index zero.
	Greeting string

	// Capabilities is the capability set the engine may invoke.
	Capabilities []engine.Capability

	// Voice and audio format for synthesis.
	Voice      string
	Encoding   string
	SampleRate int

	// ReplyTimeout bounds how long a submitted utterance may wait for
	// backend audio before the adapter reports a fault.
	ReplyTimeout time.Duration
}

// DefaultReplyTimeout applies when Config.ReplyTimeout is zero.
const DefaultReplyTimeout = 15 * time.Second

// Adapter is one call's voice backend. All methods are safe for concurrent
// use; audio and events flow back on the Chunks and Events channels, which
// are closed by Close.
type Adapter interface {
	// Start initializes the backend for a call. On error the session still
	// opens the line; the caller hears ApologyUtterance via whatever path
	// remains available.
	Start(ctx context.Context, cfg Config) error

	// SubmitAudio forwards one inbound line-audio frame.
	SubmitAudio(frame []byte) error

	// SubmitUtterance requests a reply for a completed utterance. The turn
	// value correlates the eventual audio; replies for cancelled turns are
	// discarded, never replayed.
	SubmitUtterance(ctx context.Context, text string, turn int) error

	// Say synthesizes literal text at the given response index, bypassing
	// the conversation engine. Used for greetings and apologies.
	Say(ctx context.Context, text string, index int) error

	// Cancel stops in-flight synthesis for response indices at or above
	// from. It never cancels a conversation-engine request already in
	// transit; a late reply for a cancelled index is dropped.
	Cancel(from int)

	// Chunks returns the synthesized audio stream.
	Chunks() <-chan Chunk

	// Events returns the adapter event stream.
	Events() <-chan Event

	// Close terminates the backend and closes both channels. Safe to call
	// multiple times.
	Close() error
}
