// Package stt defines the speech-to-text collaborator contract.
//
// Recognizers consume streamed line audio and emit partial and final
// utterance events. Implementations live outside this module; the Twilio
// real-time transcription parser in this package adapts the provider's
// webhook payloads to the same event stream.
package stt

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// EventType identifies a recognition event.
type EventType int

const (
	// EventFragment is a partial, still-changing transcript.
	EventFragment EventType = iota
	// EventFinal is a completed utterance.
	EventFinal
	// EventError carries a recognizer fault.
	EventError
)

// StreamEvent is one recognition result on a streaming session.
type StreamEvent struct {
	Type       EventType
	Text       string
	Confidence float64
	Err        error
}

// Config configures a streaming transcription session.
type Config struct {
	Language   string
	Model      string
	Encoding   string
	SampleRate int
}

// Provider is a streaming speech recognizer. Audio bytes written to the
// returned writer are transcribed asynchronously; events arrive on the
// returned channel, which is closed when the writer is closed.
type Provider interface {
	Name() string
	TranscribeStream(ctx context.Context, cfg Config) (io.WriteCloser, <-chan StreamEvent, error)
}

// TranscriptionEvent is a real-time transcription callback payload from
// Twilio Media Streams.
type TranscriptionEvent struct {
	Type       string    `json:"type"`
	Transcript string    `json:"transcript"`
	Confidence float64   `json:"confidence"`
	IsFinal    bool      `json:"is_final"`
	Language   string    `json:"language"`
	StartTime  float64   `json:"start_time"`
	EndTime    float64   `json:"end_time"`
	Timestamp  time.Time `json:"timestamp"`
}

// ParseTranscriptionEvent parses a real-time transcription payload.
func ParseTranscriptionEvent(data []byte) (*TranscriptionEvent, error) {
	var event TranscriptionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ToStreamEvent converts a provider transcription event to a StreamEvent.
func (e *TranscriptionEvent) ToStreamEvent() StreamEvent {
	ev := StreamEvent{
		Type:       EventFragment,
		Text:       e.Transcript,
		Confidence: e.Confidence,
	}
	if e.IsFinal {
		ev.Type = EventFinal
	}
	return ev
}
