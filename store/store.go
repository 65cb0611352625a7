// Package store defines the persistence collaborator: one-way sinks for
// call lifecycle records. Emission failures are logged by callers and never
// retried synchronously against a live call.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups for unknown calls.
var ErrNotFound = errors.New("store: call not found")

// CallRecord describes a call at start or end.
type CallRecord struct {
	CallID       string        `json:"call_id"`
	StreamID     string        `json:"stream_id,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Interactions int           `json:"interactions"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// TranscriptRecord is one utterance, caller or agent side.
type TranscriptRecord struct {
	ID     string    `json:"id"`
	CallID string    `json:"call_id"`
	Role   string    `json:"role"` // "caller" or "agent"
	Turn   int       `json:"turn"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// AdaptationRecord reports a persona or style change during a call.
type AdaptationRecord struct {
	CallID     string    `json:"call_id"`
	Turn       int       `json:"turn"`
	Adaptation string    `json:"adaptation"`
	At         time.Time `json:"at"`
}

// Recorder receives call lifecycle records.
type Recorder interface {
	CallStarted(ctx context.Context, rec CallRecord) error
	Transcript(ctx context.Context, rec TranscriptRecord) error
	AdaptationChanged(ctx context.Context, rec AdaptationRecord) error
	CallEnded(ctx context.Context, rec CallRecord) error
	Close() error
}
