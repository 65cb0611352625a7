// Package tts defines the speech-synthesis collaborator contract.
package tts

import "context"

// StreamChunk is one chunk of synthesized audio. A chunk with Final set and
// no audio marks the end of an utterance.
type StreamChunk struct {
	Audio []byte
	Final bool
	Err   error
}

// Config configures a synthesis request.
type Config struct {
	Voice      string
	Speed      float64
	Format     string
	SampleRate int
}

// Provider synthesizes speech. SynthesizeStream returns a channel of audio
// chunks terminated by a Final chunk; the channel is closed once the
// utterance is complete or the context is cancelled.
type Provider interface {
	Name() string
	SynthesizeStream(ctx context.Context, text string, cfg Config) (<-chan StreamChunk, error)
}
