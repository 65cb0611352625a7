// Package voiceline is a real-time voice-agent call orchestration engine
// for Twilio Media Streams.
//
// It owns a phone call's lifecycle from the moment the bidirectional media
// connection opens until it closes: audio relay in both directions, barge-in
// detection, ordered playback of synthesized speech, and adaptive
// conversational behavior per interaction.
//
// Packages:
//   - transport: duplex media-frame channel over a Media Streams WebSocket
//   - backend: voice backend adapters (composed STT→LLM→TTS and managed)
//   - session: call session manager, playback sequencer, barge-in detector,
//     and the process-wide session registry
//   - callsystem: PSTN call control (placement, webhooks, status callbacks)
//   - store: call/transcript record sinks (in-memory, Redis)
//   - notify: operator-facing status notifications
//
// # Environment Variables
//
//	TWILIO_ACCOUNT_SID - Twilio Account SID
//	TWILIO_AUTH_TOKEN  - Twilio Auth Token
//
// # Quick Start
//
//	tr, _ := transport.New()
//	http.HandleFunc("/media-stream", func(w http.ResponseWriter, r *http.Request) {
//	    _ = tr.HandleWebSocket(w, r)
//	})
//	for line := range tr.Accepted() {
//	    go session.Serve(ctx, line, deps)
//	}
package voiceline

// Version is the module version.
const Version = "0.1.0"

// Audio format constants for Media Streams.
const (
	// AudioEncodingMulaw is the μ-law encoding (8-bit, 8kHz).
	AudioEncodingMulaw = "audio/x-mulaw"

	// AudioEncodingPCM is the PCM encoding (16-bit, 8kHz).
	AudioEncodingPCM = "audio/x-l16"

	// DefaultSampleRate is the default sample rate for Twilio audio (8kHz).
	DefaultSampleRate = 8000
)

// Call status constants as reported by the telephony provider.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)
