package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentplexus/voiceline/backend"
	"github.com/agentplexus/voiceline/engine"
	"github.com/agentplexus/voiceline/notify"
	"github.com/agentplexus/voiceline/store"
	"github.com/agentplexus/voiceline/transport"
)

// State is the lifecycle phase of a call session.
type State int

const (
	// StateAwaitingStream means the session exists but the media stream has
	// not announced itself yet.
	StateAwaitingStream State = iota

	// StateStreaming means media is flowing and the backend is serving the
	// conversation.
	StateStreaming

	// StateEnded is terminal.
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingStream:
		return "awaiting-stream"
	case StateStreaming:
		return "streaming"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Config is the per-call behavioral snapshot fixed at provisioning time. It
// never changes for the lifetime of the session.
type Config struct {
	// Prompt and Greeting shape the agent. The greeting is spoken as
	// response index zero as soon as the stream starts.
	Prompt   string
	Greeting string

	// Capabilities the conversation engine may invoke.
	Capabilities []engine.Capability

	// Voice and audio format for synthesis.
	Voice      string
	Encoding   string
	SampleRate int

	// ReplyTimeout bounds each backend turn.
	ReplyTimeout time.Duration

	// FallbackAudio is a pre-rendered apology clip, played directly on the
	// line when the backend is down and cannot even synthesize an apology.
	FallbackAudio []byte

	// Recipient receives status notifications for this call, if set.
	Recipient string
}

const (
	// reportTimeout bounds each fire-and-forget record or notification
	// emission.
	reportTimeout = 5 * time.Second

	// drainTimeout bounds how long a graceful shutdown waits for the line
	// to acknowledge outstanding playback marks.
	drainTimeout = 5 * time.Second
)

// Manager owns one call session end to end: it reacts to line events,
// drives the backend adapter, sequences playback, detects barge-in, and
// emits lifecycle records. All exported methods are safe for concurrent
// use.
type Manager struct {
	callID  string
	line    transport.Channel
	adapter backend.Adapter
	cfg     Config

	marks *MarkSet
	seq   *Sequencer
	det   *Detector

	recorder   store.Recorder
	notifier   notify.Notifier
	log        *slog.Logger
	clock      func() time.Time
	unregister func()

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	adapterUp    bool
	streamSID    string
	interactions int
	startedAt    time.Time
	draining     bool
	drained      chan struct{}

	wg   sync.WaitGroup
	once sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder sets the lifecycle record sink.
func WithRecorder(rec store.Recorder) ManagerOption {
	return func(m *Manager) {
		m.recorder = rec
	}
}

// WithNotifier sets the status notification sink.
func WithNotifier(n notify.Notifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithContext sets the parent context for the session's background work.
func WithContext(ctx context.Context) ManagerOption {
	return func(m *Manager) {
		m.ctx, m.cancel = context.WithCancel(ctx)
	}
}

// WithUnregister sets a callback invoked exactly once when the session
// closes, typically to remove it from a registry.
func WithUnregister(fn func()) ManagerOption {
	return func(m *Manager) {
		m.unregister = fn
	}
}

// WithManagerBargeInThreshold overrides the barge-in fragment length.
func WithManagerBargeInThreshold(runes int) ManagerOption {
	return func(m *Manager) {
		m.det = NewDetector(m.line, m.seq, m.marks,
			WithBargeInThreshold(runes), WithDetectorLogger(m.log))
	}
}

// NewManager creates a session manager for one call over the given line and
// backend adapter.
func NewManager(callID string, line transport.Channel, adapter backend.Adapter, cfg Config, opts ...ManagerOption) *Manager {
	marks := NewMarkSet()
	m := &Manager{
		callID:  callID,
		line:    line,
		adapter: adapter,
		cfg:     cfg,
		marks:   marks,
		log:     slog.Default(),
		clock:   time.Now,
		state:   StateAwaitingStream,
		drained: make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.seq = NewSequencer(line, marks, m.log)
	m.det = NewDetector(line, m.seq, marks, WithDetectorLogger(m.log))
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("call", callID)
	return m
}

// CallID returns the call identifier.
func (m *Manager) CallID() string {
	return m.callID
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Interactions returns the number of completed caller turns so far.
func (m *Manager) Interactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interactions
}

// Open transitions the session to streaming when the media stream announces
// itself. A duplicate start announcement is ignored; the first one wins. If
// the backend fails to start, the session stays open and the caller hears
// an apology instead of silence.
func (m *Manager) Open(streamSID, callSID string) {
	m.mu.Lock()
	if m.state != StateAwaitingStream {
		m.mu.Unlock()
		m.log.Warn("ignoring duplicate stream start", "streamSid", streamSID)
		return
	}
	m.state = StateStreaming
	m.streamSID = streamSID
	m.startedAt = m.clock()
	startedAt := m.startedAt
	m.mu.Unlock()

	m.log.Info("stream started", "streamSid", streamSID, "callSid", callSID)

	err := m.adapter.Start(m.ctx, backend.Config{
		Prompt:       m.cfg.Prompt,
		Greeting:     m.cfg.Greeting,
		Capabilities: m.cfg.Capabilities,
		Voice:        m.cfg.Voice,
		Encoding:     m.cfg.Encoding,
		SampleRate:   m.cfg.SampleRate,
		ReplyTimeout: m.cfg.ReplyTimeout,
	})

	m.mu.Lock()
	m.adapterUp = err == nil
	m.mu.Unlock()

	m.wg.Add(2)
	go m.pumpChunks()
	go m.pumpEvents()

	if err != nil {
		m.log.Error("backend start failed", "error", err)
		m.apologize(0)
	} else if m.cfg.Greeting != "" {
		if err := m.adapter.Say(m.ctx, m.cfg.Greeting, 0); err != nil {
			m.log.Warn("greeting failed", "error", err)
		}
	}

	m.report("call-started", func(ctx context.Context) error {
		if m.recorder == nil {
			return nil
		}
		return m.recorder.CallStarted(ctx, store.CallRecord{
			CallID:    m.callID,
			StreamID:  streamSID,
			StartedAt: startedAt,
		})
	})
	m.notifyAsync(fmt.Sprintf("call %s connected", m.callID))
}

// OnMediaFrame forwards one inbound audio frame to the backend. Frames
// arriving outside the streaming phase, or while the backend is down, are
// dropped.
func (m *Manager) OnMediaFrame(frame []byte) {
	m.mu.Lock()
	ok := m.state == StateStreaming && m.adapterUp
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.adapter.SubmitAudio(frame); err != nil {
		m.log.Debug("audio frame dropped", "error", err)
	}
}

// OnMarkAck handles a playback acknowledgment from the line. An unknown
// label means the line confirmed something already discarded; that is
// logged and otherwise ignored.
func (m *Manager) OnMarkAck(label string) {
	if !m.marks.Ack(label) {
		m.log.Warn("acknowledgment for unknown mark", "label", label)
		return
	}

	m.mu.Lock()
	drained := m.draining && m.marks.Len() == 0
	if drained {
		m.draining = false
	}
	m.mu.Unlock()

	if drained {
		close(m.drained)
	}
}

// OnDTMF records a keypad digit. Digits do not interrupt playback.
func (m *Manager) OnDTMF(digit string) {
	m.log.Info("dtmf received", "digit", digit)
}

// Shutdown ends the session gracefully: it stops accepting input, waits
// briefly for the line to acknowledge outstanding playback, then closes.
func (m *Manager) Shutdown(reason string) {
	m.mu.Lock()
	if m.state == StateEnded {
		m.mu.Unlock()
		return
	}
	outstanding := m.marks.Len()
	if outstanding > 0 {
		m.draining = true
	}
	m.mu.Unlock()

	if outstanding > 0 {
		select {
		case <-m.drained:
		case <-time.After(drainTimeout):
			m.log.Warn("shutdown drain timed out", "outstanding", m.marks.Len())
		case <-m.ctx.Done():
		}
	}
	m.Close(reason)
}

// Close terminates the session immediately. Outstanding marks are
// discarded, buffered playback is dropped, and the line and backend are
// torn down. Safe to call multiple times.
func (m *Manager) Close(reason string) {
	m.once.Do(func() {
		m.mu.Lock()
		m.state = StateEnded
		m.adapterUp = false
		interactions := m.interactions
		startedAt := m.startedAt
		streamSID := m.streamSID
		m.mu.Unlock()

		m.log.Info("session closing", "reason", reason, "interactions", interactions)

		discarded := m.marks.Clear()
		if discarded > 0 {
			m.log.Debug("discarding unacknowledged marks", "count", discarded)
		}
		m.seq.Reset()

		_ = m.adapter.Close()
		_ = m.line.Close()
		m.cancel()

		endedAt := m.clock()
		var duration time.Duration
		if !startedAt.IsZero() {
			duration = endedAt.Sub(startedAt)
		}
		m.emitFinal("call-ended", func(ctx context.Context) error {
			if m.recorder == nil {
				return nil
			}
			return m.recorder.CallEnded(ctx, store.CallRecord{
				CallID:       m.callID,
				StreamID:     streamSID,
				Reason:       reason,
				Interactions: interactions,
				StartedAt:    startedAt,
				EndedAt:      endedAt,
				Duration:     duration,
			})
		})
		if m.notifier != nil && m.cfg.Recipient != "" {
			m.emitFinal("call-ended notification", func(ctx context.Context) error {
				return m.notifier.Notify(ctx, m.cfg.Recipient,
					fmt.Sprintf("call %s ended (%s) after %d interactions", m.callID, reason, interactions))
			})
		}

		if m.unregister != nil {
			m.unregister()
		}
	})
	m.wg.Wait()
}

// pumpChunks forwards synthesized audio from the backend to the playback
// sequencer until the adapter closes its chunk channel.
func (m *Manager) pumpChunks() {
	defer m.wg.Done()
	for chunk := range m.adapter.Chunks() {
		m.seq.Enqueue(chunk.Index, chunk.Audio, chunk.Final)
	}
}

// pumpEvents reacts to backend events until the adapter closes its event
// channel.
func (m *Manager) pumpEvents() {
	defer m.wg.Done()
	for ev := range m.adapter.Events() {
		switch ev.Type {
		case backend.EventUtteranceFragment:
			m.onFragment(ev.Text)
		case backend.EventUtteranceFinal:
			m.onUtterance(ev.Text)
		case backend.EventAgentReply:
			m.recordTranscript("agent", ev.Turn, ev.Text)
		case backend.EventAdaptation:
			m.onAdaptation(ev.Turn, ev.Adaptation)
		case backend.EventInterrupt:
			m.onBackendInterrupt()
		case backend.EventError:
			m.log.Error("backend fault", "turn", ev.Turn, "error", ev.Err)
			m.apologize(ev.Turn)
		}
	}
}

// onFragment runs barge-in detection on a partial transcript and, when the
// caller has spoken over the agent, propagates the cancellation to the
// backend.
func (m *Manager) onFragment(text string) {
	from, cleared := m.det.OnFragment(text)
	if !cleared {
		return
	}
	m.log.Info("caller barge-in", "from", from)
	m.adapter.Cancel(from)
}

// onUtterance handles a completed caller utterance: it assigns the next
// turn, records the transcript, and asks the backend for a reply.
func (m *Manager) onUtterance(text string) {
	m.mu.Lock()
	if m.state != StateStreaming || !m.adapterUp {
		m.mu.Unlock()
		return
	}
	m.interactions++
	turn := m.interactions
	m.mu.Unlock()

	m.log.Info("caller utterance", "turn", turn, "text", text)
	m.recordTranscript("caller", turn, text)

	if err := m.adapter.SubmitUtterance(m.ctx, text, turn); err != nil {
		m.log.Error("utterance submission failed", "turn", turn, "error", err)
		m.apologize(turn)
	}
}

// onAdaptation records a persona change and notifies the recipient.
func (m *Manager) onAdaptation(turn int, adaptation string) {
	m.log.Info("persona adapted", "turn", turn, "adaptation", adaptation)
	m.report("adaptation", func(ctx context.Context) error {
		if m.recorder == nil {
			return nil
		}
		return m.recorder.AdaptationChanged(ctx, store.AdaptationRecord{
			CallID:     m.callID,
			Turn:       turn,
			Adaptation: adaptation,
			At:         m.clock(),
		})
	})
	m.notifyAsync(fmt.Sprintf("call %s: persona adapted to %q", m.callID, adaptation))
}

// onBackendInterrupt clears local playback after a managed backend detected
// the barge-in on its side.
func (m *Manager) onBackendInterrupt() {
	from := m.seq.CancelInFlight()
	if err := m.line.Clear(); err != nil {
		m.log.Debug("clear-playback failed", "error", err)
	}
	m.marks.Clear()
	m.log.Info("backend-detected barge-in", "from", from)
}

// apologize makes sure the caller hears something after a backend fault.
// It prefers live synthesis; when the backend cannot even do that, it plays
// the pre-rendered fallback clip directly.
func (m *Manager) apologize(index int) {
	m.mu.Lock()
	up := m.adapterUp
	m.mu.Unlock()

	if up {
		if err := m.adapter.Say(m.ctx, backend.ApologyUtterance, index); err == nil {
			return
		}
	}
	if len(m.cfg.FallbackAudio) == 0 {
		m.log.Warn("no fallback audio configured, caller hears silence")
		return
	}
	m.seq.Enqueue(index, m.cfg.FallbackAudio, true)
}

// recordTranscript emits one transcript record without blocking the call.
func (m *Manager) recordTranscript(role string, turn int, text string) {
	m.report("transcript", func(ctx context.Context) error {
		if m.recorder == nil {
			return nil
		}
		return m.recorder.Transcript(ctx, store.TranscriptRecord{
			ID:     uuid.NewString(),
			CallID: m.callID,
			Role:   role,
			Turn:   turn,
			Text:   text,
			At:     m.clock(),
		})
	})
}

// report runs one record emission in the background with a bounded
// deadline. Failures are logged and never retried; persistence must not
// stall a live call.
func (m *Manager) report(what string, fn func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, done := context.WithTimeout(context.Background(), reportTimeout)
		defer done()
		if err := fn(ctx); err != nil {
			m.log.Warn("record emission failed", "record", what, "error", err)
		}
	}()
}

// emitFinal is report without the session wait group, for emissions issued
// during Close itself.
func (m *Manager) emitFinal(what string, fn func(ctx context.Context) error) {
	ctx, done := context.WithTimeout(context.Background(), reportTimeout)
	defer done()
	if err := fn(ctx); err != nil {
		m.log.Warn("record emission failed", "record", what, "error", err)
	}
}

func (m *Manager) notifyAsync(message string) {
	if m.notifier == nil || m.cfg.Recipient == "" {
		return
	}
	m.report("notification", func(ctx context.Context) error {
		return m.notifier.Notify(ctx, m.cfg.Recipient, message)
	})
}
