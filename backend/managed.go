package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Verify interface compliance at compile time.
var _ Adapter = (*Managed)(nil)

// Managed implements Adapter against a single external conversational-voice
// service that performs recognition, reasoning, and synthesis together. The
// adapter only translates between line-audio framing and the service's
// message framing, including keep-alive acknowledgment.
type Managed struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	log       *slog.Logger
	handshake time.Duration

	chunks chan Chunk
	events chan Event

	mu       sync.Mutex
	ws       *websocket.Conn
	cfg      Config
	started  bool
	looping  bool
	timers   map[int]*time.Timer
	outbound chan serviceMessage
	ready    chan struct{}
	done     chan struct{}
	once     sync.Once
}

// ManagedOption configures a Managed adapter.
type ManagedOption func(*Managed)

// WithManagedLogger sets the adapter logger.
func WithManagedLogger(log *slog.Logger) ManagedOption {
	return func(m *Managed) {
		m.log = log
	}
}

// WithManagedHeader sets HTTP headers for the service handshake, typically
// authorization.
func WithManagedHeader(header http.Header) ManagedOption {
	return func(m *Managed) {
		m.header = header
	}
}

// WithHandshakeTimeout bounds the dial plus session-ready wait.
func WithHandshakeTimeout(d time.Duration) ManagedOption {
	return func(m *Managed) {
		m.handshake = d
	}
}

// NewManaged creates a managed-conversational adapter for the service at
// the given WebSocket URL.
func NewManaged(url string, opts ...ManagedOption) *Managed {
	m := &Managed{
		url:       url,
		log:       slog.Default(),
		dialer:    websocket.DefaultDialer,
		handshake: 5 * time.Second,
		chunks:    make(chan Chunk, 64),
		events:    make(chan Event, 32),
		timers:    make(map[int]*time.Timer),
		outbound:  make(chan serviceMessage, 64),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// serviceMessage is the closed set of frames exchanged with the service.
type serviceMessage struct {
	Type string `json:"type"`

	// session.start (out)
	Prompt     string `json:"prompt,omitempty"`
	Greeting   string `json:"greeting,omitempty"`
	Voice      string `json:"voice,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`

	// audio (both directions), base64.
	Payload string `json:"payload,omitempty"`

	// utterance/say/cancel/audio correlation.
	Text string `json:"text,omitempty"`
	Turn int    `json:"turn,omitempty"`

	// audio (in): end-of-utterance marker.
	Final bool `json:"final,omitempty"`

	// error (in).
	Message string `json:"message,omitempty"`
}

// Start dials the service and performs the session handshake. A handshake
// failure leaves the adapter unusable; the session still opens the line and
// plays the fallback apology through other means.
func (m *Managed) Start(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("adapter already started")
	}
	m.mu.Unlock()

	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}

	dialCtx, done := context.WithTimeout(ctx, m.handshake)
	defer done()

	ws, resp, err := m.dialer.DialContext(dialCtx, m.url, m.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial conversational service: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial conversational service: %w", err)
	}

	m.mu.Lock()
	m.ws = ws
	m.cfg = cfg
	m.started = true
	m.looping = true
	m.mu.Unlock()

	go m.readLoop()
	go m.writeLoop()

	m.enqueue(serviceMessage{
		Type:       "session.start",
		Prompt:     cfg.Prompt,
		Greeting:   cfg.Greeting,
		Voice:      cfg.Voice,
		Encoding:   cfg.Encoding,
		SampleRate: cfg.SampleRate,
	})

	select {
	case <-m.ready:
		return nil
	case <-dialCtx.Done():
		_ = m.Close()
		return fmt.Errorf("conversational service handshake: %w", dialCtx.Err())
	case <-m.done:
		return fmt.Errorf("conversational service closed during handshake")
	}
}

// SubmitAudio forwards one line-audio frame to the service.
func (m *Managed) SubmitAudio(frame []byte) error {
	if !m.isStarted() {
		return fmt.Errorf("adapter not started")
	}
	m.enqueue(serviceMessage{
		Type:    "audio",
		Payload: base64.StdEncoding.EncodeToString(frame),
	})
	return nil
}

// SubmitUtterance injects a recognized utterance as text. Managed services
// usually recognize speech themselves; this path covers text injection and
// replays.
func (m *Managed) SubmitUtterance(ctx context.Context, text string, turn int) error {
	if !m.isStarted() {
		return fmt.Errorf("adapter not started")
	}
	m.enqueue(serviceMessage{Type: "utterance", Text: text, Turn: turn})
	m.armReplyTimer(turn)
	return nil
}

// armReplyTimer starts the per-turn reply deadline. A service that accepts
// an utterance and then goes silent must still produce a fault the session
// can apologize for.
func (m *Managed) armReplyTimer(turn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[turn]; ok {
		t.Stop()
	}
	timeout := m.cfg.ReplyTimeout
	m.timers[turn] = time.AfterFunc(timeout, func() {
		m.mu.Lock()
		delete(m.timers, turn)
		m.mu.Unlock()
		m.emit(Event{Type: EventError, Turn: turn,
			Err: fmt.Errorf("no reply from conversational service within %s", timeout)})
	})
}

// disarmReplyTimer stops the deadline for a turn that got its reply.
func (m *Managed) disarmReplyTimer(turn int) {
	m.mu.Lock()
	if t, ok := m.timers[turn]; ok {
		t.Stop()
		delete(m.timers, turn)
	}
	m.mu.Unlock()
}

// Say asks the service to speak literal text at the given response index.
func (m *Managed) Say(ctx context.Context, text string, index int) error {
	if !m.isStarted() {
		return fmt.Errorf("adapter not started")
	}
	m.enqueue(serviceMessage{Type: "say", Text: text, Turn: index})
	return nil
}

// Cancel asks the service to stop synthesizing indices at or above from.
// Reply deadlines for cancelled turns are dropped with them.
func (m *Managed) Cancel(from int) {
	if !m.isStarted() {
		return
	}
	m.mu.Lock()
	for turn, t := range m.timers {
		if turn >= from {
			t.Stop()
			delete(m.timers, turn)
		}
	}
	m.mu.Unlock()
	m.enqueue(serviceMessage{Type: "cancel", Turn: from})
}

// Chunks returns the synthesized audio stream.
func (m *Managed) Chunks() <-chan Chunk {
	return m.chunks
}

// Events returns the adapter event stream.
func (m *Managed) Events() <-chan Event {
	return m.events
}

// Close terminates the service connection and closes both channels.
func (m *Managed) Close() error {
	m.once.Do(func() {
		close(m.done)

		m.mu.Lock()
		ws := m.ws
		looping := m.looping
		for turn, t := range m.timers {
			t.Stop()
			delete(m.timers, turn)
		}
		m.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		// If the read loop never started (dial failure), it cannot close
		// the output channels; do it here so consumers unblock.
		if !looping {
			close(m.chunks)
			close(m.events)
		}
	})
	return nil
}

func (m *Managed) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Managed) enqueue(msg serviceMessage) {
	select {
	case m.outbound <- msg:
	case <-m.done:
	}
}

func (m *Managed) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Managed) send(chunk Chunk) {
	select {
	case m.chunks <- chunk:
	case <-m.done:
	}
}

// readLoop translates service frames into chunks and events. It owns both
// output channels and closes them on exit.
func (m *Managed) readLoop() {
	defer func() {
		_ = m.Close()
		close(m.chunks)
		close(m.events)
	}()

	for {
		var msg serviceMessage
		if err := m.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.emit(Event{Type: EventError, Err: err})
			}
			return
		}

		switch msg.Type {
		case "session.ready":
			select {
			case <-m.ready:
			default:
				close(m.ready)
			}

		case "ping":
			// Keep-alive: the service drops sessions that do not answer.
			m.enqueue(serviceMessage{Type: "pong"})

		case "audio":
			audio, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				m.log.Debug("dropping undecodable service audio", "turn", msg.Turn)
				continue
			}
			m.disarmReplyTimer(msg.Turn)
			m.send(Chunk{Index: msg.Turn, Audio: audio, Final: msg.Final})

		case "transcript":
			ev := Event{Type: EventUtteranceFragment, Text: msg.Text}
			if msg.Final {
				ev.Type = EventUtteranceFinal
			}
			m.emit(ev)

		case "reply":
			m.disarmReplyTimer(msg.Turn)
			m.emit(Event{Type: EventAgentReply, Text: msg.Text, Turn: msg.Turn})

		case "adaptation":
			m.emit(Event{Type: EventAdaptation, Adaptation: msg.Text, Turn: msg.Turn})

		case "interrupted":
			m.emit(Event{Type: EventInterrupt, Turn: msg.Turn})

		case "error":
			m.disarmReplyTimer(msg.Turn)
			m.emit(Event{Type: EventError, Turn: msg.Turn, Err: fmt.Errorf("conversational service: %s", msg.Message)})

		default:
			m.log.Debug("dropping unknown service frame", "type", msg.Type)
		}
	}
}

// writeLoop serializes all outbound frames. A single writer goroutine is
// required by the underlying connection.
func (m *Managed) writeLoop() {
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.outbound:
			if err := m.ws.WriteJSON(msg); err != nil {
				_ = m.Close()
				return
			}
		}
	}
}
