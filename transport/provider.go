// Package transport implements the Channel abstraction over Twilio Media
// Streams WebSocket connections.
package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Verify interface compliance at compile time.
var _ Channel = (*Connection)(nil)

// Provider accepts Media Streams WebSocket connections and exposes each one
// as a Channel.
type Provider struct {
	log *slog.Logger

	mu          sync.RWMutex
	connections map[string]*Connection
	accepted    chan Channel
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	log     *slog.Logger
	backlog int
}

// WithLogger sets the logger used for transport faults.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithBacklog sets the accepted-connection queue depth.
func WithBacklog(n int) Option {
	return func(o *options) {
		o.backlog = n
	}
}

// New creates a Media Streams transport provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{
		log:     slog.Default(),
		backlog: 16,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Provider{
		log:         cfg.log,
		connections: make(map[string]*Connection),
		accepted:    make(chan Channel, cfg.backlog),
	}, nil
}

// Name returns the transport name.
func (p *Provider) Name() string {
	return "twilio-media-streams"
}

// Accepted returns the stream of connections established via
// HandleWebSocket. Consumers own each Channel's lifecycle from then on.
func (p *Provider) Accepted() <-chan Channel {
	return p.accepted
}

// HandleWebSocket upgrades an incoming Media Streams request and starts the
// connection's read and write loops. Call it from the HTTP handler bound to
// the stream URL advertised in TwiML.
func (p *Provider) HandleWebSocket(w http.ResponseWriter, r *http.Request) error {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	conn := &Connection{
		wsConn:   wsConn,
		provider: p,
		events:   make(chan Event, 256),
		outbound: make(chan wireMessage, 256),
		done:     make(chan struct{}),
		log:      p.log,
	}

	go conn.readLoop()
	go conn.writeLoop()

	select {
	case p.accepted <- conn:
	default:
		_ = conn.Close()
		return fmt.Errorf("connection backlog full")
	}

	return nil
}

// Lookup returns the active connection for a stream SID, if any.
func (p *Provider) Lookup(streamSID string) (Channel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.connections[streamSID]
	return conn, ok
}

// Close tears down all active connections.
func (p *Provider) Close() error {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.connections))
	for _, conn := range p.connections {
		conns = append(conns, conn)
	}
	p.connections = make(map[string]*Connection)
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}

// Connection implements Channel over one Media Streams WebSocket.
type Connection struct {
	wsConn   *websocket.Conn
	provider *Provider
	events   chan Event
	outbound chan wireMessage
	done     chan struct{}
	log      *slog.Logger

	mu        sync.RWMutex
	streamSID string
	callSID   string
	closed    bool
	closeOnce sync.Once
}

// StreamSID returns the media connection identifier.
func (c *Connection) StreamSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSID
}

// CallSID returns the associated call identifier.
func (c *Connection) CallSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSID
}

// Events returns the inbound event stream.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// PlayAudio queues one outbound audio chunk.
func (c *Connection) PlayAudio(audio []byte) error {
	payload := base64.StdEncoding.EncodeToString(audio)
	return c.send(wireMessage{
		Event:     "media",
		StreamSID: c.StreamSID(),
		Media:     &outboundMedia{Payload: payload},
	})
}

// SendMark sends a playback synchronization mark.
func (c *Connection) SendMark(label string) error {
	return c.send(wireMessage{
		Event:     "mark",
		StreamSID: c.StreamSID(),
		Mark:      &markPayload{Name: label},
	})
}

// Clear discards the line's buffered outbound audio.
func (c *Connection) Clear() error {
	return c.send(wireMessage{
		Event:     "clear",
		StreamSID: c.StreamSID(),
	})
}

func (c *Connection) send(msg wireMessage) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("connection closed")
	}

	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

// Close closes the connection and its event stream.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		streamSID := c.streamSID
		c.mu.Unlock()

		close(c.done)
		_ = c.wsConn.Close()

		if streamSID != "" {
			c.provider.mu.Lock()
			delete(c.provider.connections, streamSID)
			c.provider.mu.Unlock()
		}
	})
	return nil
}

// Media Streams wire messages. One envelope covers both directions; the
// Event discriminator selects which payload is present.
type wireMessage struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid,omitempty"`
	Start     *startPayload  `json:"start,omitempty"`
	Media     *outboundMedia `json:"media,omitempty"`
	Mark      *markPayload   `json:"mark,omitempty"`
	DTMF      *dtmfPayload   `json:"dtmf,omitempty"`
}

type inboundMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *inboundMedia `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	DTMF      *dtmfPayload  `json:"dtmf,omitempty"`
}

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  mediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type inboundMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 encoded audio
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

type dtmfPayload struct {
	Digit string `json:"digit"`
}

// decodeEvent translates one inbound wire message into a tagged Event.
// Malformed messages yield (Event{}, false) and are dropped by the caller.
func decodeEvent(data []byte) (Event, bool) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}

	switch msg.Event {
	case "connected":
		return Event{Type: EventConnected}, true

	case "start":
		if msg.Start == nil {
			return Event{}, false
		}
		return Event{
			Type:         EventStreamStart,
			StreamSID:    msg.Start.StreamSID,
			CallSID:      msg.Start.CallSID,
			CustomParams: msg.Start.CustomParams,
		}, true

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return Event{}, false
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return Event{}, false
		}
		return Event{Type: EventMedia, Audio: audio}, true

	case "mark":
		if msg.Mark == nil {
			return Event{}, false
		}
		return Event{Type: EventMark, Label: msg.Mark.Name}, true

	case "dtmf":
		if msg.DTMF == nil {
			return Event{}, false
		}
		return Event{Type: EventDTMF, Digit: msg.DTMF.Digit}, true

	case "stop":
		return Event{Type: EventStop}, true
	}

	return Event{}, false
}

// readLoop reads messages from the WebSocket and emits tagged events. It is
// the only goroutine that sends on or closes the event channel.
func (c *Connection) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.events)
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.wsConn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(Event{Type: EventError, Err: err})
			}
			return
		}

		ev, ok := decodeEvent(data)
		if !ok {
			// Transport fault policy: drop the frame, keep the session.
			c.log.Debug("dropping malformed media-stream message")
			continue
		}

		if ev.Type == EventStreamStart {
			c.mu.Lock()
			c.streamSID = ev.StreamSID
			c.callSID = ev.CallSID
			c.mu.Unlock()

			c.provider.mu.Lock()
			c.provider.connections[ev.StreamSID] = c
			c.provider.mu.Unlock()
		}

		c.emit(ev)

		if ev.Type == EventStop {
			return
		}
	}
}

func (c *Connection) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// writeLoop serializes all outbound commands onto the WebSocket. A single
// writer goroutine is required by the underlying connection.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbound:
			if err := c.wsConn.WriteJSON(msg); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
