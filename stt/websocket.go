package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Verify interface compliance at compile time.
var _ Provider = (*WebSocketProvider)(nil)

// WebSocketProvider streams audio to a recognition service over a
// WebSocket. Audio goes out as binary frames; transcription events come
// back as JSON text frames in the real-time transcription format.
type WebSocketProvider struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

// WebSocketOption configures a WebSocketProvider.
type WebSocketOption func(*WebSocketProvider)

// WithHeader sets handshake headers, typically authorization.
func WithHeader(header http.Header) WebSocketOption {
	return func(p *WebSocketProvider) {
		p.header = header
	}
}

// NewWebSocketProvider creates a recognizer client for the service at the
// given WebSocket URL.
func NewWebSocketProvider(url string, opts ...WebSocketOption) *WebSocketProvider {
	p := &WebSocketProvider{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *WebSocketProvider) Name() string {
	return "websocket"
}

// TranscribeStream dials the service and returns the audio writer and
// event channel for one session. Closing the writer ends the session and,
// after the service's remaining events drain, closes the channel.
func (p *WebSocketProvider) TranscribeStream(ctx context.Context, cfg Config) (io.WriteCloser, <-chan StreamEvent, error) {
	dialCtx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()

	ws, _, err := p.dialer.DialContext(dialCtx, p.url, p.header)
	if err != nil {
		return nil, nil, fmt.Errorf("dial recognition service: %w", err)
	}

	if err := ws.WriteJSON(map[string]any{
		"type":       "config",
		"language":   cfg.Language,
		"model":      cfg.Model,
		"encoding":   cfg.Encoding,
		"sampleRate": cfg.SampleRate,
	}); err != nil {
		_ = ws.Close()
		return nil, nil, fmt.Errorf("send recognition config: %w", err)
	}

	events := make(chan StreamEvent, 64)
	sess := &wsSession{ws: ws, events: events}
	go sess.readLoop(ctx)

	return sess, events, nil
}

// wsSession is one streaming recognition session. Write is safe against
// concurrent Close; the read loop owns the event channel.
type wsSession struct {
	ws     *websocket.Conn
	events chan StreamEvent

	mu     sync.Mutex
	closed bool
}

func (s *wsSession) Write(audio []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if err := s.ws.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return 0, fmt.Errorf("write audio frame: %w", err)
	}
	return len(audio), nil
}

func (s *wsSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Best effort: tell the service the stream is done before tearing the
	// socket down so it can flush a trailing final transcript.
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.ws.Close()
}

func (s *wsSession) readLoop(ctx context.Context) {
	defer close(s.events)

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			select {
			case s.events <- StreamEvent{Type: EventError, Err: err}:
			case <-ctx.Done():
			}
			return
		}

		ev, err := ParseTranscriptionEvent(data)
		if err != nil {
			continue
		}
		select {
		case s.events <- ev.ToStreamEvent():
		case <-ctx.Done():
			return
		}
	}
}
