package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/agentplexus/voiceline/engine"
	"github.com/agentplexus/voiceline/stt"
	"github.com/agentplexus/voiceline/tts"
)

// Verify interface compliance at compile time.
var _ Adapter = (*Composed)(nil)

// Composed implements Adapter by wiring a speech-to-text stream, a
// conversation engine, and a speech-synthesis stream together per turn.
type Composed struct {
	recognizer  stt.Provider
	synthesizer tts.Provider
	brain       engine.Provider
	log         *slog.Logger

	chunks chan Chunk
	events chan Event

	mu        sync.Mutex
	cfg       Config
	sttIn     io.WriteCloser
	started   bool
	pending   map[int]bool
	cancels   map[int]context.CancelFunc
	cancelled map[int]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// ComposedOption configures a Composed adapter.
type ComposedOption func(*Composed)

// WithComposedLogger sets the adapter logger.
func WithComposedLogger(log *slog.Logger) ComposedOption {
	return func(c *Composed) {
		c.log = log
	}
}

// NewComposed creates a composed-pipeline adapter over the given
// collaborators.
func NewComposed(recognizer stt.Provider, synthesizer tts.Provider, brain engine.Provider, opts ...ComposedOption) *Composed {
	c := &Composed{
		recognizer:  recognizer,
		synthesizer: synthesizer,
		brain:       brain,
		log:         slog.Default(),
		chunks:      make(chan Chunk, 64),
		events:      make(chan Event, 32),
		pending:     make(map[int]bool),
		cancels:     make(map[int]context.CancelFunc),
		cancelled:   make(map[int]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the recognition stream and begins relaying transcripts.
func (c *Composed) Start(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("adapter already started")
	}

	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	c.cfg = cfg
	c.ctx, c.cancel = context.WithCancel(ctx)

	writer, recognized, err := c.recognizer.TranscribeStream(c.ctx, stt.Config{
		Encoding:   cfg.Encoding,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		c.cancel()
		return fmt.Errorf("open recognition stream: %w", err)
	}
	c.sttIn = writer
	c.started = true

	c.wg.Add(1)
	go c.relayTranscripts(recognized)

	return nil
}

// relayTranscripts maps recognition events onto adapter events.
func (c *Composed) relayTranscripts(recognized <-chan stt.StreamEvent) {
	defer c.wg.Done()

	for ev := range recognized {
		switch ev.Type {
		case stt.EventFragment:
			c.emit(Event{Type: EventUtteranceFragment, Text: ev.Text})
		case stt.EventFinal:
			c.emit(Event{Type: EventUtteranceFinal, Text: ev.Text})
		case stt.EventError:
			c.emit(Event{Type: EventError, Err: ev.Err})
		}
	}
}

// SubmitAudio forwards one line-audio frame to the recognizer.
func (c *Composed) SubmitAudio(frame []byte) error {
	c.mu.Lock()
	writer := c.sttIn
	c.mu.Unlock()

	if writer == nil {
		return fmt.Errorf("recognition stream not open")
	}
	_, err := writer.Write(frame)
	return err
}

// SubmitUtterance asks the conversation engine for a reply and synthesizes
// it at the utterance's turn index. The engine call itself is never
// cancelled by a barge-in; a reply landing on a cancelled turn is dropped.
func (c *Composed) SubmitUtterance(ctx context.Context, text string, turn int) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return fmt.Errorf("adapter not started")
	}
	cfg := c.cfg
	c.pending[turn] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.pending, turn)
			c.mu.Unlock()
		}()

		rctx, done := context.WithTimeout(c.ctx, cfg.ReplyTimeout)
		defer done()

		reply, err := c.brain.Reply(rctx, engine.Request{
			Text:         text,
			Turn:         turn,
			Prompt:       cfg.Prompt,
			Capabilities: cfg.Capabilities,
		})
		if err != nil {
			if c.ctx.Err() == nil {
				c.emit(Event{Type: EventError, Turn: turn, Err: err})
			}
			return
		}

		c.mu.Lock()
		stale := c.cancelled[turn]
		c.mu.Unlock()
		if stale {
			c.log.Debug("dropping reply for cancelled turn", "turn", turn)
			return
		}

		c.emit(Event{Type: EventAgentReply, Text: reply.Text, Turn: turn})
		if reply.Adaptation != "" {
			c.emit(Event{Type: EventAdaptation, Adaptation: reply.Adaptation, Turn: turn})
		}

		c.speak(reply.Text, turn)
	}()

	return nil
}

// Say synthesizes literal text at the given response index.
func (c *Composed) Say(ctx context.Context, text string, index int) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("adapter not started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.speak(text, index)
	}()
	return nil
}

// speak streams synthesis for one response index onto the chunk channel.
func (c *Composed) speak(text string, index int) {
	c.mu.Lock()
	if c.cancelled[index] {
		c.mu.Unlock()
		return
	}
	sctx, cancel := context.WithCancel(c.ctx)
	c.cancels[index] = cancel
	cfg := c.cfg
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.cancels, index)
		c.mu.Unlock()
	}()

	stream, err := c.synthesizer.SynthesizeStream(sctx, text, tts.Config{
		Voice:      cfg.Voice,
		Format:     cfg.Encoding,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		if c.ctx.Err() == nil {
			c.emit(Event{Type: EventError, Turn: index, Err: err})
		}
		return
	}

	for chunk := range stream {
		if chunk.Err != nil {
			c.emit(Event{Type: EventError, Turn: index, Err: chunk.Err})
			return
		}
		if sctx.Err() != nil {
			return
		}
		if len(chunk.Audio) > 0 {
			c.send(Chunk{Index: index, Audio: chunk.Audio})
		}
		if chunk.Final {
			break
		}
	}

	if sctx.Err() == nil {
		c.send(Chunk{Index: index, Final: true})
	}
}

// Cancel stops in-flight synthesis for indices at or above from and marks
// them so late engine replies are discarded. Turns submitted after the
// cancel are unaffected.
func (c *Composed) Cancel(from int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for index, cancel := range c.cancels {
		if index >= from {
			cancel()
			c.cancelled[index] = true
		}
	}
	for turn := range c.pending {
		if turn >= from {
			c.cancelled[turn] = true
		}
	}
}

// Chunks returns the synthesized audio stream.
func (c *Composed) Chunks() <-chan Chunk {
	return c.chunks
}

// Events returns the adapter event stream.
func (c *Composed) Events() <-chan Event {
	return c.events
}

// Close terminates the adapter and closes both channels.
func (c *Composed) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		writer := c.sttIn
		c.sttIn = nil
		c.mu.Unlock()

		if writer != nil {
			_ = writer.Close()
		}
		c.wg.Wait()
		close(c.chunks)
		close(c.events)
	})
	return nil
}

func (c *Composed) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Composed) send(chunk Chunk) {
	select {
	case c.chunks <- chunk:
	case <-c.ctx.Done():
	}
}
