package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/agentplexus/voiceline/engine"
	"github.com/agentplexus/voiceline/stt"
	"github.com/agentplexus/voiceline/tts"
)

// fakeRecognizer hands out a controllable event channel.
type fakeRecognizer struct {
	mu      sync.Mutex
	written []byte
	events  chan stt.StreamEvent
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{events: make(chan stt.StreamEvent, 16)}
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) TranscribeStream(ctx context.Context, cfg stt.Config) (io.WriteCloser, <-chan stt.StreamEvent, error) {
	return f, f.events, nil
}

func (f *fakeRecognizer) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeRecognizer) Close() error {
	close(f.events)
	return nil
}

// fakeSynthesizer emits each word of the text as one chunk.
type fakeSynthesizer struct {
	err   error
	delay time.Duration
}

func (f *fakeSynthesizer) Name() string { return "fake" }

func (f *fakeSynthesizer) SynthesizeStream(ctx context.Context, text string, cfg tts.Config) (<-chan tts.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan tts.StreamChunk, 8)
	go func() {
		defer close(out)
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- tts.StreamChunk{Audio: []byte(text)}:
		case <-ctx.Done():
			return
		}
		out <- tts.StreamChunk{Final: true}
	}()
	return out, nil
}

// fakeEngine replies with a fixed transform of the input.
type fakeEngine struct {
	err        error
	adaptation string
	delay      time.Duration
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Reply(ctx context.Context, req engine.Request) (*engine.Reply, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Reply{
		Text:       "re: " + req.Text,
		Turn:       req.Turn,
		Adaptation: f.adaptation,
	}, nil
}

func startComposed(t *testing.T, rec *fakeRecognizer, syn *fakeSynthesizer, eng *fakeEngine) *Composed {
	t.Helper()
	c := NewComposed(rec, syn, eng)
	if err := c.Start(context.Background(), Config{}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func collectChunks(t *testing.T, c *Composed, n int) []Chunk {
	t.Helper()
	var got []Chunk
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case chunk := <-c.Chunks():
			got = append(got, chunk)
		case <-deadline:
			t.Fatalf("got %d chunks, want %d", len(got), n)
		}
	}
	return got
}

func TestComposedRelaysTranscripts(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{}, &fakeEngine{})

	rec.events <- stt.StreamEvent{Type: stt.EventFragment, Text: "hel"}
	rec.events <- stt.StreamEvent{Type: stt.EventFinal, Text: "hello there"}

	ev := <-c.Events()
	if ev.Type != EventUtteranceFragment || ev.Text != "hel" {
		t.Fatalf("event 1 = %+v", ev)
	}
	ev = <-c.Events()
	if ev.Type != EventUtteranceFinal || ev.Text != "hello there" {
		t.Fatalf("event 2 = %+v", ev)
	}
}

func TestComposedForwardsAudioToRecognizer(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{}, &fakeEngine{})

	if err := c.SubmitAudio([]byte("frame")); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if string(rec.written) != "frame" {
		t.Fatalf("recognizer got %q, want frame", rec.written)
	}
}

func TestComposedSubmitUtteranceSynthesizesReply(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{}, &fakeEngine{})

	if err := c.SubmitUtterance(context.Background(), "what time is it", 2); err != nil {
		t.Fatal(err)
	}

	// Reply text surfaces as an event before the audio.
	ev := <-c.Events()
	if ev.Type != EventAgentReply || ev.Text != "re: what time is it" || ev.Turn != 2 {
		t.Fatalf("reply event = %+v", ev)
	}

	got := collectChunks(t, c, 2)
	if got[0].Index != 2 || string(got[0].Audio) != "re: what time is it" {
		t.Fatalf("chunk 1 = %+v", got[0])
	}
	if !got[1].Final || got[1].Index != 2 {
		t.Fatalf("chunk 2 = %+v, want final for index 2", got[1])
	}
}

func TestComposedEmitsAdaptation(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{}, &fakeEngine{adaptation: "patient"})

	if err := c.SubmitUtterance(context.Background(), "slow down please", 1); err != nil {
		t.Fatal(err)
	}

	sawAdaptation := false
	deadline := time.After(2 * time.Second)
	for !sawAdaptation {
		select {
		case ev := <-c.Events():
			if ev.Type == EventAdaptation {
				if ev.Adaptation != "patient" || ev.Turn != 1 {
					t.Fatalf("adaptation event = %+v", ev)
				}
				sawAdaptation = true
			}
		case <-deadline:
			t.Fatal("no adaptation event")
		}
	}
}

func TestComposedReportsEngineFault(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{}, &fakeEngine{err: errors.New("model overloaded")})

	if err := c.SubmitUtterance(context.Background(), "hello", 1); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-c.Events():
		if ev.Type != EventError || ev.Turn != 1 {
			t.Fatalf("event = %+v, want error for turn 1", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
}

func TestComposedDropsLateReplyForCancelledTurn(t *testing.T) {
	rec := newFakeRecognizer()
	eng := &fakeEngine{delay: 100 * time.Millisecond}
	c := startComposed(t, rec, &fakeSynthesizer{}, eng)

	if err := c.SubmitUtterance(context.Background(), "never mind", 1); err != nil {
		t.Fatal(err)
	}
	// Barge-in lands while the engine request is in transit.
	c.Cancel(1)

	select {
	case chunk := <-c.Chunks():
		t.Fatalf("cancelled turn produced audio: %+v", chunk)
	case ev := <-c.Events():
		t.Fatalf("cancelled turn produced event: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestComposedCancelDoesNotAffectLaterTurns(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{}, &fakeEngine{})

	c.Cancel(1)

	// A turn submitted after the cancel plays normally even though its
	// index is above the cancel point.
	if err := c.SubmitUtterance(context.Background(), "next question", 2); err != nil {
		t.Fatal(err)
	}
	got := collectChunks(t, c, 2)
	if got[0].Index != 2 {
		t.Fatalf("chunk index = %d, want 2", got[0].Index)
	}
}

func TestComposedSayBypassesEngine(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{}, &fakeEngine{err: errors.New("engine down")})

	if err := c.Say(context.Background(), "hello, how can I help?", 0); err != nil {
		t.Fatal(err)
	}
	got := collectChunks(t, c, 2)
	if string(got[0].Audio) != "hello, how can I help?" || got[0].Index != 0 {
		t.Fatalf("chunk = %+v", got[0])
	}
}

func TestComposedSynthFaultSurfacesError(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{err: errors.New("voice unavailable")}, &fakeEngine{})

	if err := c.Say(context.Background(), "anything", 0); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-c.Events():
		if ev.Type != EventError {
			t.Fatalf("event = %+v, want error", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
}

func TestComposedCloseClosesChannels(t *testing.T) {
	rec := newFakeRecognizer()
	c := startComposed(t, rec, &fakeSynthesizer{}, &fakeEngine{})

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if _, ok := <-c.Chunks(); ok {
		t.Fatal("chunk channel still open after Close")
	}
	if _, ok := <-c.Events(); ok {
		t.Fatal("event channel still open after Close")
	}
}
