package session

import (
	"context"
	"testing"
	"time"

	"github.com/agentplexus/voiceline/backend"
	"github.com/agentplexus/voiceline/store"
	"github.com/agentplexus/voiceline/transport"
)

func serveDeps(adapter backend.Adapter, reg *Registry, rec store.Recorder) Deps {
	return Deps{
		Registry:   reg,
		NewAdapter: func(Config) backend.Adapter { return adapter },
		Recorder:   rec,
		DefaultConfig: Config{
			Prompt:   "default prompt",
			Greeting: "default greeting",
		},
	}
}

func TestServeRunsOneCallToCompletion(t *testing.T) {
	line := newFakeChannel()
	adapter := newFakeAdapter()
	reg := NewRegistry()
	rec := store.NewMemoryRecorder()

	reg.Provision("CA1", Config{Prompt: "provisioned", Greeting: "hi from provisioning"})

	done := make(chan struct{})
	go func() {
		Serve(context.Background(), line, serveDeps(adapter, reg, rec))
		close(done)
	}()

	line.events <- transport.Event{Type: transport.EventConnected}
	line.events <- transport.Event{Type: transport.EventStreamStart, StreamSID: "MZ1", CallSID: "CA1"}

	// The provisioned greeting, not the default, is spoken.
	waitFor(t, "greeting spoken", func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.said) == 1
	})
	adapter.mu.Lock()
	greeting := adapter.said[0]
	adapter.mu.Unlock()
	if greeting != "hi from provisioning" {
		t.Fatalf("greeting = %q, want the provisioned one", greeting)
	}

	// Media flows to the backend; a live session is registered.
	line.events <- transport.Event{Type: transport.EventMedia, Audio: []byte("frame")}
	waitFor(t, "media forwarded", func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return adapter.audioIn == 1
	})
	if _, ok := reg.Session("CA1"); !ok {
		t.Fatal("no live session registered")
	}

	// Provider ends the stream; Serve returns and the registry empties.
	line.events <- transport.Event{Type: transport.EventStop}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after stop")
	}
	if reg.Len() != 0 {
		t.Fatalf("registry Len() = %d after stop, want 0", reg.Len())
	}

	h, err := rec.Get("CA1")
	if err != nil {
		t.Fatal(err)
	}
	if h.Call.Reason != "caller hung up" {
		t.Fatalf("end reason = %q", h.Call.Reason)
	}
}

func TestServeFallsBackToDefaultConfig(t *testing.T) {
	line := newFakeChannel()
	adapter := newFakeAdapter()
	reg := NewRegistry()

	done := make(chan struct{})
	go func() {
		Serve(context.Background(), line, serveDeps(adapter, reg, nil))
		close(done)
	}()

	// No Provision call for this SID.
	line.events <- transport.Event{Type: transport.EventStreamStart, StreamSID: "MZ1", CallSID: "CA-unknown"}

	waitFor(t, "default greeting spoken", func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.said) == 1 && adapter.said[0] == "default greeting"
	})

	line.events <- transport.Event{Type: transport.EventStop}
	<-done
}

func TestServeAppliesBargeInThreshold(t *testing.T) {
	line := newFakeChannel()
	adapter := newFakeAdapter()
	reg := NewRegistry()

	deps := serveDeps(adapter, reg, nil)
	deps.BargeInThreshold = 4

	done := make(chan struct{})
	go func() {
		Serve(context.Background(), line, deps)
		close(done)
	}()

	line.events <- transport.Event{Type: transport.EventStreamStart, StreamSID: "MZ1", CallSID: "CA1"}
	waitFor(t, "session registered", func() bool {
		_, ok := reg.Session("CA1")
		return ok
	})

	adapter.chunks <- backend.Chunk{Index: 0, Audio: []byte("agent audio"), Final: true}
	waitFor(t, "audio playing", func() bool {
		return len(line.playedStrings()) == 1
	})

	// A fragment below the stock threshold still counts with the tuned one.
	adapter.events <- backend.Event{Type: backend.EventUtteranceFragment, Text: "wait"}
	waitFor(t, "short fragment cancels playback", func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.cancels) == 1
	})

	line.events <- transport.Event{Type: transport.EventStop}
	<-done
}

func TestServeClosesOnTransportError(t *testing.T) {
	line := newFakeChannel()
	adapter := newFakeAdapter()
	reg := NewRegistry()

	done := make(chan struct{})
	go func() {
		Serve(context.Background(), line, serveDeps(adapter, reg, nil))
		close(done)
	}()

	line.events <- transport.Event{Type: transport.EventStreamStart, StreamSID: "MZ1", CallSID: "CA1"}
	waitFor(t, "session registered", func() bool {
		_, ok := reg.Session("CA1")
		return ok
	})
	mgr, _ := reg.Session("CA1")

	line.events <- transport.Event{Type: transport.EventError, Err: context.DeadlineExceeded}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after transport error")
	}
	if mgr.State() != StateEnded {
		t.Fatalf("State() = %v, want %v", mgr.State(), StateEnded)
	}
}

func TestServeReturnsWhenEventStreamCloses(t *testing.T) {
	line := newFakeChannel()
	adapter := newFakeAdapter()

	done := make(chan struct{})
	go func() {
		Serve(context.Background(), line, serveDeps(adapter, NewRegistry(), nil))
		close(done)
	}()

	close(line.events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the event stream closed")
	}
}
