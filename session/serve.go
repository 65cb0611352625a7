package session

import (
	"context"
	"log/slog"

	"github.com/agentplexus/voiceline/backend"
	"github.com/agentplexus/voiceline/notify"
	"github.com/agentplexus/voiceline/store"
	"github.com/agentplexus/voiceline/transport"
)

// Deps are the collaborators Serve wires into each session.
type Deps struct {
	// Registry supplies per-call configuration and tracks live sessions.
	Registry *Registry

	// NewAdapter builds the voice backend for one call.
	NewAdapter func(cfg Config) backend.Adapter

	// Recorder and Notifier are optional sinks.
	Recorder store.Recorder
	Notifier notify.Notifier

	// DefaultConfig applies when a stream connects for a call that was
	// never provisioned. The caller still gets an agent rather than a
	// dropped call.
	DefaultConfig Config

	// BargeInThreshold overrides the minimum fragment length, in runes,
	// that counts as a barge-in. Zero keeps the default.
	BargeInThreshold int

	Logger *slog.Logger
}

// Serve runs one media connection to completion: it waits for the stream to
// announce its call, builds the session, and pumps line events into it
// until the stream ends or the context is cancelled. It returns when the
// session has closed.
func Serve(ctx context.Context, line transport.Channel, deps Deps) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	var mgr *Manager
	defer func() {
		if mgr != nil {
			mgr.Close("connection closed")
		} else {
			_ = line.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if mgr != nil {
				// Drain runs in the background so mark acknowledgments
				// keep flowing until the line closes.
				go mgr.Shutdown("server shutdown")
				for ev := range line.Events() {
					if ev.Type == transport.EventMark {
						mgr.OnMarkAck(ev.Label)
					}
				}
				mgr.Close("server shutdown")
				mgr = nil
			}
			return

		case ev, ok := <-line.Events():
			if !ok {
				return
			}

			switch ev.Type {
			case transport.EventConnected:
				log.Debug("media connection established")

			case transport.EventStreamStart:
				if mgr != nil {
					mgr.Open(ev.StreamSID, ev.CallSID)
					continue
				}
				mgr = buildSession(ctx, line, ev, deps, log)
				mgr.Open(ev.StreamSID, ev.CallSID)

			case transport.EventMedia:
				if mgr != nil {
					mgr.OnMediaFrame(ev.Audio)
				}

			case transport.EventMark:
				if mgr != nil {
					mgr.OnMarkAck(ev.Label)
				}

			case transport.EventDTMF:
				if mgr != nil {
					mgr.OnDTMF(ev.Digit)
				}

			case transport.EventStop:
				// The provider sends nothing after stop, so there are no
				// acknowledgments left to wait for.
				if mgr != nil {
					mgr.Close("caller hung up")
					mgr = nil
				}
				return

			case transport.EventError:
				log.Error("media connection fault", "error", ev.Err)
				if mgr != nil {
					mgr.Close("transport error")
					mgr = nil
				}
				return
			}
		}
	}
}

// buildSession resolves configuration for the announced call and assembles
// its manager. An unprovisioned call falls back to the default
// configuration.
func buildSession(ctx context.Context, line transport.Channel, start transport.Event, deps Deps, log *slog.Logger) *Manager {
	callID := start.CallSID

	cfg, ok := deps.Registry.Lookup(callID)
	if !ok {
		log.Warn("stream for unprovisioned call, using defaults", "call", callID)
		cfg = deps.DefaultConfig
	}

	adapter := deps.NewAdapter(cfg)
	opts := []ManagerOption{
		WithContext(ctx),
		WithRecorder(deps.Recorder),
		WithNotifier(deps.Notifier),
		WithLogger(log),
	}
	if deps.BargeInThreshold > 0 {
		opts = append(opts, WithManagerBargeInThreshold(deps.BargeInThreshold))
	}
	mgr := NewManager(callID, line, adapter, cfg, opts...)
	unregister := deps.Registry.Attach(callID, mgr)
	WithUnregister(unregister)(mgr)
	return mgr
}
