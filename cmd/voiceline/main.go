// Command voiceline runs the voice-agent call server: it answers Twilio
// webhooks, accepts Media Streams connections, and drives one call session
// per stream.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agentplexus/voiceline"
	"github.com/agentplexus/voiceline/backend"
	"github.com/agentplexus/voiceline/callsystem"
	"github.com/agentplexus/voiceline/engine"
	"github.com/agentplexus/voiceline/internal/config"
	"github.com/agentplexus/voiceline/notify"
	"github.com/agentplexus/voiceline/session"
	"github.com/agentplexus/voiceline/store"
	"github.com/agentplexus/voiceline/stt"
	"github.com/agentplexus/voiceline/transport"
	"github.com/agentplexus/voiceline/tts"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := buildRecorder(cfg, log)
	defer func() { _ = recorder.Close() }()

	notifier := notify.NewLogNotifier(log)

	registry := session.NewRegistry(
		session.WithRegistryLogger(log),
		session.WithProvisionTTL(cfg.SessionTTL),
	)
	go registry.Janitor(ctx, time.Minute)

	tr, err := transport.New(transport.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	defaultConfig := session.Config{
		Prompt:       cfg.DefaultPrompt,
		Greeting:     cfg.DefaultGreeting,
		Voice:        cfg.DefaultVoice,
		Encoding:     voiceline.AudioEncodingMulaw,
		SampleRate:   voiceline.DefaultSampleRate,
		ReplyTimeout: cfg.ReplyTimeout,
		Recipient:    cfg.NotifyRecipient,
	}

	deps := session.Deps{
		Registry:         registry,
		NewAdapter:       adapterFactory(cfg, log),
		Recorder:         recorder,
		Notifier:         notifier,
		DefaultConfig:    defaultConfig,
		BargeInThreshold: cfg.BargeInMinChars,
		Logger:           log,
	}

	go func() {
		for line := range tr.Accepted() {
			go session.Serve(ctx, line, deps)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/media-stream", func(w http.ResponseWriter, r *http.Request) {
		if err := tr.HandleWebSocket(w, r); err != nil {
			log.Error("media-stream upgrade failed", "error", err)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if cfg.TwilioAccountSID != "" {
		calls, err := callsystem.New(
			callsystem.WithAccountSID(cfg.TwilioAccountSID),
			callsystem.WithAuthToken(cfg.TwilioAuthToken),
			callsystem.WithPhoneNumber(cfg.TwilioPhoneNumber),
			callsystem.WithStreamURL(cfg.PublicStreamURL),
			callsystem.WithStatusCallbackURL(cfg.PublicStatusURL),
		)
		if err != nil {
			return err
		}
		defer func() { _ = calls.Close() }()

		mux.HandleFunc("/voice", incomingCallHandler(calls, registry, defaultConfig, log))
		mux.HandleFunc("/status", statusCallbackHandler(calls, registry, log))
	} else {
		log.Warn("no Twilio credentials, call webhooks disabled")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr, "mode", cfg.Mode)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// buildRecorder selects Redis when configured, in-memory otherwise.
func buildRecorder(cfg *config.Config, log *slog.Logger) store.Recorder {
	if cfg.RedisAddr == "" {
		log.Info("using in-memory call records")
		return store.NewMemoryRecorder()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Info("using redis call records", "addr", cfg.RedisAddr)
	return store.NewRedisRecorder(client, 0)
}

// adapterFactory builds one backend adapter per call according to the
// configured mode.
func adapterFactory(cfg *config.Config, log *slog.Logger) func(session.Config) backend.Adapter {
	if cfg.Mode == config.ModeManaged {
		return func(session.Config) backend.Adapter {
			var header http.Header
			if cfg.ManagedAPIKey != "" {
				header = http.Header{"Authorization": {"Bearer " + cfg.ManagedAPIKey}}
			}
			return backend.NewManaged(cfg.ManagedServiceURL,
				backend.WithManagedLogger(log),
				backend.WithManagedHeader(header),
			)
		}
	}

	return func(session.Config) backend.Adapter {
		recognizer := stt.NewWebSocketProvider(cfg.RecognizerURL)
		synthesizer := tts.NewHTTPProvider(cfg.SynthesizerURL, tts.WithAPIKey(cfg.SynthAPIKey))
		brain := engine.NewHTTPProvider(cfg.EngineURL, engine.WithAPIKey(cfg.EngineAPIKey))
		return backend.NewComposed(recognizer, synthesizer, brain,
			backend.WithComposedLogger(log),
		)
	}
}

// incomingCallHandler answers the inbound-call webhook with TwiML that
// connects the call's media to this server, provisioning a default session
// configuration for the call.
func incomingCallHandler(calls *callsystem.Provider, registry *session.Registry, defaults session.Config, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		callSID := r.FormValue("CallSid")
		from := r.FormValue("From")
		to := r.FormValue("To")
		if callSID == "" {
			http.Error(w, "missing CallSid", http.StatusBadRequest)
			return
		}

		_, twiml := calls.HandleIncomingWebhook(callSID, from, to)
		registry.Provision(callSID, defaults)
		log.Info("incoming call", "call", callSID, "from", from, "to", to)

		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(twiml))
	}
}

// statusCallbackHandler applies provider status updates and tears down the
// session when the provider reports the call over.
func statusCallbackHandler(calls *callsystem.Provider, registry *session.Registry, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		callSID := r.FormValue("CallSid")
		status := r.FormValue("CallStatus")
		duration := r.FormValue("CallDuration")

		answered := calls.HandleStatusCallback(callSID, status, duration)
		log.Info("call status", "call", callSID, "status", status, "answered", answered)

		if status == "completed" || status == "failed" || status == "busy" || status == "no-answer" {
			if mgr, ok := registry.Session(callSID); ok {
				go mgr.Shutdown("provider reported " + status)
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
