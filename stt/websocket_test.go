package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketProviderTranscribeStream(t *testing.T) {
	audioFrames := make(chan []byte, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()

		// First frame is the session config.
		var cfg map[string]any
		if err := ws.ReadJSON(&cfg); err != nil {
			return
		}
		if cfg["type"] != "config" || cfg["encoding"] != "audio/x-mulaw" {
			t.Errorf("config frame = %v", cfg)
		}

		// Echo a partial and a final transcript.
		partial, _ := json.Marshal(TranscriptionEvent{Transcript: "hel", IsFinal: false})
		_ = ws.WriteMessage(websocket.TextMessage, partial)
		final, _ := json.Marshal(TranscriptionEvent{Transcript: "hello", IsFinal: true, Confidence: 0.9})
		_ = ws.WriteMessage(websocket.TextMessage, final)

		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				audioFrames <- data
			}
		}
	}))
	defer srv.Close()

	p := NewWebSocketProvider("ws" + strings.TrimPrefix(srv.URL, "http"))
	writer, events, err := p.TranscribeStream(context.Background(), Config{
		Encoding:   "audio/x-mulaw",
		SampleRate: 8000,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = writer.Close() }()

	if _, err := writer.Write([]byte("caller frame")); err != nil {
		t.Fatal(err)
	}
	select {
	case frame := <-audioFrames:
		if string(frame) != "caller frame" {
			t.Fatalf("service got %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service never received audio")
	}

	ev := <-events
	if ev.Type != EventFragment || ev.Text != "hel" {
		t.Fatalf("event 1 = %+v", ev)
	}
	ev = <-events
	if ev.Type != EventFinal || ev.Text != "hello" {
		t.Fatalf("event 2 = %+v", ev)
	}
}

func TestWebSocketProviderWriteAfterClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewWebSocketProvider("ws" + strings.TrimPrefix(srv.URL, "http"))
	writer, events, err := p.TranscribeStream(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Write([]byte("late")); err == nil {
		t.Fatal("Write after Close succeeded")
	}

	// The event channel drains and closes after the session ends.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}
