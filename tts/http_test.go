package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProviderStreamsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req.Text != "hello caller" || req.Voice != "aria" {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte("synthesized audio bytes"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	stream, err := p.SynthesizeStream(context.Background(), "hello caller", Config{Voice: "aria"})
	if err != nil {
		t.Fatal(err)
	}

	var audio []byte
	sawFinal := false
	deadline := time.After(2 * time.Second)
	for !sawFinal {
		select {
		case chunk, ok := <-stream:
			if !ok {
				t.Fatal("stream closed before final chunk")
			}
			if chunk.Err != nil {
				t.Fatal(chunk.Err)
			}
			if chunk.Final {
				sawFinal = true
				break
			}
			audio = append(audio, chunk.Audio...)
		case <-deadline:
			t.Fatal("stream never finished")
		}
	}
	if string(audio) != "synthesized audio bytes" {
		t.Fatalf("audio = %q", audio)
	}
}

func TestHTTPProviderServiceFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such voice", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	if _, err := p.SynthesizeStream(context.Background(), "hello", Config{}); err == nil {
		t.Fatal("expected error on 400")
	}
}

func TestHTTPProviderSendsAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, WithAPIKey("sk-test"))
	stream, err := p.SynthesizeStream(context.Background(), "hello", Config{})
	if err != nil {
		t.Fatal(err)
	}
	for range stream {
	}
}
