package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProviderReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req replyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req.Text != "what time is it" || req.Turn != 2 || req.Prompt != "be brief" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(replyResponse{Text: "it is noon", Adaptation: "casual"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	reply, err := p.Reply(context.Background(), Request{
		Text:   "what time is it",
		Turn:   2,
		Prompt: "be brief",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "it is noon" || reply.Turn != 2 || reply.Adaptation != "casual" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestHTTPProviderResolvesCapabilityRound(t *testing.T) {
	round := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req replyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		round++
		if round == 1 {
			_ = json.NewEncoder(w).Encode(replyResponse{
				Action:     "lookup_order",
				ActionArgs: json.RawMessage(`{"order":"A-1"}`),
			})
			return
		}
		if req.Action != "lookup_order" || req.ActionResult != "shipped yesterday" {
			t.Errorf("resubmit = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(replyResponse{Text: "your order shipped yesterday"})
	}))
	defer srv.Close()

	invoked := false
	p := NewHTTPProvider(srv.URL)
	reply, err := p.Reply(context.Background(), Request{
		Text: "where is my order",
		Turn: 1,
		Capabilities: []Capability{{
			Name: "lookup_order",
			Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
				invoked = true
				var parsed struct {
					Order string `json:"order"`
				}
				if err := json.Unmarshal(args, &parsed); err != nil {
					return "", err
				}
				if parsed.Order != "A-1" {
					t.Errorf("args = %s", args)
				}
				return "shipped yesterday", nil
			},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !invoked {
		t.Fatal("capability never invoked")
	}
	if reply.Text != "your order shipped yesterday" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestHTTPProviderUnknownCapability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(replyResponse{Action: "does_not_exist"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	if _, err := p.Reply(context.Background(), Request{Text: "hello", Turn: 1}); err == nil {
		t.Fatal("expected error for unknown capability")
	}
}

func TestHTTPProviderServiceFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	if _, err := p.Reply(context.Background(), Request{Text: "hello", Turn: 1}); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestHTTPProviderBoundedActionRounds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The service keeps asking for the same action forever.
		_ = json.NewEncoder(w).Encode(replyResponse{Action: "loop", ActionArgs: json.RawMessage(`{}`)})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	_, err := p.Reply(context.Background(), Request{
		Text: "hello",
		Turn: 1,
		Capabilities: []Capability{{
			Name: "loop",
			Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
				return "again", nil
			},
		}},
	})
	if err == nil {
		t.Fatal("expected error after exhausting action rounds")
	}
}
