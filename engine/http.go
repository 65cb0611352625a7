package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Verify interface compliance at compile time.
var _ Provider = (*HTTPProvider)(nil)

// maxActionRounds bounds capability-invocation loops within one turn.
const maxActionRounds = 4

// HTTPProvider generates replies through a JSON HTTP service. When the
// service asks for an action, the provider invokes the named capability
// locally and resubmits with the result until the service produces text.
type HTTPProvider struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithAPIKey sets the bearer token for reply requests.
func WithAPIKey(key string) HTTPOption {
	return func(p *HTTPProvider) {
		p.apiKey = key
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		p.httpClient = c
	}
}

// NewHTTPProvider creates an engine client for the service at the given
// URL.
func NewHTTPProvider(url string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string {
	return "http"
}

type capabilityDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

type replyRequest struct {
	Prompt       string           `json:"prompt,omitempty"`
	Text         string           `json:"text"`
	Turn         int              `json:"turn"`
	Capabilities []capabilityDecl `json:"capabilities,omitempty"`

	// ActionResult carries the output of a previously requested action.
	Action       string `json:"action,omitempty"`
	ActionResult string `json:"actionResult,omitempty"`
}

type replyResponse struct {
	Text       string `json:"text"`
	Adaptation string `json:"adaptation,omitempty"`

	// Action, when set, asks the caller to invoke a capability and
	// resubmit.
	Action     string          `json:"action,omitempty"`
	ActionArgs json.RawMessage `json:"actionArgs,omitempty"`
}

// Reply submits the utterance and resolves any capability invocations the
// service requests before returning the final text.
func (p *HTTPProvider) Reply(ctx context.Context, req Request) (*Reply, error) {
	decls := make([]capabilityDecl, 0, len(req.Capabilities))
	byName := make(map[string]Capability, len(req.Capabilities))
	for _, capability := range req.Capabilities {
		decls = append(decls, capabilityDecl{
			Name:        capability.Name,
			Description: capability.Description,
			Schema:      capability.Schema,
		})
		byName[capability.Name] = capability
	}

	out := replyRequest{
		Prompt:       req.Prompt,
		Text:         req.Text,
		Turn:         req.Turn,
		Capabilities: decls,
	}

	for round := 0; round < maxActionRounds; round++ {
		resp, err := p.roundTrip(ctx, out)
		if err != nil {
			return nil, err
		}

		if resp.Action == "" {
			return &Reply{Text: resp.Text, Turn: req.Turn, Adaptation: resp.Adaptation}, nil
		}

		capability, ok := byName[resp.Action]
		if !ok {
			return nil, fmt.Errorf("engine requested unknown capability %q", resp.Action)
		}
		result, err := capability.Invoke(ctx, resp.ActionArgs)
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", resp.Action, err)
		}
		out.Action = resp.Action
		out.ActionResult = result
	}
	return nil, fmt.Errorf("engine exceeded %d capability rounds", maxActionRounds)
}

func (p *HTTPProvider) roundTrip(ctx context.Context, out replyRequest) (*replyResponse, error) {
	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("engine service returned %d: %s", resp.StatusCode, msg)
	}

	var parsed replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse engine response: %w", err)
	}
	return &parsed, nil
}
