package tts

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

// synthesisChunkSize is how much of the response body is forwarded per
// stream chunk. Small enough that playback can start before synthesis
// finishes.
const synthesisChunkSize = 4096

// HTTPProvider synthesizes speech through an HTTP service that streams raw
// audio in its response body.
type HTTPProvider struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithAPIKey sets the bearer token for synthesis requests.
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

// NewHTTPProvider creates a synthesis client for the service at the given
// URL.
func NewHTTPProvider(url string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
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

type synthesisRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
}

// SynthesizeStream posts the text and streams the audio response body as
// chunks. The channel is closed after the final chunk or on error.
func (p *HTTPProvider) SynthesizeStream(ctx context.Context, text string, cfg Config) (<-chan StreamChunk, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:       text,
		Voice:      cfg.Voice,
		Speed:      cfg.Speed,
		Format:     cfg.Format,
		SampleRate: cfg.SampleRate,
	})
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
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synthesis service returned %d: %s", resp.StatusCode, msg)
	}

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		buf := make([]byte, synthesisChunkSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				audio := make([]byte, n)
				copy(audio, buf[:n])
				select {
				case out <- StreamChunk{Audio: audio}:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				select {
				case out <- StreamChunk{Final: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					select {
					case out <- StreamChunk{Err: fmt.Errorf("read synthesis stream: %w", err)}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	return out, nil
}
