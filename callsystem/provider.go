// Package callsystem places and controls phone calls through the Twilio
// REST API and answers Twilio webhooks with TwiML that routes call media to
// this process's stream endpoint.
package callsystem

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/agentplexus/voiceline/internal/client"
)

// Status is the call lifecycle state as reported by the provider.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRinging  Status = "ringing"
	StatusAnswered Status = "answered"
	StatusEnded    Status = "ended"
	StatusBusy     Status = "busy"
	StatusNoAnswer Status = "no-answer"
	StatusFailed   Status = "failed"
)

// Direction is whether the call was placed or received by this system.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Call is one tracked phone call.
type Call struct {
	ID        string
	Direction Direction
	From      string
	To        string
	StartedAt time.Time

	mu     sync.Mutex
	status Status
}

// Status returns the current call status.
func (c *Call) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Call) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// AnsweredPolicy decides whether a completed call should count as answered
// by a human, given its reported duration. Providers report "completed"
// for both real conversations and voicemail pickups; the default policy
// treats anything over five seconds as answered.
type AnsweredPolicy func(duration time.Duration) bool

// DefaultAnsweredPolicy is the stock duration heuristic.
func DefaultAnsweredPolicy(duration time.Duration) bool {
	return duration > 5*time.Second
}

// Provider places and tracks calls on one Twilio account.
type Provider struct {
	client      *client.Client
	defaultFrom string
	streamURL   string
	statusURL   string
	answered    AnsweredPolicy

	mu    sync.RWMutex
	calls map[string]*Call
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	accountSID  string
	authToken   string
	phoneNumber string
	streamURL   string
	statusURL   string
	answered    AnsweredPolicy
}

// WithAccountSID sets the Twilio Account SID.
func WithAccountSID(sid string) Option {
	return func(o *options) {
		o.accountSID = sid
	}
}

// WithAuthToken sets the Twilio Auth Token.
func WithAuthToken(token string) Option {
	return func(o *options) {
		o.authToken = token
	}
}

// WithPhoneNumber sets the default outbound caller ID.
func WithPhoneNumber(number string) Option {
	return func(o *options) {
		o.phoneNumber = number
	}
}

// WithStreamURL sets the public wss:// URL of this process's media-stream
// endpoint, embedded in the TwiML answer for every call.
func WithStreamURL(url string) Option {
	return func(o *options) {
		o.streamURL = url
	}
}

// WithStatusCallbackURL sets the webhook Twilio posts call status updates
// to.
func WithStatusCallbackURL(url string) Option {
	return func(o *options) {
		o.statusURL = url
	}
}

// WithAnsweredPolicy overrides the answered-call heuristic.
func WithAnsweredPolicy(policy AnsweredPolicy) Option {
	return func(o *options) {
		o.answered = policy
	}
}

// New creates a Twilio call provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{answered: DefaultAnsweredPolicy}
	for _, opt := range opts {
		opt(cfg)
	}

	twilioClient, err := client.New(client.Config{
		AccountSID: cfg.accountSID,
		AuthToken:  cfg.authToken,
	})
	if err != nil {
		return nil, fmt.Errorf("create twilio client: %w", err)
	}

	return &Provider{
		client:      twilioClient,
		defaultFrom: cfg.phoneNumber,
		streamURL:   cfg.streamURL,
		statusURL:   cfg.statusURL,
		answered:    cfg.answered,
		calls:       make(map[string]*Call),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "twilio"
}

// CallParams tune one outbound call.
type CallParams struct {
	// From overrides the default caller ID.
	From string

	// RingTimeout bounds how long the callee's phone rings.
	RingTimeout time.Duration
}

// MakeCall places an outbound call whose media is routed to the stream
// endpoint. The returned call's ID is the provider call SID, which later
// identifies the media stream and all session records.
func (p *Provider) MakeCall(ctx context.Context, to string, params CallParams) (*Call, error) {
	from := params.From
	if from == "" {
		from = p.defaultFrom
	}
	if from == "" {
		return nil, fmt.Errorf("caller ID required: no from number configured")
	}

	req := client.CreateCallParams{
		To:             to,
		From:           from,
		TwiML:          p.streamTwiML(),
		StatusCallback: p.statusURL,
	}
	if params.RingTimeout > 0 {
		req.Timeout = int(params.RingTimeout.Seconds())
	}

	created, err := p.client.CreateCall(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("place call: %w", err)
	}

	call := &Call{
		ID:        created.SID,
		Direction: Outbound,
		From:      from,
		To:        to,
		StartedAt: time.Now(),
		status:    mapStatus(created.Status),
	}

	p.mu.Lock()
	p.calls[call.ID] = call
	p.mu.Unlock()

	return call, nil
}

// HandleIncomingWebhook registers an inbound call and returns the TwiML
// that connects its media to the stream endpoint.
func (p *Provider) HandleIncomingWebhook(callSID, from, to string) (*Call, string) {
	call := &Call{
		ID:        callSID,
		Direction: Inbound,
		From:      from,
		To:        to,
		StartedAt: time.Now(),
		status:    StatusRinging,
	}

	p.mu.Lock()
	p.calls[callSID] = call
	p.mu.Unlock()

	return call, p.streamTwiML()
}

// HandleStatusCallback applies a provider status update. For completed
// calls the duration string from the callback feeds the answered policy;
// the return value reports whether the call counted as answered.
func (p *Provider) HandleStatusCallback(callSID, status, duration string) (answered bool) {
	p.mu.Lock()
	call, ok := p.calls[callSID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	mapped := mapStatus(status)
	if mapped == StatusEnded {
		secs, _ := strconv.Atoi(duration)
		answered = p.answered(time.Duration(secs) * time.Second)

		p.mu.Lock()
		delete(p.calls, callSID)
		p.mu.Unlock()
	}
	call.setStatus(mapped)
	return answered
}

// GetCall returns a tracked call, falling back to the provider API for
// calls this process does not remember.
func (p *Provider) GetCall(ctx context.Context, callSID string) (*Call, error) {
	p.mu.RLock()
	call, ok := p.calls[callSID]
	p.mu.RUnlock()
	if ok {
		return call, nil
	}

	remote, err := p.client.GetCall(ctx, callSID)
	if err != nil {
		return nil, fmt.Errorf("fetch call: %w", err)
	}
	return &Call{
		ID:        remote.SID,
		Direction: mapDirection(remote.Direction),
		From:      remote.From,
		To:        remote.To,
		status:    mapStatus(remote.Status),
	}, nil
}

// Hangup ends a call at the provider.
func (p *Provider) Hangup(ctx context.Context, callSID string) error {
	if err := p.client.EndCall(ctx, callSID); err != nil {
		return fmt.Errorf("hangup: %w", err)
	}

	p.mu.Lock()
	if call, ok := p.calls[callSID]; ok {
		call.setStatus(StatusEnded)
		delete(p.calls, callSID)
	}
	p.mu.Unlock()
	return nil
}

// ActiveCalls returns the calls this process is currently tracking.
func (p *Provider) ActiveCalls() []*Call {
	p.mu.RLock()
	defer p.mu.RUnlock()

	calls := make([]*Call, 0, len(p.calls))
	for _, call := range p.calls {
		calls = append(calls, call)
	}
	return calls
}

// Close hangs up every tracked call.
func (p *Provider) Close() error {
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[string]*Call)
	p.mu.Unlock()

	for id := range calls {
		_ = p.client.EndCall(ctx, id)
	}
	return nil
}

// streamTwiML answers a call by connecting its media to the stream
// endpoint.
func (p *Provider) streamTwiML() string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s">
            <Parameter name="direction" value="both"/>
        </Stream>
    </Connect>
</Response>`, p.streamURL)
}

func mapStatus(status string) Status {
	switch status {
	case "queued":
		return StatusQueued
	case "ringing":
		return StatusRinging
	case "in-progress":
		return StatusAnswered
	case "completed":
		return StatusEnded
	case "busy":
		return StatusBusy
	case "no-answer":
		return StatusNoAnswer
	case "failed", "canceled":
		return StatusFailed
	default:
		return StatusQueued
	}
}

func mapDirection(dir string) Direction {
	if dir == "inbound" {
		return Inbound
	}
	return Outbound
}
