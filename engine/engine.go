// Package engine defines the conversation-engine collaborator contract.
package engine

import (
	"context"
	"encoding/json"
)

// Capability is a named action the conversation engine may invoke during a
// call. Capabilities are provisioned per call and immutable afterwards.
type Capability struct {
	Name        string
	Description string

	// Schema is the JSON schema describing the action's input.
	Schema json.RawMessage

	// Invoke executes the action. The returned string is fed back to the
	// engine as the action result.
	Invoke func(ctx context.Context, args json.RawMessage) (string, error)
}

// Request is one human utterance submitted for a reply.
type Request struct {
	Text string

	// Turn is the correlation token tying this request to its eventual
	// reply. It increases by one per recognized utterance.
	Turn int

	// Prompt is the call's behavioral prompt.
	Prompt string

	// Capabilities is the call's provisioned capability set, possibly
	// empty.
	Capabilities []Capability
}

// Reply is the engine's response to a Request.
type Reply struct {
	Text string

	// Turn echoes the request's correlation token.
	Turn int

	// Adaptation names a persona or style change the engine decided on for
	// subsequent turns, empty if unchanged.
	Adaptation string
}

// Provider generates conversational replies. Implementations live outside
// this module.
type Provider interface {
	Name() string
	Reply(ctx context.Context, req Request) (*Reply, error)
}
