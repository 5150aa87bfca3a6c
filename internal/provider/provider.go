// Package provider resolves logical agent names to upstream generative
// clients. Two client kinds exist: chat-completions against an
// OpenAI-compatible endpoint, and freeform generation against Gemini.
package provider

import (
	"context"
	"fmt"
)

// Message is one turn of provider-facing history.
type Message struct {
	Role    string `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"` // The message content
}

// Client is the capability the router depends on. Both client kinds implement
// it; the kind determines how history is shipped upstream (structured turn
// list vs flattened transcript).
type Client interface {
	// Converse sends the history, newest turn last, and returns the reply text.
	Converse(ctx context.Context, history []Message) (string, error)

	// Name returns the logical agent name this client serves.
	Name() string
}

// Generator is the freeform prompt-in/text-out capability used for scenario
// generation and goal classification.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Kind distinguishes the two provider client families.
type Kind string

const (
	// KindChat is a stateless chat-completions exchange over {role, content} turns.
	KindChat Kind = "chat"
	// KindFreeform is single-prompt generation with history flattened to text.
	KindFreeform Kind = "freeform"
)

// UpstreamError wraps a provider failure during a message exchange. The
// boundary layer maps it to a bad-gateway response; the user's message is
// already persisted by the time it can occur.
type UpstreamError struct {
	Agent string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream agent %s: %v", e.Agent, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
