// Package ai implements the response generation pipeline: an ordered chain
// of completion providers with a deterministic fallback that cannot fail.
package ai

import (
	"context"
	"fmt"

	"github.com/keshon/young-ellens/internal/persona"
)

// Message is one chat turn in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are per-call generation parameters.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Usage is optional token accounting reported by a provider. Zero usage on a
// remote provider marks a degenerate response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Result is a single provider's output.
type Result struct {
	Text  string
	Usage *Usage
}

// Request bundles everything the pipeline needs for one reply.
type Request struct {
	UserMessage  string
	History      []Message
	SystemPrompt string // base prompt already augmented with context memory
	Mood         persona.Mood
	Chaos        int
}

// Response is the pipeline output. Always populated; the pipeline never
// fails.
type Response struct {
	Text     string
	Provider string // "primary" | "secondary" | "fallback"
	Usage    *Usage
}

// Provider generates a completion. Remote implementations return
// *ProviderError on network/auth/quota/malformed-response conditions.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request, params Params) (*Result, error)
}

// ProviderError classifies a failed remote generation attempt. It is caught
// by the pipeline, logged, and never surfaced to the caller.
type ProviderError struct {
	Provider string
	Kind     string // "network" | "auth" | "quota" | "malformed"
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(provider, kind string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

func kindForStatus(status int) string {
	switch {
	case status == 401 || status == 403:
		return "auth"
	case status == 429:
		return "quota"
	default:
		return "network"
	}
}

// buildMessages assembles the wire messages for a remote call: system prompt,
// bounded history, then the user message.
func buildMessages(req Request) []Message {
	msgs := make([]Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}
	history := req.History
	if len(history) > 20 {
		history = history[len(history)-20:]
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: req.UserMessage})
	return msgs
}
