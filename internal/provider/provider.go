// Package provider abstracts the external LLM generation collaborator.
// The engine only needs one operation: turn a prompt into text, within
// the caller's deadline.
package provider

import "context"

// Options are the per-call generation parameters.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Provider is the interface all LLM providers implement. Generate must
// honor ctx cancellation and deadlines; it is the engine's only
// suspension point besides external actions.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}
