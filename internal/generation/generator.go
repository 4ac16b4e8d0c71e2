// Package generation adapts text-generation backends behind one fallible interface.
package generation

import (
	"context"
	"errors"
)

// ErrDisabled is returned by the Disabled generator.
var ErrDisabled = errors.New("text generation is disabled")

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("generator returned an empty response")

// Options are per-call generation parameters.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Generator produces text for a single-turn prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	// Model names the backend model, for statistics and logs.
	Model() string
}

// Disabled always fails, so every chat turn takes the fallback path.
type Disabled struct{}

// Generate returns ErrDisabled.
func (Disabled) Generate(context.Context, string, Options) (string, error) {
	return "", ErrDisabled
}

// Model returns "none".
func (Disabled) Model() string { return "none" }
