// Package llm provides hand-rolled HTTP clients for the LLM backends used to
// generate evaluation questions and score answers.
package llm

import (
	"context"
	"fmt"
)

// Backend is a single-shot LLM invocation: prompt in, free text out.
// image, when non-nil, is raw PNG/JPEG bytes attached to the prompt;
// text-only backends ignore it.
type Backend interface {
	Invoke(ctx context.Context, prompt string, image []byte) (*Response, error)
	Provider() string
	Model() string
}

// Response is the normalized backend reply.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
}

// BackendError wraps transport, auth and rate-limit failures from a backend.
// Callers are expected to catch it and fall back to an offline path; it never
// propagates past the question generator or answer evaluator.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
