package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by providers missing credentials or an endpoint.
var ErrNotConfigured = errors.New("llm provider not configured")

// ErrEmptyResponse is returned when the model answered with no text.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// Provider defines the interface for interacting with LLM services.
type Provider interface {
	// GenerateText sends a prompt to the named model and returns the text response.
	// An empty model selects the provider default.
	GenerateText(ctx context.Context, model, prompt string) (string, error)

	// Models lists the model names the backend can serve.
	Models(ctx context.Context) ([]string, error)

	// HealthCheck verifies that the provider is configured and reachable.
	HealthCheck(ctx context.Context) error
}
