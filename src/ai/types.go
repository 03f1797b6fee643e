package ai

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by every call of the disabled client.
var ErrDisabled = errors.New("ai: backend not configured")

// Client is the AI backend contract. Every error means the backend is
// unavailable for this call; callers degrade instead of failing.
type Client interface {
	Summarize(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Embed(ctx context.Context, text string) ([]float64, error)
	Health(ctx context.Context) bool
}

// FactoryConfig captures the inputs required to construct a client.
type FactoryConfig struct {
	Provider    string
	ServiceURL  string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int

	// Model and EmbeddingModel are used by hosted LLM providers only.
	Model          string
	EmbeddingModel string
}
