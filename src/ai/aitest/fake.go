// Package aitest provides a scriptable ai.Client for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/stake-plus/nexvote/src/ai"
)

type Fake struct {
	mu sync.Mutex

	SummaryErr   error
	TranslateErr error
	EmbedErr     error
	Healthy      bool

	// Translations maps source text to its translation; unknown text is
	// echoed back with a "[target] " prefix.
	Translations map[string]string
	// Embeddings maps text to a vector; unknown text gets DefaultEmbedding.
	Embeddings       map[string][]float64
	DefaultEmbedding []float64

	Calls map[string]int
}

func New() *Fake {
	return &Fake{
		Healthy:          true,
		Translations:     map[string]string{},
		Embeddings:       map[string][]float64{},
		DefaultEmbedding: []float64{1, 0, 0},
		Calls:            map[string]int{},
	}
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[op]++
}

// CallCount is safe to use while calls are in flight.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *Fake) Summarize(_ context.Context, text string) (string, error) {
	f.count("summarize")
	if f.SummaryErr != nil {
		return "", f.SummaryErr
	}
	if len(text) > 40 {
		text = text[:40]
	}
	return "summary: " + text, nil
}

func (f *Fake) Translate(_ context.Context, text, _, target string) (string, error) {
	f.count("translate")
	if f.TranslateErr != nil {
		return "", f.TranslateErr
	}
	if out, ok := f.Translations[text]; ok {
		return out, nil
	}
	return "[" + target + "] " + text, nil
}

func (f *Fake) Embed(_ context.Context, text string) ([]float64, error) {
	f.count("embed")
	if f.EmbedErr != nil {
		return nil, f.EmbedErr
	}
	if v, ok := f.Embeddings[text]; ok {
		return v, nil
	}
	return f.DefaultEmbedding, nil
}

func (f *Fake) Health(context.Context) bool { return f.Healthy }

var _ ai.Client = (*Fake)(nil)
