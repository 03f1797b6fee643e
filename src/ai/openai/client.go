// Package openai registers an "openai" provider that serves summaries and
// translations from chat completions and vectors from the embeddings API.
// Any OpenAI-compatible endpoint works; point AI_SERVICE_URL at its /v1 base.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stake-plus/nexvote/src/ai"
	"github.com/stake-plus/nexvote/src/webclient"
)

func init() {
	ai.RegisterProvider("openai", newClient, "gpt")
}

const (
	defaultModel          = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"

	summarizePrompt = "Summarize the following civic proposal in two or three plain sentences. Reply with the summary only."
	translatePrompt = "Translate the user's text from %s to %s. Keep names and numbers unchanged. Reply with the translation only."
)

type client struct {
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	timeout        time.Duration
	attempts       int
	httpClient     *http.Client
}

func newClient(cfg ai.FactoryConfig) (ai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		baseURL:        strings.TrimRight(cfg.ServiceURL, "/"),
		apiKey:         cfg.APIKey,
		model:          valueOrDefault(cfg.Model, defaultModel),
		embeddingModel: valueOrDefault(cfg.EmbeddingModel, defaultEmbeddingModel),
		timeout:        timeout,
		attempts:       cfg.MaxAttempts,
		httpClient:     webclient.NewDefault(2 * timeout),
	}, nil
}

func (c *client) Summarize(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, summarizePrompt, text)
	if err != nil {
		return "", fmt.Errorf("openai summarize: %w", err)
	}
	return out, nil
}

func (c *client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	out, err := c.complete(ctx, fmt.Sprintf(translatePrompt, sourceLang, targetLang), text)
	if err != nil {
		return "", fmt.Errorf("openai translate: %w", err)
	}
	return out, nil
}

func (c *client) Embed(ctx context.Context, text string) ([]float64, error) {
	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	body := map[string]any{"model": c.embeddingModel, "input": text}
	if err := c.post(ctx, "/embeddings", body, &result); err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embed: empty embedding")
	}
	return result.Data[0].Embedding, nil
}

func (c *client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	status, _, err := webclient.Do(ctx, c.httpClient, webclient.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/models",
		Headers: c.headers(),
	})
	return err == nil && status >= 200 && status < 300
}

func (c *client) complete(ctx context.Context, system, user string) (string, error) {
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.2,
	}
	if err := c.post(ctx, "/chat/completions", body, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	out := strings.TrimSpace(result.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("empty completion")
	}
	return out, nil
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return webclient.DoJSON(ctx, c.httpClient, c.attempts, webclient.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + path,
		Headers: c.headers(),
		Body:    body,
	}, out)
}

func (c *client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func valueOrDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
