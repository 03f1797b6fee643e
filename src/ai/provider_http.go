package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stake-plus/nexvote/src/webclient"
)

type httpClient struct {
	baseURL     string
	apiKey      string
	timeout     time.Duration
	maxAttempts int
	httpClient  *http.Client
}

func newHTTPClient(cfg FactoryConfig) (Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpClient{
		baseURL:     strings.TrimRight(cfg.ServiceURL, "/"),
		apiKey:      cfg.APIKey,
		timeout:     timeout,
		maxAttempts: cfg.MaxAttempts,
		// the per-call context bounds each request; the client timeout is a backstop
		httpClient: webclient.NewDefault(2 * timeout),
	}, nil
}

func (c *httpClient) Summarize(ctx context.Context, text string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.post(ctx, "/summarize", map[string]string{"text": text}, &out); err != nil {
		return "", fmt.Errorf("ai summarize: %w", err)
	}
	return out.Summary, nil
}

func (c *httpClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var out struct {
		Translation string `json:"translation"`
	}
	body := map[string]string{"text": text, "source_lang": sourceLang, "target_lang": targetLang}
	if err := c.post(ctx, "/translate", body, &out); err != nil {
		return "", fmt.Errorf("ai translate: %w", err)
	}
	return out.Translation, nil
}

func (c *httpClient) Embed(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := c.post(ctx, "/embed", map[string]string{"text": text}, &out); err != nil {
		return nil, fmt.Errorf("ai embed: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ai embed: empty embedding")
	}
	return out.Embedding, nil
}

func (c *httpClient) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	status, _, err := webclient.Do(ctx, c.httpClient, webclient.Request{Method: http.MethodGet, URL: c.baseURL + "/health"})
	return err == nil && status >= 200 && status < 300
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return webclient.DoJSON(ctx, c.httpClient, c.maxAttempts, webclient.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + path,
		Headers: map[string]string{"X-API-Key": c.apiKey},
		Body:    body,
	}, out)
}
