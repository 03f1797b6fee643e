package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/summarize", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in struct{ Text string }
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"summary": "short: " + in.Text[:5]})
	})
	mux.HandleFunc("/translate", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "ta", in["source_lang"])
		assert.Equal(t, "en", in["target_lang"])
		_ = json.NewEncoder(w).Encode(map[string]string{"translation": "hello"})
	})
	mux.HandleFunc("/embed", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]float64{"embedding": {0.1, 0.2, 0.3}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient(t *testing.T) {
	srv := newBackend(t)
	c, err := NewClient(FactoryConfig{ServiceURL: srv.URL + "/", APIKey: "secret", Timeout: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, c.Health(ctx))

	s, err := c.Summarize(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "short: hello", s)

	tr, err := c.Translate(ctx, "vanakkam", "ta", "en")
	require.NoError(t, err)
	assert.Equal(t, "hello", tr)

	emb, err := c.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, emb)
}

func TestHTTPClientNon2xxIsError(t *testing.T) {
	srv := newBackend(t)
	c, err := NewClient(FactoryConfig{ServiceURL: srv.URL, APIKey: "wrong", Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.Summarize(context.Background(), "hello world")
	assert.Error(t, err)
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := NewClient(FactoryConfig{ServiceURL: srv.URL, Timeout: 20 * time.Millisecond, MaxAttempts: 1})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewClientWithoutURLIsDisabled(t *testing.T) {
	c, err := NewClient(FactoryConfig{})
	require.NoError(t, err)
	_, err = c.Summarize(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.False(t, c.Health(context.Background()))

	_, err = NewClient(FactoryConfig{Provider: "nope", ServiceURL: "http://x"})
	assert.Error(t, err)
}
