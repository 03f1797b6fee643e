package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/nexvote/src/config"
	"github.com/stake-plus/nexvote/src/store/memstore"
)

func TestBuildInMemory(t *testing.T) {
	cfg := config.Defaults()
	cfg.AI.ServiceURL = ""
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := Build(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, app.Close()) }()

	assert.IsType(t, &memstore.Store{}, app.Store)
	assert.False(t, app.Anchor.Configured())

	w := httptest.NewRecorder()
	app.Server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ai":false`)

	w = httptest.NewRecorder()
	app.Server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.AI.ServiceURL = ""
	cfg.Engine.PassThreshold = 1.5
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildRejectsUnknownEventsBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.AI.ServiceURL = ""
	cfg.Events.Backend = "kafka"
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "kafka")
}
