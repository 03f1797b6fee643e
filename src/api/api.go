// Package api assembles the engine from configuration and runs the HTTP
// server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/ai"
	_ "github.com/stake-plus/nexvote/src/ai/openai"
	"github.com/stake-plus/nexvote/src/config"
	"github.com/stake-plus/nexvote/src/data"
	"github.com/stake-plus/nexvote/src/dedup"
	"github.com/stake-plus/nexvote/src/finalize"
	"github.com/stake-plus/nexvote/src/ledger"
	"github.com/stake-plus/nexvote/src/logging"
	"github.com/stake-plus/nexvote/src/metrics"
	"github.com/stake-plus/nexvote/src/notify"
	"github.com/stake-plus/nexvote/src/relay"
	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/store/gormstore"
	"github.com/stake-plus/nexvote/src/store/memstore"
	"github.com/stake-plus/nexvote/src/translate"
	"github.com/stake-plus/nexvote/src/webserver"
	"github.com/stake-plus/nexvote/src/workflow"
)

// App holds every long-lived dependency of a running engine.
type App struct {
	Config config.Config
	Log    zerolog.Logger
	Store  store.Store
	AI     ai.Client
	Anchor relay.Anchorer
	Server *webserver.Server

	redis  *redis.Client
	events notify.Publisher
}

// OpenStore selects the in-memory store for memory:// and a gorm store
// otherwise. Gorm stores are migrated before use.
func OpenStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Store, error) {
	if strings.HasPrefix(cfg.DatabaseDSN, "memory://") {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	}
	s, err := gormstore.Open(ctx, cfg.DatabaseDSN, logging.Component(log, "store"))
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx, cfg.AI.EmbeddingDimension); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Build wires the engine. The returned App must be closed.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app := &App{Log: log, Store: st}

	if err := data.LoadSettings(ctx, st); err != nil {
		log.Warn().Err(err).Msg("settings unavailable, using configured values")
	} else {
		config.ApplySettings(&cfg, data.GetSetting)
	}
	if err := cfg.Validate(); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Config = cfg

	if app.redis, err = data.Redis(ctx, cfg.RedisURL); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-process caches")
		app.redis = nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if app.AI, err = ai.NewClient(ai.FactoryConfig{
		Provider:       cfg.AI.Provider,
		ServiceURL:     cfg.AI.ServiceURL,
		APIKey:         cfg.AI.APIKey,
		Timeout:        cfg.AI.Timeout,
		MaxAttempts:    cfg.AI.MaxAttempts,
		Model:          cfg.AI.Model,
		EmbeddingModel: cfg.AI.EmbeddingModel,
	}); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("ai client: %w", err)
	}
	tr, err := translate.New(app.AI, translate.Options{
		CacheSize: cfg.AI.TranslationCache,
		Redis:     app.redis,
		Log:       logging.Component(log, "translate"),
		Metrics:   m,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	if app.Anchor, err = relay.New(ctx, cfg.Relay, logging.Component(log, "relay"), m); err != nil {
		_ = app.Close()
		return nil, err
	}
	if app.events, err = notify.New(cfg.Events, app.redis, logging.Component(log, "notify")); err != nil {
		_ = app.Close()
		return nil, err
	}

	wf := workflow.New(workflow.Deps{
		Store:               st,
		AI:                  app.AI,
		Translator:          tr,
		Dedup:               dedup.New(app.AI, st, cfg.AI.SimilarityThreshold, logging.Component(log, "dedup"), m),
		Anchor:              app.Anchor,
		Events:              app.events,
		Idempotency:         data.NewIdempotency(app.redis),
		Log:                 logging.Component(log, "workflow"),
		Metrics:             m,
		DefaultDeadlineDays: cfg.Engine.DefaultDeadlineDays,
	})
	lg := ledger.New(st, logging.Component(log, "ledger"), m,
		ledger.WithSignedMetaVerification(cfg.Engine.VerifySignedMeta))
	fin := finalize.New(st, app.Anchor, app.events, cfg.Engine.PassThreshold, logging.Component(log, "finalize"), m)

	app.Server = webserver.New(ctx, webserver.Deps{
		Config:     cfg,
		Store:      st,
		Workflow:   wf,
		Ledger:     lg,
		Finalizer:  fin,
		Translator: tr,
		Anchor:     app.Anchor,
		AI:         app.AI,
		Metrics:    m,
		Gatherer:   reg,
		Log:        logging.Component(log, "http"),
	})
	return app, nil
}

// Close releases every connection the app opened.
func (a *App) Close() error {
	var result *multierror.Error
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("events: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("redis: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("store: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	app, err := Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	httpSrv := &http.Server{
		Addr:              ":" + app.Config.Port,
		Handler:           app.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info().
		Str("port", app.Config.Port).
		Bool("relay", app.Anchor.Configured()).
		Str("events", app.Config.Events.Backend).
		Msg("NexVote API listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
