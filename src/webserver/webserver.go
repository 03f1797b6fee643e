// Package webserver exposes the lifecycle engine over HTTP with gin.
package webserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/ai"
	"github.com/stake-plus/nexvote/src/config"
	"github.com/stake-plus/nexvote/src/finalize"
	"github.com/stake-plus/nexvote/src/ledger"
	"github.com/stake-plus/nexvote/src/metrics"
	"github.com/stake-plus/nexvote/src/relay"
	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/translate"
	"github.com/stake-plus/nexvote/src/workflow"
)

type Deps struct {
	Config     config.Config
	Store      store.Store
	Workflow   *workflow.Orchestrator
	Ledger     *ledger.Ledger
	Finalizer  *finalize.Machine
	Translator *translate.Translator
	Anchor     relay.Anchorer
	AI         ai.Client
	Metrics    *metrics.Collector
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

type Server struct {
	Deps
	log    zerolog.Logger
	engine *gin.Engine
}

// New builds the router. ctx bounds background work such as rate limiter
// cleanup.
func New(ctx context.Context, d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{Deps: d, log: d.Log, engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.attachRoutes(ctx)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) attachRoutes(ctx context.Context) {
	cfg := s.Config
	s.engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Locale", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	s.engine.Use(localeMiddleware())

	s.engine.GET("/health", s.health)
	if s.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics.Handler(s.Gatherer)))
	}

	secret := []byte(cfg.JWTSecret)
	auth := JWTMiddleware(secret)
	createLimit := NewRateLimiter(ctx, cfg.RateLimit.ProposalMax, cfg.RateLimit.ProposalWindow)

	api := s.engine.Group("/api")
	{
		api.GET("/proposals", s.listProposals)
		api.GET("/proposals/:id", s.getProposal)
		api.GET("/proposals/:id/verify", s.verifyProposal)
		api.POST("/proposals", auth, RateLimitMiddleware(createLimit), s.createProposal)
		api.POST("/proposals/:id/vote", auth, s.castVote)
		api.DELETE("/proposals/:id/vote", auth, s.undoVote)
	}

	admin := api.Group("/admin", auth, RequireAdmin())
	{
		admin.POST("/finalize", s.finalize)
		admin.POST("/update-status", s.updateStatus)
		admin.GET("/audit-log", s.auditLog)
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.Metrics.ObserveRequest(route, strconv.Itoa(c.Writer.Status()), elapsed.Seconds())
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", c.Writer.Status()).
			Dur("elapsed", elapsed).
			Msg("request")
	}
}

const localeKey = "locale"

// localeMiddleware prefers the X-Locale header over the lang query parameter.
func localeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-Locale")
		if raw == "" {
			raw = c.Query("lang")
		}
		c.Set(localeKey, translate.NormalizeLocale(raw))
		c.Next()
	}
}

func locale(c *gin.Context) string {
	if v := c.GetString(localeKey); v != "" {
		return v
	}
	return translate.English
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	relayer := gin.H{"configured": s.Anchor.Configured()}
	if s.Anchor.Configured() {
		if bal, err := s.Anchor.Balance(ctx); err != nil {
			relayer["error"] = err.Error()
		} else {
			relayer["balanceWei"] = bal.String()
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"ai":        s.AI.Health(ctx),
		"relayer":   relayer,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
