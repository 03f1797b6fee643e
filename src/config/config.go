package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. Values come from defaults, then
// an optional YAML file (NEXVOTE_CONFIG), then the environment, then the
// settings table (see ApplySettings).
type Config struct {
	DatabaseDSN string   `yaml:"database_dsn"`
	RedisURL    string   `yaml:"redis_url"`
	JWTSecret   string   `yaml:"jwt_secret"`
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
	LogPretty   bool     `yaml:"log_pretty"`

	AI        AI        `yaml:"ai"`
	Relay     Relay     `yaml:"relay"`
	Engine    Engine    `yaml:"engine"`
	Events    Events    `yaml:"events"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

type AI struct {
	Provider            string        `yaml:"provider"` // http|openai|disabled
	Model               string        `yaml:"model"`
	EmbeddingModel      string        `yaml:"embedding_model"`
	ServiceURL          string        `yaml:"service_url"`
	APIKey              string        `yaml:"api_key"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxAttempts         int           `yaml:"max_attempts"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	EmbeddingDimension  int           `yaml:"embedding_dimension"`
	TranslationCache    int           `yaml:"translation_cache"`
}

type Relay struct {
	RPCURL          string        `yaml:"rpc_url"`
	PrivateKey      string        `yaml:"private_key"`
	RegistryAddress string        `yaml:"registry_address"`
	ChainID         int64         `yaml:"chain_id"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	// Budget caps one Submit call across all attempts and backoff waits.
	// Anchoring runs inside request handlers.
	Budget time.Duration `yaml:"budget"`
}

// Configured reports whether a signer can be built at all.
func (r Relay) Configured() bool {
	return r.RPCURL != "" && r.PrivateKey != "" && r.RegistryAddress != ""
}

type Engine struct {
	PassThreshold       float64 `yaml:"pass_threshold"`
	DefaultDeadlineDays int     `yaml:"default_deadline_days"`
	VerifySignedMeta    bool    `yaml:"verify_signed_meta"`
}

type Events struct {
	Backend string `yaml:"backend"` // redis|nats|none
	NATSURL string `yaml:"nats_url"`
	Stream  string `yaml:"stream"`
}

type RateLimit struct {
	ProposalMax    int           `yaml:"proposal_max"`
	ProposalWindow time.Duration `yaml:"proposal_window"`
}

func Defaults() Config {
	return Config{
		DatabaseDSN: "memory://",
		JWTSecret:   "dev-secret-change-me",
		Port:        "3000",
		CORSOrigins: []string{"http://localhost:4200"},
		LogLevel:    "info",
		AI: AI{
			Provider:            "http",
			ServiceURL:          "http://localhost:8000",
			Timeout:             5 * time.Second,
			MaxAttempts:         2,
			SimilarityThreshold: 0.85,
			EmbeddingDimension:  384,
			TranslationCache:    1000,
		},
		Relay: Relay{
			ChainID:     11155111,
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
			Budget:      15 * time.Second,
		},
		Engine: Engine{
			PassThreshold:       0.51,
			DefaultDeadlineDays: 7,
		},
		Events: Events{
			Backend: "redis",
			Stream:  "nexvote.events",
		},
		RateLimit: RateLimit{
			ProposalMax:    5,
			ProposalWindow: 15 * time.Minute,
		},
	}
}

// Load resolves the configuration from file and environment.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("NEXVOTE_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DatabaseDSN = getenv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.Port = getenv("PORT", cfg.Port)
	if raw := os.Getenv("CORS_ORIGINS"); raw != "" {
		cfg.CORSOrigins = parseCSV(raw)
	}
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getBool("LOG_PRETTY", cfg.LogPretty)

	cfg.AI.Provider = strings.ToLower(getenv("AI_PROVIDER", cfg.AI.Provider))
	cfg.AI.Model = getenv("AI_MODEL", cfg.AI.Model)
	cfg.AI.EmbeddingModel = getenv("AI_EMBEDDING_MODEL", cfg.AI.EmbeddingModel)
	cfg.AI.ServiceURL = strings.TrimRight(getenv("AI_SERVICE_URL", cfg.AI.ServiceURL), "/")
	cfg.AI.APIKey = getenv("AI_API_KEY", cfg.AI.APIKey)
	cfg.AI.Timeout = getDuration("AI_TIMEOUT", cfg.AI.Timeout)
	cfg.AI.MaxAttempts = getInt("AI_MAX_ATTEMPTS", cfg.AI.MaxAttempts)
	cfg.AI.SimilarityThreshold = getFloat("SIMILARITY_THRESHOLD", cfg.AI.SimilarityThreshold)
	cfg.AI.EmbeddingDimension = getInt("EMBEDDING_DIMENSION", cfg.AI.EmbeddingDimension)

	cfg.Relay.RPCURL = getenv("RPC_URL", cfg.Relay.RPCURL)
	cfg.Relay.PrivateKey = getenv("RELAYER_PRIVATE_KEY", cfg.Relay.PrivateKey)
	cfg.Relay.RegistryAddress = getenv("REGISTRY_ADDRESS", cfg.Relay.RegistryAddress)
	cfg.Relay.ChainID = int64(getInt("CHAIN_ID", int(cfg.Relay.ChainID)))
	cfg.Relay.Timeout = getDuration("RELAY_TIMEOUT", cfg.Relay.Timeout)
	cfg.Relay.MaxAttempts = getInt("RELAY_MAX_ATTEMPTS", cfg.Relay.MaxAttempts)
	cfg.Relay.Budget = getDuration("RELAY_BUDGET", cfg.Relay.Budget)

	cfg.Engine.PassThreshold = getFloat("PASS_THRESHOLD", cfg.Engine.PassThreshold)
	cfg.Engine.VerifySignedMeta = getBool("VERIFY_SIGNED_META", cfg.Engine.VerifySignedMeta)

	cfg.Events.Backend = strings.ToLower(getenv("EVENTS_BACKEND", cfg.Events.Backend))
	cfg.Events.NATSURL = getenv("NATS_URL", cfg.Events.NATSURL)

	cfg.RateLimit.ProposalMax = getInt("PROPOSAL_RATE_LIMIT_MAX", cfg.RateLimit.ProposalMax)
	cfg.RateLimit.ProposalWindow = getDuration("PROPOSAL_RATE_LIMIT_WINDOW", cfg.RateLimit.ProposalWindow)
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.AI.SimilarityThreshold < 0 || c.AI.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be within [0,1], got %v", c.AI.SimilarityThreshold)
	}
	if c.Engine.PassThreshold < 0 || c.Engine.PassThreshold >= 1 {
		return fmt.Errorf("pass threshold must be within [0,1), got %v", c.Engine.PassThreshold)
	}
	if c.Relay.MaxAttempts < 1 {
		return fmt.Errorf("relay max attempts must be positive")
	}
	if c.RateLimit.ProposalMax < 1 {
		return fmt.Errorf("proposal rate limit max must be positive, got %d", c.RateLimit.ProposalMax)
	}
	if c.RateLimit.ProposalWindow <= 0 {
		return fmt.Errorf("proposal rate limit window must be positive, got %v", c.RateLimit.ProposalWindow)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("missing JWT_SECRET")
	}
	return nil
}

// ApplySettings overlays runtime settings rows (name -> value) on cfg.
// Unknown names and unparsable values are ignored.
func ApplySettings(cfg *Config, get func(name string) string) {
	if raw := get("similarity_threshold"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			cfg.AI.SimilarityThreshold = v
		}
	}
	if raw := get("pass_threshold"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v < 1 {
			cfg.Engine.PassThreshold = v
		}
	}
	if raw := get("proposal_rate_limit_max"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.RateLimit.ProposalMax = v
		}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	// bare numbers are milliseconds
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func parseCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimRight(strings.TrimSpace(part), "/"); p != "" {
			out = append(out, p)
		}
	}
	return out
}
