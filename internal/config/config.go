// Package config loads and sanitizes the runtime configuration for the
// loqui server from environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// ErrMissingSecret is returned when no JWT signing secret is configured.
// Every other setting has a usable default; the secret does not.
var ErrMissingSecret = errors.New("JWT_SECRET must be set")

// RateLimit defines the parameters for per-connection message rate limiting.
type RateLimit struct {
	Burst          int           `env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// Config holds the server configuration settings.
type Config struct {
	Port            string        `env:"SERVER_PORT"`
	DataDir         string        `env:"DATA_DIR"`
	JWTSecret       string        `env:"JWT_SECRET"`
	TokenTTL        time.Duration `env:"TOKEN_TTL"`
	AllowedOrigins  string        `env:"ALLOWED_ORIGINS"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE"`
	HistoryLimit    int           `env:"HISTORY_LIMIT"`
	LogLevel        string        `env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimit
}

// Default returns a Config populated with default values for all settings
// except the JWT secret, which has no safe default.
func Default() Config {
	return Config{
		Port:            ":8080",
		DataDir:         "",
		TokenTTL:        30 * 24 * time.Hour,
		AllowedOrigins:  "http://localhost:8080",
		MaxMessageSize:  4096,
		HistoryLimit:    100,
		LogLevel:        "INFO",
		ShutdownTimeout: 10 * time.Second,
		RateLimit: RateLimit{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// Load reads configuration from a .env file (if present) and the process
// environment, then applies defaults for anything left unset.
func Load() (Config, error) {
	// Best effort: absent .env files are not an error.
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, err
	}
	return sanitize(cfg)
}

func sanitize(cfg Config) (Config, error) {
	def := Default()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.HasPrefix(cfg.Port, ":") && !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = def.AllowedOrigins
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	return cfg, nil
}

// Origins splits the comma-separated allowed origins list.
func (c Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
