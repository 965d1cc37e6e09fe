package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.TokenTTL, cfg.TokenTTL)
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.HistoryLimit, cfg.HistoryLimit)
	assert.Equal(t, def.RateLimit.Burst, cfg.RateLimit.Burst)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("HISTORY_LIMIT", "25")
	t.Setenv("RATE_LIMIT_BURST", "12")

	cfg, err := Load()
	require.NoError(t, err)

	// Bare port numbers get a colon prepended.
	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 25, cfg.HistoryLimit)
	assert.Equal(t, 12, cfg.RateLimit.Burst)
}

func TestSanitizeRejectsNegativeValues(t *testing.T) {
	cfg := Config{
		JWTSecret:      "s",
		TokenTTL:       -time.Hour,
		MaxMessageSize: -1,
		HistoryLimit:   -5,
	}

	got, err := sanitize(cfg)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.TokenTTL, got.TokenTTL)
	assert.Equal(t, def.MaxMessageSize, got.MaxMessageSize)
	assert.Equal(t, def.HistoryLimit, got.HistoryLimit)
}

func TestOrigins(t *testing.T) {
	cfg := Config{AllowedOrigins: "http://a.example.com, http://b.example.com ,,  "}
	assert.Equal(t, []string{"http://a.example.com", "http://b.example.com"}, cfg.Origins())

	cfg.AllowedOrigins = "*"
	assert.Equal(t, []string{"*"}, cfg.Origins())
}
