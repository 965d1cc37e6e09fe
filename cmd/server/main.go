package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loquihq/loqui/internal/auth"
	"github.com/loquihq/loqui/internal/config"
	"github.com/loquihq/loqui/internal/httpapi"
	"github.com/loquihq/loqui/internal/relay"
	"github.com/loquihq/loqui/internal/store"
)

// Exit codes distinguish configuration mistakes from runtime failures for
// the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loqui terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run owns the full lifecycle so deferred cleanup (database close, hub
// drain) executes before the process exits.
func run() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	log.Info("starting loqui server", "port", cfg.Port)

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("closing database")
		_ = db.Close()
	}()

	users := store.NewUsers(db, log)
	messages := store.NewMessages(db, log)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)

	registry := relay.NewRegistry()
	hub := relay.NewHub(log)
	router := relay.NewRouter(hub, registry, messages, users, log)
	origins := relay.NewOriginChecker(cfg.Origins(), log)
	gateway := relay.NewGateway(hub, router, registry, users, relay.SessionConfig{
		MaxMessageSize: cfg.MaxMessageSize,
		RateBurst:      cfg.RateLimit.Burst,
		RateInterval:   cfg.RateLimit.RefillInterval,
	}, origins, log)

	go hub.Run()
	log.Info("hub started")

	api := httpapi.NewAPI(users, messages, tokens, cfg.HistoryLimit, log)
	server := httpapi.NewServer(cfg.Port, httpapi.Routes(api, gateway))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpapi.Start(server, log)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return exitRuntime, fmt.Errorf("http server failed: %w", err)
		}
	case s := <-sig:
		log.Info("shutdown signal received", "signal", s.String())
	}

	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub did not drain cleanly", "error", err)
	}
	if err := httpapi.Shutdown(server, cfg.ShutdownTimeout, log); err != nil {
		return exitRuntime, err
	}

	return exitOK, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
