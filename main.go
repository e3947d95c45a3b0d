package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	reapInterval    = time.Minute
	shutdownTimeout = 5 * time.Second
)

func main() {
	boot := stdoutLogger()

	flags := newFlagSet(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	cfg, err := LoadConfig(flags)
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	logger, closeLog, err := setupLogging(cfg, os.Stdout)
	if err != nil {
		boot.Fatal().Err(err).Msg("logging setup failed")
	}
	defer closeLog()

	var db *DB
	if cfg.DB.Path != "" {
		db, err = OpenDB(cfg.DB.Path, componentLogger(logger, "db"))
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.DB.Path).Msg("open database")
		}
		defer db.Close()
	} else {
		logger.Warn().Msg("no database configured, accounts disabled")
	}

	hub, err := buildHub(cfg, db, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("server setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go hub.matches.RunReaper(ctx, reapInterval)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           SetupRoutes(hub, cfg.ClientDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("client", cfg.ClientDir).Msg("Server starting")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("ListenAndServe")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	hub.matches.StopAll()
}

// buildHub wires accounts, metrics and the match registry into a Hub.
// db may be nil, which disables accounts.
func buildHub(cfg Config, db *DB, logger zerolog.Logger) (*Hub, error) {
	metrics, err := NewMetrics()
	if err != nil {
		return nil, err
	}

	var (
		auth    *Auth
		results ResultRecorder
	)
	if db != nil {
		auth, err = NewAuth(db, cfg.Auth, componentLogger(logger, "auth"))
		if err != nil {
			return nil, err
		}
		results = db
	}

	settings := MatchSettings{
		Engine:         cfg.EngineConfig(),
		StepInterval:   cfg.Game.StepInterval(),
		BroadcastEvery: cfg.Game.BroadcastEvery,
	}
	matches := NewMatchManager(settings, cfg.Limits.MaxMatches, cfg.Match.IdleTimeout,
		results, metrics, componentLogger(logger, "match"))
	if err := metrics.ObserveActiveMatches(matches.Count); err != nil {
		return nil, err
	}

	return NewHub(matches, cfg.Limits, db, auth, componentLogger(logger, "hub")), nil
}
