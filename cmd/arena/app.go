package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/arenalive/arena/internal/broadcast"
	"github.com/arenalive/arena/internal/config"
	"github.com/arenalive/arena/internal/gateway"
	"github.com/arenalive/arena/internal/orchestrator"
	"github.com/arenalive/arena/internal/storage"
)

// app bundles the wired-up components behind every command.
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	orch     *orchestrator.Orchestrator
	streamer gateway.Streamer
	pub      broadcast.Publisher
	logger   *slog.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger()

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = storage.DefaultDBPath()
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		store.Close()
		return nil, err
	}

	var pub broadcast.Publisher = broadcast.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := broadcast.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Warn("kafka unavailable, events will not be published", "error", err)
		} else {
			pub = kp
		}
	}

	streamer := gateway.NewClient(gateway.Config{
		APIKey:         cfg.Gateway.APIKey,
		BaseURL:        cfg.Gateway.BaseURL,
		RequestTimeout: cfg.Gateway.RequestTimeout.Std(),
	}, logger)

	orch := orchestrator.New(store, streamer, pub, orchestrator.Config{
		Roster:            cfg.Debate.Roster,
		MaxTurns:          cfg.Debate.MaxTurns,
		FirstTokenTimeout: cfg.Debate.FirstTokenTimeout.Std(),
		PausePoll:         cfg.Debate.PausePoll.Std(),
		PacingDelay:       cfg.Debate.PacingDelay.Std(),
		MaxSkippedTurns:   cfg.Debate.MaxSkippedTurns,
		StaleThreshold:    cfg.Debate.StaleThreshold.Std(),
		TranscriptWindow:  cfg.Debate.TranscriptWindow,
	}, logger)

	return &app{
		cfg:      cfg,
		store:    store,
		orch:     orch,
		streamer: streamer,
		pub:      pub,
		logger:   logger,
	}, nil
}

func (a *app) close() {
	a.pub.Close()
	if err := a.store.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to close storage:", err)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("ARENA_LOG"); v != "" {
		switch v {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
