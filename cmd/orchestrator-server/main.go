// Copyright 2026 The Orchestrator Authors
// SPDX-License-Identifier: Apache-2.0

// Command orchestrator-server runs the task status and progress
// delivery server: it tracks task lifecycles in memory, consumes the
// execution pipeline's stream events, and pushes progress to
// subscribers over long-lived event streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	orchestrator "github.com/GolferGeek/orchestrator-ai-v2-sub005"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/auth"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/internal/config"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/bridge"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/event"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/handler"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/obs"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/session"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/stream"
	"github.com/GolferGeek/orchestrator-ai-v2-sub005/server/task"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	verifier, err := auth.NewVerifier([]byte(cfg.TokenKey))
	if err != nil {
		return err
	}

	mirror, err := newMirror(cfg, logger)
	if err != nil {
		return err
	}

	bus := event.NewBus(logger)
	defer bus.Close()

	buffer := obs.NewBuffer(obs.BufferConfig{
		Capacity: cfg.BufferCapacity,
		FeedSize: cfg.FeedSize,
		Logger:   logger,
	})
	defer buffer.Close()

	store := task.NewStore(task.StoreConfig{
		Mirror:     mirror,
		Bus:        bus,
		MessageTTL: cfg.MessageTTL,
		Retention:  retentionOverrides(cfg),
		Logger:     logger,
	})
	defer store.Close()

	registry := session.NewRegistry(session.RegistryConfig{
		InactivityTimeout: cfg.SessionInactivityTimeout,
		Logger:            logger,
	})
	defer registry.Close()

	emitter := stream.NewEmitter(stream.EmitterConfig{Buffer: buffer})

	eventBridge, err := bridge.NewBridge(bridge.BridgeConfig{
		Registry: registry,
		Store:    store,
		Emitter:  emitter,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	eventBridge.Register(bus)

	// Every lifecycle transition leaves a monitoring-only record in the
	// buffer alongside the user-facing frames.
	bus.Subscribe(event.TopicTaskStatusChanged, func(ctx context.Context, ev event.Event) error {
		notification, ok := ev.(*event.TaskNotificationEvent)
		if !ok {
			return fmt.Errorf("unexpected event %T on %s", ev, event.TopicTaskStatusChanged)
		}
		n := notification.Notification
		progress := n.Progress
		emitter.EmitObservability(&orchestrator.EventContext{
			TaskID:           n.TaskID,
			UserID:           n.UserID,
			AgentSlug:        n.AgentSlug,
			OrganizationSlug: n.OrganizationSlug,
			ConversationID:   n.ConversationID,
		}, string(event.TopicTaskStatusChanged), string(n.Status), n.Error, &progress)
		return nil
	})

	streamHandler, err := handler.NewStreamHandler(handler.StreamHandlerConfig{
		Store:     store,
		Registry:  registry,
		Buffer:    buffer,
		Verifier:  verifier,
		Heartbeat: cfg.Heartbeat,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	apiHandler, err := handler.NewAPIHandler(handler.APIHandlerConfig{
		Store:    store,
		Registry: registry,
		Buffer:   buffer,
		Bus:      bus,
		Verifier: verifier,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/tasks/{taskID}/stream", streamHandler.ServeHTTP)
	apiHandler.Routes(router)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl}))
}

// retentionOverrides collects the configured non-zero retention delays.
func retentionOverrides(cfg *config.Config) map[orchestrator.TaskType]time.Duration {
	overrides := make(map[orchestrator.TaskType]time.Duration)
	if cfg.RetentionEphemeral > 0 {
		overrides[orchestrator.TaskTypeEphemeral] = cfg.RetentionEphemeral
	}
	if cfg.RetentionLongRunning > 0 {
		overrides[orchestrator.TaskTypeLongRunning] = cfg.RetentionLongRunning
	}
	if cfg.RetentionSwarm > 0 {
		overrides[orchestrator.TaskTypeSwarm] = cfg.RetentionSwarm
	}
	if len(overrides) == 0 {
		return nil
	}
	return overrides
}

// newMirror opens the durable status mirror when a DSN is configured,
// falling back to the no-op mirror otherwise.
func newMirror(cfg *config.Config, logger *slog.Logger) (task.Mirror, error) {
	if cfg.DatabaseDSN == "" {
		return task.NopMirror{}, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	mirror, err := task.NewDatabaseMirror(task.DatabaseMirrorConfig{
		DB:      db,
		Migrate: cfg.DatabaseMigrate,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("database mirror enabled")
	return mirror, nil
}
