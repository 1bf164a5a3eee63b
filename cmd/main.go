/*
Package main is the entry point for the LF Chat application.

It is responsible for loading configuration, initializing the global logging system,
connecting to PostgreSQL and (optionally) S3, starting the chat engine, the HTTP
server and the retention sweeper, and gracefully handling operating system
interrupt signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lfchat/internal/app/chat"
	"lfchat/internal/app/db"
	"lfchat/internal/app/storage"
	"lfchat/internal/configs"
	"lfchat/internal/handler"
	"lfchat/internal/pkg/logx"
)

const shutdownTimeout = 20 * time.Second

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Strs("rooms", cfg.Rooms).
		Str("sweep_schedule", cfg.SweepSchedule).
		Bool("storage_enabled", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal(err, "Server stopped with error")
	}

	logx.Info("Server gracefully stopped.")
}

func run(ctx context.Context, cfg *configs.AppConfig) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	queries := db.New(pool)

	// no connection survives a restart
	reset, err := queries.ResetOnline(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset online flags: %w", err)
	}
	logx.Info("Online flags reset", "identities", reset)

	var (
		storageService storage.StorageService
		images         chat.ImageStore
	)
	if cfg.StorageEnabled() {
		storageService, err = storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize storage service: %w", err)
		}
		images = storageService
	} else {
		logx.Warn("S3 settings incomplete, image messages are disabled")
	}

	coordinator := chat.NewCoordinator(queries, images, chat.Config{
		Rooms:               cfg.Rooms,
		DefaultRoom:         cfg.DefaultRoom,
		RoomMessageLimit:    cfg.RoomMessageLimit,
		PrivateMessageLimit: cfg.PrivateMessageLimit,
	})

	sweeper, err := chat.NewSweeper(coordinator.Retention(), chat.SweeperConfig{
		Schedule:       cfg.SweepSchedule,
		Inactivity:     cfg.PrivateInactivityTTL,
		GhostRetention: cfg.GhostRetention,
	})
	if err != nil {
		return err
	}

	router := handler.Router(&handler.AppDeps{
		Coordinator:    coordinator,
		Config:         cfg,
		StorageService: storageService,
		Store:          queries,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logx.Info(fmt.Sprintf("LF Chat Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errList []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errList = append(errList, fmt.Errorf("server forced to shutdown: %w", err))
		}

		// hijacked websocket connections are not covered by server.Shutdown
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			errList = append(errList, err)
		}
		coordinator.Presence().Wait()

		return errors.Join(errList...)
	})

	return g.Wait()
}
