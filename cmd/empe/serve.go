package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/api"
	"github.com/vjranagit/empe/pkg/models"
	"github.com/vjranagit/empe/pkg/storage"
)

// serveCmd runs the HTTP API over the run archive
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run archive over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("Configuration loaded",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("storage_path", cfg.Storage.Path),
		zap.Int("retention_days", cfg.Storage.RetentionDays),
		zap.Int("compression_level", cfg.Storage.CompressionLevel),
		zap.Int("cache_capacity", cfg.Storage.CacheCapacity))

	// Initialize storage
	store, err := storage.NewStorage(cfg.ToStorageConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	cache := storage.NewEnvelopeCache(cfg.Storage.CacheCapacity, cfg.Storage.CacheTTL)
	server := api.NewServer(api.Options{
		Addr:     cfg.Server.ListenAddr,
		Timeout:  cfg.Server.Timeout,
		Envelope: cfg.ToEnvelopeConfig(),
		Seed:     cfg.Envelope.Seed,
		Logger:   logger,
	}, store, cache, models.NewRegistry())

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.String("addr", cfg.Server.ListenAddr))
		errCh <- server.Start()
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("Server stopped", zap.Float64("cache_hit_rate", cache.Stats().HitRate()))
	return nil
}
