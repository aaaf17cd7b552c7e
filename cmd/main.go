package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repost/internal/blob"
	"repost/internal/events"
	"repost/internal/logger"
	"repost/internal/models"
	"repost/internal/ratelimit"
	"repost/internal/server"
	"repost/internal/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "repost",
		Short:         "Image upload backend with content deduplication",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the yaml config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:       "migrate [up|down|status|reset|version]",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "reset", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := models.LoadConfig(configPath)
			if err != nil {
				return err
			}
			_, closer := logger.New(cfg.Log)
			defer closer.Close()
			return storage.Migrate(cmd.Context(), cfg.DatabaseURL, args[0])
		},
	})
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, closer := logger.New(cfg.Log)
	defer closer.Close()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer repo.Close()

	minioStore, err := blob.NewMinioStore(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to init blob store: %w", err)
	}
	blobs := blob.NewRetrying(minioStore, cfg.Blob.MaxAttempts, 200*time.Millisecond)

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBroker != "" {
		publisher = events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
	}
	defer publisher.Close()

	deps := server.Deps{Repo: repo, Blobs: blobs, Events: publisher, Log: log}
	if cfg.RedisAddr != "" {
		limiter, err := ratelimit.NewFixedWindow(cfg.RedisAddr, cfg.RedisPassword, "", cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			return fmt.Errorf("failed to init rate limiter: %w", err)
		}
		defer limiter.Close()
		deps.Limiter = limiter
	}

	srv, err := server.NewServer(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to init server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

func openRepository(ctx context.Context, cfg *models.Config) (storage.Repository, error) {
	if cfg.StorageDriver == "memory" {
		return storage.NewMemory(storage.WithMaxPageSize(cfg.Listing.BackendPageCap)), nil
	}
	return storage.NewStorage(ctx, cfg.DatabaseURL, storage.Options{
		Timeout:     cfg.DBTimeout,
		MaxPageSize: cfg.Listing.BackendPageCap,
	})
}
