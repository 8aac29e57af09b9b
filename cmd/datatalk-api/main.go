package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datatalk/datatalk/internal/api"
	"github.com/datatalk/datatalk/internal/auth"
	"github.com/datatalk/datatalk/internal/chat"
	"github.com/datatalk/datatalk/internal/config"
	"github.com/datatalk/datatalk/internal/llm"
	"github.com/datatalk/datatalk/internal/observability"
	duckdbengine "github.com/datatalk/datatalk/internal/query/duckdb"
	"github.com/datatalk/datatalk/internal/registry"
	"github.com/datatalk/datatalk/internal/storage"
	localstore "github.com/datatalk/datatalk/internal/storage/local"
	s3store "github.com/datatalk/datatalk/internal/storage/s3"
	"github.com/datatalk/datatalk/internal/viz"
)

func main() {
	cfg, err := config.LoadFromEnv("datatalk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	objectStore, err := openObjectStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	model, err := llm.New(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize language model", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("language model configured", slog.String("model", model.Name()))

	loader := duckdbengine.NewLoader(objectStore)
	selector := viz.NewSelector(cfg.Viz.DisplayThreshold, cfg.Viz.TableRowLimit)
	sessions := registry.New(registry.Config{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		MaxSessions:   cfg.Session.MaxSessions,
	}, func(sessionID string) *chat.Conversation {
		return chat.New(chat.Options{
			SessionID:     sessionID,
			Logger:        logger,
			Model:         model,
			Loader:        loader,
			Selector:      selector,
			InferenceRows: cfg.Session.InferenceSampleRows,
			SampleRows:    cfg.Session.SampleRows,
			MaxHistory:    cfg.Session.MaxHistoryMessages,
			TopK:          cfg.Query.TopK,
			RowLimit:      cfg.Query.RowLimit,
			QueryTimeout:  cfg.Query.Timeout,
		})
	}, logger)

	deps := api.Dependencies{
		Logger:           logger,
		Sessions:         sessions,
		Readiness:        api.CombineReadinessChecks(objectStore.HealthCheck),
		DependencyTimout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		if err := sessions.Run(ctx); err != nil {
			logger.Error("session sweeper failed", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
	<-sweeperDone
}

func openObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	switch cfg.ObjectStore.Driver {
	case config.ObjectStoreDriverLocal:
		return localstore.New(cfg.ObjectStore.LocalDir)
	case config.ObjectStoreDriverS3:
		return s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported object store driver %q", cfg.ObjectStore.Driver)
	}
}
