package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	memori "github.com/memorilabs/memori"
	"github.com/memorilabs/memori/httpapi"
	"github.com/memorilabs/memori/internal/buildconfig"
	"github.com/memorilabs/memori/internal/config"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	cfg := memori.FromEnv()
	cfg.Logger = logger

	orc, err := memori.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open memori", zap.Error(err))
	}
	defer func() { _ = orc.Close() }()

	if _, err := orc.DatabaseInfo(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}
	logger.Info("connected to database", zap.String("uri", cfg.DatabaseURI))

	if _, err := orc.Enable(memori.HookExplicit); err != nil {
		logger.Fatal("failed to enable memori", zap.Error(err))
	}

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: httpapi.NewRouter(orc, logger),
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("version", buildconfig.Version()),
			zap.String("commit", buildconfig.Commit()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	orc.Disable()
	logger.Info("server stopped")
}
