// Package main запускает HTTP-сервер API клиентов и их заказов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/customer-orders/internal/config"
	"github.com/mmeshcher/customer-orders/internal/handler"
	"github.com/mmeshcher/customer-orders/internal/metrics"
	"github.com/mmeshcher/customer-orders/internal/middleware"
	"github.com/mmeshcher/customer-orders/internal/repository"
	"github.com/mmeshcher/customer-orders/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	m := metrics.New()
	repo := repository.NewCustomerRepository(store, logger, m)
	defer repo.Close()

	if cfg.APIUsername == "" {
		sugar.Warn("API_USERNAME is not set, token issuing is disabled")
	}
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, tokens will not survive a restart")
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	tokens := service.NewTokenService(cfg.APIUsername, cfg.APIPassword, authMiddleware, cfg.TokenTTL)
	h := handler.NewHandler(repo, tokens, logger, authMiddleware, m)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting customers server", "addr", cfg.RunAddress, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// openStore выбирает хранилище по конфигурации и при необходимости оборачивает его кэшем.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	var store repository.Store
	switch cfg.Storage {
	case config.StoragePostgres:
		pg, err := repository.NewPostgresStore(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		store = repository.NewMemoryStore()
	}

	if cfg.CacheSize == 0 {
		return store, nil
	}

	cached, err := repository.NewCachedStore(store, cfg.CacheSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cached, nil
}
