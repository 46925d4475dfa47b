// Package main запускает HTTP-сервер кредитного пула.
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

	"github.com/mmeshcher/lendpool/internal/config"
	"github.com/mmeshcher/lendpool/internal/handler"
	"github.com/mmeshcher/lendpool/internal/ledger"
	"github.com/mmeshcher/lendpool/internal/metrics"
	"github.com/mmeshcher/lendpool/internal/middleware"
	"github.com/mmeshcher/lendpool/internal/payout"
	"github.com/mmeshcher/lendpool/internal/repository"
	"github.com/mmeshcher/lendpool/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var store service.Store
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresStore(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		store = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, ledger state is kept in memory")
		store = repository.NewMemoryStore()
	}

	var payer service.Payer
	if cfg.PayoutSystemAddress != "" {
		payer = payout.NewClient(cfg.PayoutSystemAddress, logger)
	} else {
		payer = payout.NewLogPayer(logger)
	}

	m := metrics.New()
	engine := ledger.NewEngine(cfg.OwnerAccount, cfg.MaxLoanAmount)
	svc := service.NewService(engine, store, payer, logger, m)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, issued tokens will not survive a restart")
	}
	h := handler.NewHandler(svc, logger, authMiddleware, m.Handler())

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая проверка просроченных займов
	g.Go(func() error {
		svc.RunOverdueMonitor(ctx, cfg.OverdueCheckInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting lendpool server",
			"addr", cfg.RunAddress,
			"owner", cfg.OwnerAccount,
			"max_loan_amount", cfg.MaxLoanAmount.String(),
		)
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
