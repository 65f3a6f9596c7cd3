// Package main starts the HTTP server of the checkout reconciliation service.
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

	"github.com/wasgeurtje/checkout-reconciler/internal/commerce"
	"github.com/wasgeurtje/checkout-reconciler/internal/config"
	"github.com/wasgeurtje/checkout-reconciler/internal/dedup"
	"github.com/wasgeurtje/checkout-reconciler/internal/draft"
	"github.com/wasgeurtje/checkout-reconciler/internal/handler"
	"github.com/wasgeurtje/checkout-reconciler/internal/middleware"
	"github.com/wasgeurtje/checkout-reconciler/internal/payment"
	"github.com/wasgeurtje/checkout-reconciler/internal/reconcile"
	"github.com/wasgeurtje/checkout-reconciler/internal/session"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.PaymentAPIAddress == "" {
		sugar.Fatalw("payment API address is required")
	}
	if cfg.CommerceAPIAddress == "" {
		sugar.Fatalw("commerce API address is required")
	}

	var store session.Store
	if cfg.DatabaseURI != "" {
		pgStore, err := session.NewPostgresStore(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		sugar.Warn("no database configured, session data will not survive restarts")
		store = session.NewMemoryStore()
	}

	verifier := payment.NewClient(cfg.PaymentAPIAddress)
	creator := commerce.NewClient(cfg.CommerceAPIAddress)
	drafts := draft.NewStore(store)
	guard := dedup.NewGuard(store)

	svc := reconcile.NewService(verifier, creator, drafts, guard, logger)

	sessionMiddleware := middleware.NewSessionMiddleware(cfg.SessionSecret)
	h := handler.NewHandler(svc, logger, sessionMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Background removal of abandoned drafts.
	g.Go(func() error {
		drafts.StartCleanup(ctx, logger)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting checkout reconciler", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown on context cancellation (signal or error elsewhere).
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
