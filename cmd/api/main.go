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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/eventsourced-accounts/internal/config"
	"github.com/josh-kwaku/eventsourced-accounts/internal/handler"
	"github.com/josh-kwaku/eventsourced-accounts/internal/logging"
	"github.com/josh-kwaku/eventsourced-accounts/internal/middleware"
	"github.com/josh-kwaku/eventsourced-accounts/internal/service"
)

const serviceName = "accounts-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init(serviceName, cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open stores", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.close()

	accounts := service.NewAccountService(st.events, service.RetryPolicy{
		MaxRetries:      cfg.CommandMaxRetries,
		InitialInterval: cfg.CommandRetryInitial(),
		MaxInterval:     250 * time.Millisecond,
	})

	accountHandler := handler.NewAccountHandler(accounts)
	transferHandler := handler.NewTransferHandler(accounts)
	healthHandler := handler.NewHealthHandler(st.events)
	idempotent := middleware.Idempotency(st.idempotency, cfg.IdempotencyTTL())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)

	mux.HandleFunc("POST /api/v1/accounts", accountHandler.Create)
	mux.HandleFunc("GET /api/v1/accounts/{id}", accountHandler.Get)
	mux.HandleFunc("POST /api/v1/accounts/{id}/deposits", accountHandler.Deposit)
	mux.HandleFunc("POST /api/v1/accounts/{id}/withdrawals", accountHandler.Withdraw)
	mux.HandleFunc("PUT /api/v1/accounts/{id}/overdraft-limit", accountHandler.SetOverdraftLimit)
	mux.HandleFunc("POST /api/v1/accounts/{id}/close", accountHandler.Close)
	mux.Handle("POST /api/v1/transfers", idempotent(http.HandlerFunc(transferHandler.Create)))

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.Tracing(h)
	h = middleware.Recovery(h)
	h = otelhttp.NewHandler(h, serviceName)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go sweepIdempotencyCache(ctx, st.idempotency, time.Hour)

	go func() {
		slog.Info("server started", "addr", addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
