package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamsworker/internal/api"
	"streamsworker/internal/application/factories/infrastructure"
	"streamsworker/internal/config"
	"streamsworker/internal/usecase"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	apiHandler, submitEventUC, err := newAPI(cfg, infraFactory, logger)
	if err != nil {
		logger.Error("invalid producer config", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           apiHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("streams_worker listening", "port", cfg.HTTP.Port, "accept", cfg.Producer.Accept, "conn", cfg.Producer.Conn)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := submitEventUC.Close(shutdownCtx); err != nil {
		logger.Error("in-flight appends abandoned", "error", err)
	}

	logger.Info("Server exiting")
}

// newAPI wires the producer. Redis being unreachable does not prevent startup: appends and
// idempotency checks fail per request, and the failures are logged.
func newAPI(cfg *config.Config, infraFactory *infrastructure.Factory, logger *slog.Logger) (http.Handler, *usecase.SubmitEvent, error) {
	mode, err := usecase.ParseAcceptMode(cfg.Producer.Accept)
	if err != nil {
		return nil, nil, err
	}

	appender, err := infraFactory.Appender()
	if err != nil {
		return nil, nil, err
	}

	submitEventUC := usecase.NewSubmitEvent(appender, usecase.SubmitEventConfig{
		Stream:        config.Stream,
		Mode:          mode,
		AppendTimeout: cfg.Producer.AppendTimeout,
	}, logger)

	// a nil client disables Idempotency-Key handling
	var idemClient redis.Cmdable
	if client, err := infraFactory.ProducerRedis(); err != nil {
		logger.Warn("idempotency keys disabled", "error", err)
	} else {
		idemClient = client
	}

	handlers := api.NewHandlers(submitEventUC, logger)
	return api.NewRouter(handlers, idemClient), submitEventUC, nil
}
