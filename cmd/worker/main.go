package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamsworker/internal/application/factories/infrastructure"
	"streamsworker/internal/config"
	"streamsworker/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("worker exited")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	store, err := infraFactory.Store(ctx)
	if err != nil {
		return err
	}

	if err := worker.EnsureGroup(ctx, store, config.Stream, config.Group); err != nil {
		return err
	}

	policy, err := worker.ParsePolicy(cfg.Consumer.ErrorPolicy)
	if err != nil {
		return err
	}

	var sink worker.DeadLetterSink
	if policy == worker.PolicyDeadLetter {
		if sink, err = infraFactory.DeadLetterSink(ctx); err != nil {
			return err
		}
	}

	loop, err := worker.NewLoop(store, worker.LogHandler(logger), sink, worker.Options{
		Stream:       config.Stream,
		Group:        config.Group,
		Consumer:     cfg.Consumer.Name,
		Count:        cfg.Consumer.Count,
		Block:        cfg.Consumer.Block,
		ClaimMinIdle: cfg.Consumer.ClaimMinIdle,
		Policy:       policy,
		MaxAttempts:  cfg.Consumer.MaxAttempts,
		Backoff:      cfg.Consumer.RetryBackoff,
	}, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.HTTP.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Worker metrics listening", "port", cfg.HTTP.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := loop.Run(gctx)
		if err == nil && ctx.Err() == nil {
			// the loop only returns cleanly on cancellation; make the group stop too
			return errors.New("consumer loop stopped")
		}
		return err
	})

	return g.Wait()
}
