package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthdash/internal/config"
	"example.com/healthdash/internal/errtrack"
	"example.com/healthdash/internal/outbox"
)

func main() {
	var (
		once      = flag.Bool("once", false, "run a single pass over due entries and exit")
		release   = flag.Int64("release", 0, "return the quarantined entry with this dlq_id to the retry queue and exit")
		batchSize = flag.Int("batch", 50, "maximum entries handled per pass")
	)
	flag.Parse()

	cfg := config.Load()
	logger := log.New(os.Stdout, "[healthdash-dlq] ", log.LstdFlags)

	if err := errtrack.Init(errtrack.Config{DSN: cfg.SentryDSN, Environment: cfg.SentryEnvironment, ServerName: "healthdash-dlqmanager"}, logger); err != nil {
		logger.Printf("sentry disabled: %v", err)
	}
	defer errtrack.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

	if *release != 0 {
		if err := manager.Release(ctx, *release); err != nil {
			logger.Fatalf("release %d: %v", *release, err)
		}
		logger.Printf("entry %d released", *release)
		return
	}

	pass := func() {
		result, err := manager.RunOnce(ctx, *batchSize)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("dlq pass: %v", err)
			errtrack.Capture(err, map[string]string{"component": "dlqmanager"})
		}
		if result.Handled() > 0 {
			logger.Printf("dlq pass: requeued=%d superseded=%d quarantined=%d rescheduled=%d",
				result.Requeued, result.Superseded, result.Quarantined, result.Rescheduled)
		}
	}

	if *once {
		pass()
		return
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Printf("metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server: %v", err)
		}
	}()

	logger.Printf("started (interval=%s, max_retries=%d)", cfg.DLQPollInterval, cfg.DLQMaxRetries)
	ticker := time.NewTicker(cfg.DLQPollInterval)
	defer ticker.Stop()

	for pass(); ; pass() {
		select {
		case <-ctx.Done():
			logger.Println("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Printf("metrics server shutdown: %v", err)
			}
			return
		case <-ticker.C:
		}
	}
}
