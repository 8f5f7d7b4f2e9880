package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"example.com/healthdash/internal/chat"
	"example.com/healthdash/internal/config"
	"example.com/healthdash/internal/consumer"
	"example.com/healthdash/internal/errtrack"
	"example.com/healthdash/internal/insights"
	persistence "example.com/healthdash/internal/persistence/postgres"
	"example.com/healthdash/internal/report"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[healthdash-consumer] ", log.LstdFlags)

	if err := errtrack.Init(errtrack.Config{DSN: cfg.SentryDSN, Environment: cfg.SentryEnvironment, ServerName: "healthdash-consumer"}, logger); err != nil {
		logger.Printf("sentry disabled: %v", err)
	}
	defer errtrack.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool, persistence.WithSummaryTopic(cfg.SummaryTopic))
	reporter := report.NewReporter(repo, repo,
		insights.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, nil),
		chat.New(cfg.ChatWebhookURL))
	handler := consumer.NewReportHandler(reporter, consumer.ReportWindow{
		Enabled:  cfg.ReportEnabled,
		Hour:     cfg.ReportHour,
		Location: cfg.Location(),
	})
	if !cfg.ReportEnabled {
		logger.Println("reports disabled (REPORT_ENABLED=false), summary events are acknowledged only")
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server error: %v", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.SummaryTopic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
		Dialer:          kafkaDialer(cfg),
	})
	proc := consumer.NewProcessor(reader, handler,
		consumer.WithRetry(3, 2*time.Second),
		consumer.WithErrorCapture(errtrack.Capture))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer reader.Close()

		logger.Printf("consumer started (topic=%s, group=%s)", cfg.SummaryTopic, cfg.ConsumerGroupID)
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("consumer stopped with error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("consumer shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown error: %v", err)
	}

	<-done
}

func kafkaDialer(cfg config.Config) *kafka.Dialer {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if cfg.KafkaSASLUser != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.KafkaSASLUser, Password: cfg.KafkaSASLPassword}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return dialer
}
