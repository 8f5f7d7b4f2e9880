package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthdash/internal/api"
	"example.com/healthdash/internal/auth"
	"example.com/healthdash/internal/chat"
	"example.com/healthdash/internal/config"
	"example.com/healthdash/internal/credentials"
	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/errtrack"
	"example.com/healthdash/internal/fitbit"
	"example.com/healthdash/internal/healthsync"
	"example.com/healthdash/internal/insights"
	"example.com/healthdash/internal/outbox"
	"example.com/healthdash/internal/persistence/memory"
	persistence "example.com/healthdash/internal/persistence/postgres"
	"example.com/healthdash/internal/report"
	"example.com/healthdash/internal/schedule"
	httptransport "example.com/healthdash/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[healthdash] ", log.LstdFlags)

	if err := errtrack.Init(errtrack.Config{DSN: cfg.SentryDSN, Environment: cfg.SentryEnvironment, ServerName: "healthdash-api"}, logger); err != nil {
		logger.Printf("sentry disabled: %v", err)
	}
	defer errtrack.Flush(2 * time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		store domain.Store
		pool  *pgxpool.Pool
	)
	switch cfg.Store {
	case "memory":
		logger.Printf("using in-memory store, data is lost on restart")
		store = memory.NewRepository()
	default:
		var err error
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		store = persistence.NewRepository(pool, persistence.WithSummaryTopic(cfg.SummaryTopic))
	}

	loc := cfg.Location()
	oauth := fitbit.NewOAuth(fitbit.OAuthConfig{
		ClientID:     cfg.Fitbit.ClientID,
		ClientSecret: cfg.Fitbit.ClientSecret,
		RedirectURL:  cfg.Fitbit.RedirectURL,
		AuthURL:      cfg.Fitbit.AuthURL,
		TokenURL:     cfg.Fitbit.TokenURL,
		Scopes:       fitbit.DefaultScopes,
	}, &http.Client{Timeout: cfg.Fitbit.HTTPTimeout})
	tokens := credentials.NewManager(store, oauth)
	client := fitbit.NewClient(cfg.Fitbit.APIURL, cfg.Fitbit.HTTPTimeout)

	syncer := healthsync.NewSyncer(tokens, client, store, cfg.UserID, healthsync.WithLocation(loc))
	reporter := report.NewReporter(store, store,
		insights.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, nil),
		chat.New(cfg.ChatWebhookURL))

	scheduler := schedule.New(syncer, reporter, schedule.Config{
		SyncInterval:        cfg.SyncInterval,
		SyncDays:            cfg.SyncDays,
		ReportEnabled:       cfg.ReportEnabled,
		ReportHour:          cfg.ReportHour,
		ReportCheckInterval: cfg.ReportCheckInterval,
		Location:            loc,
	})
	scheduler.Start(ctx)

	var dispatcher *outbox.Dispatcher
	if pool != nil {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, outbox.WithSASLPlain(cfg.KafkaSASLUser, cfg.KafkaSASLPassword))
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL,
			outbox.WithRegistryAuth(cfg.SchemaRegistryUser, cfg.SchemaRegistryPass))
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	handler := api.NewHandler(api.Dependencies{
		Service:     domain.NewService(store, store, loc),
		Syncer:      syncer,
		OAuth:       oauth,
		Credentials: tokens,
		UserID:      cfg.UserID,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	server := httptransport.NewServer(serverCfg, httptransport.Chain(mux,
		httptransport.RequestLogger(logger),
		authMiddleware.Wrap,
	))

	if err := httptransport.Serve(ctx, server, serverCfg.ShutdownTimeout, logger); err != nil {
		logger.Printf("server error: %v", err)
		cancel()
	}

	scheduler.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
