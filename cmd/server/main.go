package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/application"
	"vn.io.arda/realtime/internal/config"
	"vn.io.arda/realtime/internal/infrastructure/keycloak"
	"vn.io.arda/realtime/internal/infrastructure/postgres"
	"vn.io.arda/realtime/internal/infrastructure/redis"
	kafkaconsumer "vn.io.arda/realtime/internal/kafka"
	"vn.io.arda/realtime/internal/metrics"
	transporthttp "vn.io.arda/realtime/internal/transport/http"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting arda-realtime")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Metrics ──────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping failed")
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("postgres migration failed")
	}
	log.Info().Msg("postgres connected")

	// ── Repository & WebSocket Hub ───────────────────────────────────────────
	repo := postgres.New(pool)
	hub := transporthttp.NewHub(transporthttp.HubConfig{
		SendBuffer:   cfg.Realtime.SendBuffer,
		RateLimit:    cfg.Realtime.RateLimit,
		RateBurst:    cfg.Realtime.RateBurst,
		PingInterval: cfg.Realtime.HeartbeatInterval,
	}, transporthttp.WithHubMetrics(m))

	// ── Cross-instance relay (optional) ──────────────────────────────────────
	var pub application.Publisher = hub
	if cfg.Redis.URL != "" {
		relay, err := redis.Connect(ctx, cfg.Redis.URL, cfg.Redis.Channel, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer relay.Close()
		hub.SetRouter(relay)
		pub = relay
		go relay.Run(ctx)
	} else {
		log.Warn().Msg("REDIS_URL not set, realtime events stay on this instance")
	}

	// ── Member Resolver (Keycloak Admin API) ─────────────────────────────────
	resolver := keycloak.New(
		cfg.Keycloak.BaseURL,
		cfg.Keycloak.AdminRealm,
		cfg.Keycloak.AdminClientID,
		cfg.Keycloak.AdminClientSecret,
		keycloak.WithCacheTTL(cfg.Keycloak.CacheTTL),
	)
	go resolver.Run(ctx)

	// ── Application Service ───────────────────────────────────────────────────
	svc := application.NewService(repo, pub, resolver)
	hub.SetReadMarker(svc)

	// ── HTTP Server ───────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(svc, hub)
	router := transporthttp.NewRouter(handler, cfg.Auth.JWTSecret, reg)

	// ── Kafka Consumer ────────────────────────────────────────────────────────
	consumer, err := kafkaconsumer.New(
		cfg.Kafka.Brokers,
		cfg.Kafka.ConsumerGroupID,
		cfg.Kafka.Topics,
		svc,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}

	// Start Kafka consumer in background
	go consumer.Start(ctx)
	log.Info().Strs("topics", cfg.Kafka.Topics).Msg("kafka consumer started")

	// ── TTL Purge Job (every 24h) ─────────────────────────────────────────────
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				svc.PurgeTTL(ctx, cfg.TTL.RetentionDays)
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── Start HTTP Server ─────────────────────────────────────────────────────
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("arda-realtime stopped")
}
