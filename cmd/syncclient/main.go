package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/config"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
	"vn.io.arda/realtime/internal/realtime"
	"vn.io.arda/realtime/internal/session"
	"vn.io.arda/realtime/internal/store"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Session ──────────────────────────────────────────────────────────────
	c := cfg.Client
	sess, err := session.New(session.Config{
		BaseURL:       c.BaseURL,
		WSURL:         c.WSURL,
		Token:         c.Token,
		TenantKey:     c.TenantKey,
		PrefsPath:     c.PrefsPath,
		CacheTTL:      c.CacheTTL,
		SweepInterval: c.SweepInterval,
		DrainInterval: c.DrainInterval,
		ProbeInterval: c.ProbeInterval,
		MaxRetries:    c.MaxRetries,
		Realtime: realtime.Config{
			InitialBackoff: c.InitialBackoff,
			MaxBackoff:     c.MaxBackoff,
		},
	}, session.WithMetrics(metrics.New(prometheus.NewRegistry())))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open sync session")
	}

	sess.Realtime.OnStateChange(func(s realtime.State) {
		log.Info().Stringer("state", s).Msg("realtime connection")
	})
	sess.Notifications.OnChange(func(s store.Snapshot[domain.Notification]) {
		log.Info().Int("items", len(s.Items)).Int("total", s.TotalCount).Int("unread", s.UnreadCount).Msg("notifications changed")
	})
	sess.Messages.OnChange(func(s store.Snapshot[domain.Message]) {
		log.Info().Int("items", len(s.Items)).Int("unread", s.UnreadCount).Msg("messages changed")
	})

	sess.Start(ctx)

	// ── Initial Load ─────────────────────────────────────────────────────────
	if err := sess.Notifications.FetchList(ctx, domain.DefaultFilter()); err != nil {
		log.Warn().Err(err).Msg("initial notification fetch failed")
	}
	if err := sess.Messages.FetchList(ctx, domain.DefaultFilter()); err != nil {
		log.Warn().Err(err).Msg("initial message fetch failed")
	}

	<-ctx.Done()
	log.Info().Msg("closing sync session...")
	if err := sess.Close(); err != nil {
		log.Error().Err(err).Msg("session close error")
	}
}
