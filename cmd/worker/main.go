package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/greeting/internal/application"
	"vn.io.arda/greeting/internal/config"
	"vn.io.arda/greeting/internal/domain"
	"vn.io.arda/greeting/internal/events"
	"vn.io.arda/greeting/internal/events/handlers"
	"vn.io.arda/greeting/internal/events/registry"
	"vn.io.arda/greeting/internal/infrastructure/broker"
	"vn.io.arda/greeting/internal/infrastructure/mail"
	"vn.io.arda/greeting/internal/infrastructure/postgres"
	"vn.io.arda/greeting/internal/queue"
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

	log.Info().Str("env", cfg.Server.Env).Str("driver", cfg.Broker.Driver).Msg("starting greeting worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Delivery ledger (optional) ───────────────────────────────────────────
	var ledger domain.GreetingRepository
	if cfg.Database.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
		ledger = postgres.New(pool)
	}

	// ── Mail ──────────────────────────────────────────────────────────────────
	sender, err := mail.New(cfg.Mail)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Mail.Provider).Msg("invalid mail configuration")
	}

	// ── Application Service ───────────────────────────────────────────────────
	svc := application.NewGreetingService(sender, ledger, application.WithReclaimAfter(cfg.TTL.ReclaimAfter))

	// ── Broker ────────────────────────────────────────────────────────────────
	manager, err := broker.NewManager(cfg.Broker)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid broker configuration")
	}
	if err := manager.Connect(ctx); err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Broker.Driver).Msg("failed to connect to broker")
	}
	defer manager.Close()

	go func() {
		if err, ok := <-manager.Done(); ok && err != nil {
			log.Fatal().Err(err).Msg("broker connection lost")
		}
	}()

	// ── Event Consumer ────────────────────────────────────────────────────────
	routes := registry.New()
	routes.Register(cfg.Queues.Greetings, handlers.Greetings(svc))

	subscriber := queue.NewSubscriber(manager.Registry(), queue.WithErrorHandler(func(env queue.Envelope, err error) {
		log.Error().Err(err).
			Str("queue", env.Queue).
			Str("message_id", env.MessageID).
			Msg("greeting handler failed, message acknowledged")
	}))
	consumer := events.New(subscriber, routes)

	consumerErr := make(chan error, 1)
	go func() { consumerErr <- consumer.Start(ctx) }()

	// ── TTL Purge Job (every 24h) ─────────────────────────────────────────────
	if ledger != nil {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					svc.PurgeTTL(context.Background(), cfg.TTL.RetentionDays)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down gracefully...")
		<-consumerErr
	case err := <-consumerErr:
		if err != nil {
			log.Fatal().Err(err).Msg("event consumer failed to start")
		}
		log.Warn().Msg("all subscriptions ended by broker")
	}

	log.Info().Msg("greeting worker stopped")
}
