package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/greeting/internal/application"
	"vn.io.arda/greeting/internal/config"
	"vn.io.arda/greeting/internal/infrastructure/broker"
	"vn.io.arda/greeting/internal/queue"
	transporthttp "vn.io.arda/greeting/internal/transport/http"
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

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting greeting api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Broker ────────────────────────────────────────────────────────────────
	manager, err := broker.NewManager(cfg.Broker)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid broker configuration")
	}
	if err := manager.Connect(ctx); err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Broker.Driver).Msg("failed to connect to broker")
	}
	defer manager.Close()

	// Losing the connection after startup is fatal; the process supervisor restarts us.
	go func() {
		if err, ok := <-manager.Done(); ok && err != nil {
			log.Fatal().Err(err).Msg("broker connection lost")
		}
	}()

	// ── Application Service ───────────────────────────────────────────────────
	publisher := queue.NewPublisher(manager.Registry())
	svc := application.NewRegistrationService(publisher, cfg.Queues.Greetings)

	// ── HTTP Server ───────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(svc, manager)
	router := transporthttp.NewRouter(handler)

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

	log.Info().Msg("greeting api stopped")
}
