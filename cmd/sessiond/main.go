package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"match-session-coordinator/config"
	"match-session-coordinator/session"
	"match-session-coordinator/session/agones"
	"match-session-coordinator/session/claims"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" || level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	log.Info().Msgf("Starting sessiond version: %s", version)
	cfg, err := config.LoadSession("")
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	setLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := agones.New()
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to orchestration sidecar")
	}

	controller := session.NewController(orch, session.Config{
		PortMin:        cfg.PortMin,
		PortMax:        cfg.PortMax,
		SessionTimeout: cfg.SessionTimeout,
		TickInterval:   cfg.TickInterval,
		HealthInterval: cfg.HealthInterval,
	})

	// Serve errors from the gameplay listener end the session process.
	listenerErr := make(chan error, 1)
	listener := claims.NewListener(controller)
	controller.OnSessionActive = func(_ session.GameSession, _ []session.PlayerRecord) error {
		// Take over the reservation's bound socket so the port is never
		// free between reservation and service.
		ln := controller.TakeListener()
		if ln == nil {
			return errors.New("port reservation already gone")
		}
		listener.Start(ln, listenerErr)
		return nil
	}

	if err := controller.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("could not start session controller")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-listenerErr:
		log.Error().Err(err).Msg("gameplay listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := listener.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gameplay listener shutdown failed")
	}
	// Shutdown reports the session result to the platform and exits the
	// process with the matching status code.
	controller.Shutdown(shutdownCtx)
}
