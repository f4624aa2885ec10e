package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"match-session-coordinator/config"
	"match-session-coordinator/events"
	epubsub "match-session-coordinator/events/pubsub"
	"match-session-coordinator/gateway"
	"match-session-coordinator/health"
	"match-session-coordinator/janitor"
	"match-session-coordinator/matchmaking"
	"match-session-coordinator/metrics"
	"match-session-coordinator/provider"
	"match-session-coordinator/push"
	"match-session-coordinator/store"

	"github.com/redis/go-redis/v9"
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
	log.Info().Msgf("Starting matchmakerd version: %s", version)
	cfg, err := config.LoadCoordinator("")
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	setLogger(cfg.LogLevel)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	// Preflight required configuration
	if cfg.PubsubProjectID == "" {
		log.Fatal().Msg("missing Google project id; set PUBSUB_PROJECT_ID")
	}
	if cfg.Subscription == "" {
		log.Fatal().Msg("missing Pub/Sub subscription; set MATCH_EVENT_SUBSCRIPTION")
	}
	if cfg.ProviderURL == "" {
		log.Fatal().Msg("missing matchmaking provider URL; set PROVIDER_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pointers := store.NewPointerStore(rdb, cfg.PointerHashKey, cfg.ProfilePrefix)
	providerClient := provider.NewHTTPClient(cfg.ProviderURL, cfg.ProviderTimeout)
	service := matchmaking.NewService(pointers, providerClient, cfg.ConfigurationNames)

	directory := push.NewDirectory()
	stages := make([]string, 0, len(cfg.ConfigurationNames))
	for stage := range cfg.ConfigurationNames {
		// Eagerly create hubs so the event processor can route to a stage
		// even before its first client connects.
		directory.Hub(stage)
		stages = append(stages, stage)
	}

	var feed *events.Feed
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		feed = events.NewFeed(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer feed.Close()
	} else {
		log.Info().Msg("Kafka match feed not configured; audit records disabled")
	}

	// A nil *Feed must stay a nil interface for the processor's guard.
	var feedPub events.FeedPublisher
	if feed != nil {
		feedPub = feed
	}
	processor := events.NewProcessor(pointers, directory, feedPub)
	subscriber := epubsub.NewSubscriber(cfg.PubsubProjectID, cfg.Subscription, cfg.CredentialsFile)

	// Metrics and health HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux,
		func() bool { return subscriber.Running() },
		func() bool { return rdb.Ping(ctx).Err() == nil },
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Client-facing websocket gateway
	gw := gateway.NewServer(service, directory, stages)
	gwSrv := &http.Server{
		Addr:              cfg.GatewayAddr(),
		Handler:           gw.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.GatewayAddr()).Msg("starting gateway server")
		if err := gwSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server error")
		}
	}()

	// Start subscriber loop
	go func() {
		log.Info().Str("subscription", cfg.Subscription).Msg("starting subscriber loop")
		if err := subscriber.Start(ctx, processor.Handle); err != nil {
			// Non-recoverable: if we can't receive from Pub/Sub, terminate
			log.Fatal().Err(err).Msg("subscriber exited with fatal error; shutting down")
		}
	}()

	// Stale-pointer janitor
	jan, err := janitor.New(pointers, cfg.JanitorInterval, cfg.PointerTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create janitor")
	}
	if err := jan.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("could not start janitor")
	}
	defer func() {
		if err := jan.Stop(); err != nil {
			log.Error().Err(err).Msg("janitor shutdown failed")
		}
	}()

	// Block until shutdown
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gwSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway graceful shutdown failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
