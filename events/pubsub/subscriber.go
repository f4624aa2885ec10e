package pubsub

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"match-session-coordinator/events"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Handler processes one decoded match-success event. A returned error makes
// the message redeliverable.
type Handler func(ctx context.Context, ev *events.MatchEvent) error

// Subscriber consumes provider matchmaking events from a Pub/Sub
// subscription and routes the success events into the handler.
type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
	running          atomic.Bool
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

// Running reports whether the receive loop is active; wired into readiness.
func (s *Subscriber) Running() bool {
	return s.running.Load()
}

func (s *Subscriber) Start(ctx context.Context, handler Handler) error {
	if s.client == nil {
		var (
			client *gpubsub.Client
			err    error
		)
		if s.credsFile != "" {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Str("credsFile", s.credsFile).Msg("initializing pubsub subscriber with explicit credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID, option.WithCredentialsFile(s.credsFile))
		} else {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("initializing pubsub subscriber with default credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID)
		}
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for subscriber")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Msg("pubsub subscriber initialized")
	}

	s.running.Store(true)
	defer s.running.Store(false)

	// Receive blocks; it will create goroutines internally; respect ctx cancellation
	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("received pubsub message")
		recvAt := time.Now()
		ev := &events.MatchEvent{}
		if err := json.Unmarshal(m.Data, ev); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal match event")
			// Ack to drop bad message (poison)
			m.Ack()
			return
		}
		if ev.Detail.Type != events.TypeSucceeded {
			// Lifecycle chatter the coordinator does not act on.
			log.Debug().Str("type", string(ev.Detail.Type)).Msg("skipping non-success match event")
			m.Ack()
			return
		}
		if len(ev.Detail.Tickets) == 0 {
			log.Error().Str("matchId", ev.Detail.MatchID).Msg("success event without tickets")
			m.Ack()
			return
		}

		log.Info().Str("matchId", ev.Detail.MatchID).Int("tickets", len(ev.Detail.Tickets)).Msg("handling match-success event")
		if err := handler(ctx, ev); err != nil {
			log.Error().Err(err).Str("matchId", ev.Detail.MatchID).Msg("handler failed; will retry")
			// Nack to allow retry; re-delivery is safe because clients
			// dedupe matched notifications by ticket/session id.
			m.Nack()
			return
		}
		log.Debug().Str("matchId", ev.Detail.MatchID).Dur("latency", time.Since(recvAt)).Msg("handler succeeded; acking message")
		m.Ack()
	})
}
