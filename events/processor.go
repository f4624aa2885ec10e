package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"match-session-coordinator/metrics"
	"match-session-coordinator/push"
	"match-session-coordinator/store"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// ErrStalePointer reports a matched player whose connection mapping is
// missing or empty. Fatal for the whole batch: partially notifying a match
// strands the players who never heard about it.
var ErrStalePointer = errors.New("events: stale matching pointer")

// PointerReader is the subset of the store the processor needs.
type PointerReader interface {
	Get(ctx context.Context, userID string) (*store.Pointer, error)
}

// FeedPublisher records fully-notified matches, best effort.
type FeedPublisher interface {
	Publish(ctx context.Context, record MatchNotifiedRecord) error
}

// Processor handles match-success events: it resolves every matched
// player's waiting connection, pushes the session endpoint to all of them
// and then tears the connections down. Each invocation is all-or-nothing up
// to the first push; a returned error signals the transport to redeliver.
type Processor struct {
	pointers PointerReader
	channels push.Resolver
	feed     FeedPublisher
}

func NewProcessor(pointers PointerReader, channels push.Resolver, feed FeedPublisher) *Processor {
	return &Processor{pointers: pointers, channels: channels, feed: feed}
}

func (p *Processor) Handle(ctx context.Context, ev *MatchEvent) error {
	start := time.Now()
	if err := p.handle(ctx, ev); err != nil {
		metrics.MatchEventsTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.MatchEventDuration.Observe(time.Since(start).Seconds())
	metrics.MatchEventsTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *Processor) handle(ctx context.Context, ev *MatchEvent) error {
	var players []Player
	for _, ticket := range ev.Detail.Tickets {
		players = append(players, ticket.Players...)
	}
	if len(players) == 0 {
		return fmt.Errorf("events: match %s has no players", ev.Detail.MatchID)
	}

	// Fan out the pointer lookups; no push may happen until every lookup
	// has succeeded.
	pointers := make([]*store.Pointer, len(players))
	lookups := pool.New().WithContext(ctx).WithCancelOnError()
	for i, player := range players {
		lookups.Go(func(ctx context.Context) error {
			ptr, err := p.pointers.Get(ctx, player.PlayerID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: no pointer for player %s", ErrStalePointer, player.PlayerID)
				}
				return err
			}
			pointers[i] = ptr
			return nil
		})
	}
	if err := lookups.Wait(); err != nil {
		return err
	}
	for i, ptr := range pointers {
		if ptr.ConnectionID == "" {
			return fmt.Errorf("%w: empty connection id for player %s", ErrStalePointer, players[i].PlayerID)
		}
	}

	// All players of one match are reachable through the same push endpoint
	// family; the first resolved pointer nominates the stage.
	stage := pointers[0].Stage
	channel, err := p.channels.Channel(stage)
	if err != nil {
		return err
	}

	claims := make(map[string]string, len(ev.Detail.GameSessionInfo.Players))
	for _, player := range ev.Detail.GameSessionInfo.Players {
		claims[player.PlayerID] = player.PlayerSessionID
	}

	info := ev.Detail.GameSessionInfo
	for i, player := range players {
		claim, ok := claims[player.PlayerID]
		if !ok || claim == "" {
			return fmt.Errorf("events: no player session for %s in match %s", player.PlayerID, ev.Detail.MatchID)
		}
		payload := MatchedPayload{
			Action:          "matched",
			IPAddress:       info.IPAddress,
			Port:            info.Port,
			PlayerSessionID: claim,
		}
		if err := channel.Send(ctx, pointers[i].ConnectionID, payload); err != nil {
			if errors.Is(err, push.ErrConnectionGone) {
				metrics.PushesTotal.WithLabelValues("gone").Inc()
				log.Warn().Str("playerId", player.PlayerID).Str("connectionId", pointers[i].ConnectionID).Msg("events: connection gone during push")
				continue
			}
			return err
		}
		metrics.PushesTotal.WithLabelValues("delivered").Inc()
	}

	// The waiting connections served their purpose; the clients reconnect
	// to the session process next.
	for i, ptr := range pointers {
		if err := channel.Close(ctx, ptr.ConnectionID); err != nil {
			if errors.Is(err, push.ErrConnectionGone) {
				log.Debug().Str("connectionId", ptr.ConnectionID).Msg("events: connection already gone at close")
				continue
			}
			return fmt.Errorf("events: closing connection for player %s: %w", players[i].PlayerID, err)
		}
	}

	p.publishRecord(ctx, ev, players)
	log.Info().Str("matchId", ev.Detail.MatchID).Int("players", len(players)).Str("stage", stage).Msg("events: match notified")
	return nil
}

// publishRecord emits the audit record for a fully-notified match. Failure
// never fails the batch.
func (p *Processor) publishRecord(ctx context.Context, ev *MatchEvent, players []Player) {
	if p.feed == nil {
		return
	}
	ids := make([]string, len(players))
	for i, player := range players {
		ids[i] = player.PlayerID
	}
	record := MatchNotifiedRecord{
		MatchID:    ev.Detail.MatchID,
		IPAddress:  ev.Detail.GameSessionInfo.IPAddress,
		Port:       ev.Detail.GameSessionInfo.Port,
		Players:    ids,
		NotifiedAt: time.Now().UTC(),
	}
	if err := p.feed.Publish(ctx, record); err != nil {
		log.Warn().Err(err).Str("matchId", ev.Detail.MatchID).Msg("events: audit feed publish failed")
	}
}
