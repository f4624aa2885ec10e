package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"match-session-coordinator/metrics"
	"match-session-coordinator/provider"
	"match-session-coordinator/store"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// CancelResult is the typed outcome of a cancel request. A ticket that can
// no longer be stopped is NotCancelled, not an error.
type CancelResult string

const (
	Cancelled    CancelResult = "Cancelled"
	NotCancelled CancelResult = "NotCancelled"
)

// PointerStore is the subset of the store the request service needs.
type PointerStore interface {
	Get(ctx context.Context, userID string) (*store.Pointer, error)
	Save(ctx context.Context, p *store.Pointer) error
	Profile(ctx context.Context, userID string) (*store.Profile, error)
}

// Service owns the matchmaking ticket lifecycle on behalf of users: submit,
// cancel and status passthrough. It holds no state of its own; every
// invocation works against the pointer store and the provider.
type Service struct {
	store    PointerStore
	provider provider.Client
	// matchmaking configuration name per deployment stage
	configurations map[string]string
}

func NewService(pointers PointerStore, client provider.Client, configurations map[string]string) *Service {
	return &Service{
		store:          pointers,
		provider:       client,
		configurations: configurations,
	}
}

// Submit queues the user for matchmaking and returns the provider ticket id.
// The user's previous pointer, if any, is superseded; when its ticket is
// still live a best-effort stop is issued first so it does not linger as an
// orphan with the provider.
func (s *Service) Submit(ctx context.Context, userID, connectionID, stage string) (string, error) {
	configuration, ok := s.configurations[stage]
	if !ok {
		return "", fmt.Errorf("matchmaking: no configuration for stage %q", stage)
	}

	var profile *store.Profile
	var prior *store.Pointer
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		loaded, err := s.store.Profile(ctx, userID)
		if err != nil {
			return err
		}
		profile = loaded
		return nil
	})
	p.Go(func(ctx context.Context) error {
		loaded, err := s.store.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		prior = loaded
		return nil
	})
	if err := p.Wait(); err != nil {
		return "", err
	}

	if prior != nil {
		s.stopSuperseded(ctx, prior)
	}

	ticketID, err := s.provider.StartMatchmaking(ctx, configuration, []provider.Player{{
		PlayerID: userID,
		Attributes: map[string]string{
			"userName":  profile.DisplayName,
			"character": profile.Character,
			"skinId":    strconv.Itoa(profile.SkinID),
			"level":     strconv.Itoa(profile.Level),
			"position":  profile.Position,
			"loadout":   strings.Join(profile.Loadout, ","),
		},
	}})
	if err != nil {
		return "", err
	}

	next := &store.Pointer{
		UserID:       userID,
		TicketID:     ticketID,
		ConnectionID: connectionID,
		Stage:        stage,
		Version:      1,
		UpdatedAt:    time.Now().Unix(),
	}
	if prior != nil {
		next.Version = prior.Version + 1
	}
	if err := s.store.Save(ctx, next); err != nil {
		return "", err
	}

	metrics.TicketsSubmitted.Inc()
	log.Info().Str("userId", userID).Str("ticketId", ticketID).Str("stage", stage).Msg("matchmaking: ticket submitted")
	return ticketID, nil
}

// stopSuperseded stops the previous ticket when the provider still holds it
// open. Failures never block the new submission.
func (s *Service) stopSuperseded(ctx context.Context, prior *store.Pointer) {
	status, err := s.provider.DescribeTicket(ctx, prior.TicketID)
	if err != nil {
		log.Warn().Err(err).Str("ticketId", prior.TicketID).Msg("matchmaking: could not describe superseded ticket")
		return
	}
	if !status.Cancellable() {
		return
	}
	if err := s.provider.StopMatchmaking(ctx, prior.TicketID); err != nil && !errors.Is(err, provider.ErrInvalidRequest) {
		log.Warn().Err(err).Str("ticketId", prior.TicketID).Msg("matchmaking: could not stop superseded ticket")
		return
	}
	log.Info().Str("ticketId", prior.TicketID).Msg("matchmaking: superseded ticket stopped")
}

// Cancel stops the user's active ticket if the provider still allows it.
// Retrying against an already-resolved ticket is a NotCancelled no-op.
func (s *Service) Cancel(ctx context.Context, userID string) (CancelResult, error) {
	ptr, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Str("userId", userID).Msg("matchmaking: cancel with no active pointer")
			metrics.CancelsTotal.WithLabelValues("not_cancelled").Inc()
			return NotCancelled, nil
		}
		return "", err
	}

	status, err := s.provider.DescribeTicket(ctx, ptr.TicketID)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidRequest) {
			metrics.CancelsTotal.WithLabelValues("not_cancelled").Inc()
			return NotCancelled, nil
		}
		return "", err
	}

	log.Info().Str("userId", userID).Str("ticketId", ptr.TicketID).Str("status", string(status)).Bool("cancellable", status.Cancellable()).Msg("matchmaking: cancel requested")
	if !status.Cancellable() {
		metrics.CancelsTotal.WithLabelValues("not_cancelled").Inc()
		return NotCancelled, nil
	}

	if err := s.provider.StopMatchmaking(ctx, ptr.TicketID); err != nil {
		if errors.Is(err, provider.ErrInvalidRequest) {
			// Resolved between describe and stop; same benign outcome.
			metrics.CancelsTotal.WithLabelValues("not_cancelled").Inc()
			return NotCancelled, nil
		}
		return "", err
	}
	metrics.CancelsTotal.WithLabelValues("cancelled").Inc()
	return Cancelled, nil
}

// Status is a passthrough read of the ticket's current provider state.
func (s *Service) Status(ctx context.Context, ticketID string) (provider.TicketStatus, error) {
	return s.provider.DescribeTicket(ctx, ticketID)
}
