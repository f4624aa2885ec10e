package provider

import (
	"context"
	"errors"
)

// TicketStatus is the provider-owned lifecycle state of a matchmaking
// ticket. The coordinator never stores tickets, only pointers to them.
type TicketStatus string

const (
	StatusQueued             TicketStatus = "Queued"
	StatusSearching          TicketStatus = "Searching"
	StatusRequiresAcceptance TicketStatus = "RequiresAcceptance"
	StatusPotentialMatch     TicketStatus = "PotentialMatch"
	StatusSucceeded          TicketStatus = "Succeeded"
	StatusTimedOut           TicketStatus = "TimedOut"
	StatusCancelled          TicketStatus = "Cancelled"
	StatusFailed             TicketStatus = "Failed"
)

// Cancellable reports whether a stop request is still permitted for a
// ticket in this state.
func (s TicketStatus) Cancellable() bool {
	switch s {
	case StatusQueued, StatusSearching, StatusRequiresAcceptance:
		return true
	}
	return false
}

var (
	// ErrInvalidRequest reports a request the provider rejected as no longer
	// applicable, e.g. stopping an already-resolved ticket. Callers treat it
	// as a benign no-op, never as a failure.
	ErrInvalidRequest = errors.New("provider: invalid request")

	// ErrInternal reports a provider-side internal error. It propagates
	// unchanged; retry policy belongs to the invoking layer.
	ErrInternal = errors.New("provider: internal error")
)

// Player is the descriptor submitted with a ticket. Attributes are opaque
// to the coordinator; the provider's rule set interprets them.
type Player struct {
	PlayerID   string            `json:"playerId"`
	Attributes map[string]string `json:"attributes"`
}

// Client is the narrow contract against the external matchmaking provider.
type Client interface {
	StartMatchmaking(ctx context.Context, configuration string, players []Player) (string, error)
	DescribeTicket(ctx context.Context, ticketID string) (TicketStatus, error)
	StopMatchmaking(ctx context.Context, ticketID string) error
}
