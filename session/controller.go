package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"match-session-coordinator/portalloc"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSessionStarted rejects a late join: once gameplay has begun, no
	// claim is accepted and the orchestration layer is not contacted.
	ErrSessionStarted = errors.New("session: gameplay already started")

	// ErrNotActive rejects admission while the session is not active.
	ErrNotActive = errors.New("session: not active")

	// ErrUnknownPlayerSession rejects eviction of a claim this process
	// never admitted.
	ErrUnknownPlayerSession = errors.New("session: unknown player session")
)

// Config bounds the controller's port range and lifetime supervision.
type Config struct {
	PortMin        int
	PortMax        int
	SessionTimeout time.Duration
	TickInterval   time.Duration
	HealthInterval time.Duration
}

// Reservation is the held port; satisfied by *portalloc.Reservation.
type Reservation interface {
	Port() int
	Release()
	Detach() net.Listener
}

// Controller runs inside the game-session process. It owns the port
// reservation, builds the session's player records from the provider match
// payload, admits or denies player-session claims and supervises session
// lifetime. Callbacks, admission calls and the timeout expiry compose onto
// one logical thread of control serialized by the controller mutex.
type Controller struct {
	orch Orchestrator
	cfg  Config

	// OnSessionActive is the gameplay process boundary: it starts the real
	// service on the socket taken from the reservation via TakeListener.
	// Set before Start.
	OnSessionActive func(gs GameSession, players []PlayerRecord) error

	// Exit terminates the process once shutdown completes. Defaults to
	// os.Exit; injected in tests.
	Exit func(code int)

	// AllocatePort reserves the listen port. Defaults to portalloc.
	AllocatePort func(min, max int) (Reservation, error)

	mu              sync.Mutex
	port            int
	state           State
	gameplayStarted bool
	failed          bool
	session         *GameSession
	players         []PlayerRecord
	joined          map[string]bool
	reservation     Reservation
	supervisor      *Supervisor
	cancelSupervise context.CancelFunc
	shutdownOnce    sync.Once
}

func NewController(orch Orchestrator, cfg Config) *Controller {
	return &Controller{
		orch:  orch,
		cfg:   cfg,
		Exit:  os.Exit,
		state: StateIdle,
		AllocatePort: func(min, max int) (Reservation, error) {
			return portalloc.Allocate(min, max)
		},
		joined: make(map[string]bool),
	}
}

// Start reserves the port and registers the process with the orchestration
// layer; the controller then waits for a session to be placed on it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("session: start from state %s", c.state)
	}

	reservation, err := c.AllocatePort(c.cfg.PortMin, c.cfg.PortMax)
	if err != nil {
		return err
	}
	c.reservation = reservation
	c.port = reservation.Port()

	params := ProcessParams{
		Port:           reservation.Port(),
		HealthCheck:    func() bool { return true },
		HealthInterval: c.cfg.HealthInterval,
		OnStartSession: func(gs GameSession) { c.handleStartSession(ctx, gs) },
		OnUpdateSession: func(gs GameSession) {
			log.Info().Str("sessionId", gs.SessionID).Msg("session: update received")
		},
		OnTerminate: func() { c.Shutdown(ctx) },
	}
	if err := c.orch.Ready(ctx, params); err != nil {
		reservation.Release()
		return err
	}
	c.state = StateAwaitingSession
	log.Info().Int("port", reservation.Port()).Msg("session: process registered, awaiting session")
	return nil
}

func (c *Controller) handleStartSession(ctx context.Context, gs GameSession) {
	c.mu.Lock()
	if c.state != StateAwaitingSession {
		c.mu.Unlock()
		log.Warn().Str("state", string(c.state)).Msg("session: start callback out of order, ignoring")
		return
	}
	c.state = StateSessionStarting
	c.mu.Unlock()

	mode, err := ParseGameMode(gs.Properties["mode"])
	if err != nil {
		c.abort(ctx, fmt.Errorf("%w: %q", err, gs.Properties["mode"]))
		return
	}

	var records []PlayerRecord
	if mode.Matched() {
		records, err = DecodePlayerRecords(gs.MatchmakerData)
		if err != nil {
			c.abort(ctx, err)
			return
		}
	} else {
		// Practice session: one synthesized local player, no match data.
		records = []PlayerRecord{{
			UserID:      gs.Properties["userId"],
			DisplayName: gs.Properties["userName"],
			Result:      ResultLeftEarly,
		}}
	}

	if err := c.orch.Activate(ctx); err != nil {
		c.abort(ctx, fmt.Errorf("session: activation failed: %w", err))
		return
	}

	superviseCtx, cancel := context.WithCancel(ctx)
	supervisor := NewSupervisor(c.cfg.TickInterval, c.cfg.SessionTimeout, func() { c.Shutdown(ctx) })

	// The supervisor is installed in the same critical section as the
	// transition to active, so every admission that sees the active state
	// also sees the supervisor and its clock reset cannot be dropped.
	c.mu.Lock()
	c.session = &gs
	c.players = records
	c.supervisor = supervisor
	c.cancelSupervise = cancel
	c.state = StateActive
	c.mu.Unlock()
	log.Info().Str("sessionId", gs.SessionID).Str("mode", string(mode)).Int("players", len(records)).Msg("session: active")

	// The gameplay listener takes the reservation's socket via TakeListener
	// inside the callback, so the port is never observably free between the
	// reservation and the real service.
	if c.OnSessionActive != nil {
		if err := c.OnSessionActive(gs, records); err != nil {
			c.abort(ctx, fmt.Errorf("session: gameplay listener failed: %w", err))
			return
		}
	}
	c.releaseReservation()

	if len(records) == 0 {
		// An empty reserved session is not worth holding open.
		log.Warn().Str("sessionId", gs.SessionID).Msg("session: no matched players, shutting down")
		c.Shutdown(ctx)
		return
	}

	go supervisor.Run(superviseCtx)
}

// AcceptPlayerSession admits one claim. Late joins are rejected before any
// orchestration call; a successful admission resets the idle clock.
func (c *Controller) AcceptPlayerSession(ctx context.Context, playerSessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gameplayStarted {
		log.Info().Str("playerSessionId", playerSessionID).Msg("session: late join rejected")
		return ErrSessionStarted
	}
	if c.state != StateActive {
		return fmt.Errorf("%w: state %s", ErrNotActive, c.state)
	}
	if err := c.orch.AcceptPlayerSession(ctx, playerSessionID); err != nil {
		return err
	}
	c.joined[playerSessionID] = true
	// The active transition installs the supervisor atomically, so it is
	// always present here.
	c.supervisor.Reset()
	log.Info().Str("playerSessionId", playerSessionID).Int("joined", len(c.joined)).Msg("session: player admitted")
	return nil
}

// MarkGameplayStarted latches the late-join guard. Irreversible.
func (c *Controller) MarkGameplayStarted() {
	c.mu.Lock()
	c.gameplayStarted = true
	c.mu.Unlock()
	log.Info().Msg("session: gameplay started, admissions closed")
}

// DenyFurtherSessions irreversibly stops the orchestration layer from
// issuing new claims against this session.
func (c *Controller) DenyFurtherSessions(ctx context.Context) error {
	return c.orch.DenyAllPlayerSessions(ctx)
}

// ReleasePlayerSession evicts a previously admitted claim.
func (c *Controller) ReleasePlayerSession(ctx context.Context, playerSessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined[playerSessionID] {
		return fmt.Errorf("%w: %s", ErrUnknownPlayerSession, playerSessionID)
	}
	if err := c.orch.RemovePlayerSession(ctx, playerSessionID); err != nil {
		return err
	}
	delete(c.joined, playerSessionID)
	return nil
}

// RemovePlayerSession removes a claim without requiring prior admission.
func (c *Controller) RemovePlayerSession(ctx context.Context, playerSessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, playerSessionID)
	return c.orch.RemovePlayerSession(ctx, playerSessionID)
}

// SetPlayerResult overwrites a player's recorded outcome, called at an
// orderly game end.
func (c *Controller) SetPlayerResult(userID string, result ResultStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.players {
		if c.players[i].UserID == userID {
			c.players[i].Result = result
			return
		}
	}
}

// Players returns a copy of the session's player records.
func (c *Controller) Players() []PlayerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PlayerRecord, len(c.players))
	copy(out, c.players)
	return out
}

// Port reports the reserved listen port; zero before Start.
func (c *Controller) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// TakeListener hands the reservation's bound socket to the caller. The
// socket stays bound across the handoff, so the port cannot be grabbed by
// another process in between. Nil once the reservation has been released
// or the socket already taken.
func (c *Controller) TakeListener() net.Listener {
	c.mu.Lock()
	reservation := c.reservation
	c.mu.Unlock()
	if reservation == nil {
		return nil
	}
	return reservation.Detach()
}

// State returns the controller lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) abort(ctx context.Context, err error) {
	log.Error().Err(err).Msg("session: startup aborted")
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
	c.Shutdown(ctx)
}

func (c *Controller) releaseReservation() {
	c.mu.Lock()
	reservation := c.reservation
	c.mu.Unlock()
	if reservation != nil {
		reservation.Release()
	}
}

// Shutdown performs the orderly end exactly once: cancel the supervisor,
// release the port, end the session with the orchestration layer and exit
// with a status reflecting whether the end was clean.
func (c *Controller) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.state = StateEnding
		cancel := c.cancelSupervise
		failed := c.failed
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		c.releaseReservation()

		err := c.orch.End(ctx)
		c.mu.Lock()
		c.state = StateTerminated
		c.mu.Unlock()

		if err != nil || failed {
			if err != nil {
				log.Error().Err(err).Msg("session: process ending failed")
			}
			c.Exit(1)
			return
		}
		log.Info().Msg("session: process ending complete")
		c.Exit(0)
	})
}
