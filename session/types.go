package session

import (
	"context"
	"errors"
	"time"
)

// GameMode tags what kind of session this process hosts. Matched modes are
// built from provider matchmaker data; tutorial sessions are synthesized
// locally for a single player.
type GameMode string

const (
	ModeSkirmish GameMode = "skirmish"
	ModeRush     GameMode = "rush"
	ModeTutorial GameMode = "tutorial"
)

// ErrUnknownGameMode reports a session property the process cannot host.
// Fatal at startup: without a recognized mode there is no match data to
// build player records from.
var ErrUnknownGameMode = errors.New("session: unknown game mode")

// ParseGameMode validates the mode tag from the session properties.
func ParseGameMode(tag string) (GameMode, error) {
	switch GameMode(tag) {
	case ModeSkirmish, ModeRush, ModeTutorial:
		return GameMode(tag), nil
	}
	return "", ErrUnknownGameMode
}

// Matched reports whether the mode is populated from matchmaker data.
func (m GameMode) Matched() bool {
	return m == ModeSkirmish || m == ModeRush
}

// State is the controller lifecycle.
type State string

const (
	StateIdle            State = "Idle"
	StateAwaitingSession State = "AwaitingSession"
	StateSessionStarting State = "SessionStarting"
	StateActive          State = "Active"
	StateEnding          State = "Ending"
	StateTerminated      State = "Terminated"
)

// ResultStatus is a player's recorded match outcome. It defaults to
// left-early so a process crash still leaves a truthful record behind.
type ResultStatus string

const (
	ResultLeftEarly ResultStatus = "left-early"
	ResultCompleted ResultStatus = "completed"
)

// PlayerRecord is the session-local view of one matched player, built from
// the provider's match payload. Its lifetime is bounded to the process.
type PlayerRecord struct {
	UserID      string
	DisplayName string
	Team        string
	Character   string
	SkinID      int
	Level       int
	Position    string
	Loadout     []string
	Result      ResultStatus
}

// GameSession is the orchestration layer's session payload handed to the
// start callback.
type GameSession struct {
	SessionID      string
	IPAddress      string
	Port           int
	Properties     map[string]string
	MatchmakerData string
}

// ProcessParams registers this process with the orchestration layer.
type ProcessParams struct {
	Port            int
	HealthCheck     func() bool
	HealthInterval  time.Duration
	OnStartSession  func(GameSession)
	OnUpdateSession func(GameSession)
	OnTerminate     func()
}

// Orchestrator is the narrow contract against the session orchestration
// layer (process registration, activation, player-session admission).
type Orchestrator interface {
	Ready(ctx context.Context, params ProcessParams) error
	Activate(ctx context.Context) error
	AcceptPlayerSession(ctx context.Context, playerSessionID string) error
	RemovePlayerSession(ctx context.Context, playerSessionID string) error
	DenyAllPlayerSessions(ctx context.Context) error
	End(ctx context.Context) error
}
