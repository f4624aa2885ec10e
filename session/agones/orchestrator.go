// Package agones adapts the session orchestration contract onto the Agones
// in-process server SDK.
package agones

import (
	"context"
	"fmt"
	"sync"
	"time"

	"match-session-coordinator/session"

	coresdk "agones.dev/agones/pkg/sdk"
	sdk "agones.dev/agones/sdks/go"
	"github.com/rs/zerolog/log"
)

const (
	stateAllocated = "Allocated"
	stateShutdown  = "Shutdown"

	defaultHealthInterval = 10 * time.Second
)

// Orchestrator implements session.Orchestrator over the Agones SDK. The
// sidecar's game-server watch stream is translated into the start, update
// and terminate callbacks; player-session admission maps onto the alpha
// player-tracking calls.
type Orchestrator struct {
	sdk *sdk.SDK

	mu         sync.Mutex
	params     session.ProcessParams
	started    bool
	terminated bool
	stopHealth context.CancelFunc
}

func New() (*Orchestrator, error) {
	s, err := sdk.NewSDK()
	if err != nil {
		return nil, fmt.Errorf("agones: connecting to sidecar: %w", err)
	}
	return &Orchestrator{sdk: s}, nil
}

func (o *Orchestrator) Ready(ctx context.Context, params session.ProcessParams) error {
	o.mu.Lock()
	o.params = params
	o.mu.Unlock()

	if err := o.sdk.WatchGameServer(o.onGameServer); err != nil {
		return fmt.Errorf("agones: watching game server: %w", err)
	}

	healthCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.stopHealth = cancel
	o.mu.Unlock()
	go o.healthLoop(healthCtx, params)

	if err := o.sdk.Ready(); err != nil {
		cancel()
		return fmt.Errorf("agones: ready: %w", err)
	}
	log.Info().Int("port", params.Port).Msg("agones: process ready")
	return nil
}

// healthLoop pings the sidecar while the registered check passes. A missed
// ping within the bounded interval marks the process unhealthy on the
// platform side.
func (o *Orchestrator) healthLoop(ctx context.Context, params session.ProcessParams) {
	interval := params.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if params.HealthCheck != nil && !params.HealthCheck() {
				log.Warn().Msg("agones: health check reported unhealthy, withholding ping")
				continue
			}
			if err := o.sdk.Health(); err != nil {
				log.Error().Err(err).Msg("agones: health ping failed")
			}
		}
	}
}

func (o *Orchestrator) onGameServer(gs *coresdk.GameServer) {
	state := gs.GetStatus().GetState()
	o.mu.Lock()
	params := o.params
	started := o.started
	terminated := o.terminated
	switch {
	case state == stateShutdown && !terminated:
		o.terminated = true
	case state == stateAllocated && !started:
		o.started = true
	}
	o.mu.Unlock()

	switch {
	case state == stateShutdown && !terminated:
		if params.OnTerminate != nil {
			params.OnTerminate()
		}
	case state == stateAllocated && !started:
		if params.OnStartSession != nil {
			params.OnStartSession(toGameSession(gs, params.Port))
		}
	case state == stateAllocated && started:
		if params.OnUpdateSession != nil {
			params.OnUpdateSession(toGameSession(gs, params.Port))
		}
	}
}

// toGameSession maps the watched game-server object onto the session
// payload. Annotations carry the session properties and the provider's
// matchmaker data.
func toGameSession(gs *coresdk.GameServer, reservedPort int) session.GameSession {
	annotations := gs.GetObjectMeta().GetAnnotations()
	properties := make(map[string]string, len(annotations))
	for k, v := range annotations {
		properties[k] = v
	}
	port := reservedPort
	if ports := gs.GetStatus().GetPorts(); len(ports) > 0 {
		port = int(ports[0].GetPort())
	}
	return session.GameSession{
		SessionID:      gs.GetObjectMeta().GetName(),
		IPAddress:      gs.GetStatus().GetAddress(),
		Port:           port,
		Properties:     properties,
		MatchmakerData: annotations["matchmakerData"],
	}
}

func (o *Orchestrator) Activate(ctx context.Context) error {
	if err := o.sdk.Allocate(); err != nil {
		return fmt.Errorf("agones: activate: %w", err)
	}
	return nil
}

func (o *Orchestrator) AcceptPlayerSession(ctx context.Context, playerSessionID string) error {
	ok, err := o.sdk.Alpha().PlayerConnect(playerSessionID)
	if err != nil {
		return fmt.Errorf("agones: player connect: %w", err)
	}
	if !ok {
		return fmt.Errorf("agones: player session %s not admitted", playerSessionID)
	}
	return nil
}

func (o *Orchestrator) RemovePlayerSession(ctx context.Context, playerSessionID string) error {
	if _, err := o.sdk.Alpha().PlayerDisconnect(playerSessionID); err != nil {
		return fmt.Errorf("agones: player disconnect: %w", err)
	}
	return nil
}

func (o *Orchestrator) DenyAllPlayerSessions(ctx context.Context) error {
	if err := o.sdk.Alpha().SetPlayerCapacity(0); err != nil {
		return fmt.Errorf("agones: deny player sessions: %w", err)
	}
	return nil
}

func (o *Orchestrator) End(ctx context.Context) error {
	o.mu.Lock()
	if o.stopHealth != nil {
		o.stopHealth()
	}
	o.mu.Unlock()
	if err := o.sdk.Shutdown(); err != nil {
		return fmt.Errorf("agones: shutdown: %w", err)
	}
	return nil
}
