// Package claims runs the in-session websocket listener players reconnect
// to after a matched notification. The first frame on each connection must
// present the player-session claim issued by the matchmaking provider.
package claims

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const authWait = 10 * time.Second

// Admitter is the slice of the session controller the listener drives.
type Admitter interface {
	AcceptPlayerSession(ctx context.Context, playerSessionID string) error
	ReleasePlayerSession(ctx context.Context, playerSessionID string) error
}

// JoinRequest is the authentication frame a player sends on connect.
type JoinRequest struct {
	UserID          string `json:"userId"`
	PlayerSessionID string `json:"playerSessionId"`
}

// JoinResponse acknowledges or rejects the claim.
type JoinResponse struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Listener owns the game-port HTTP server. It lives exactly as long as the
// session: started when the session activates, torn down with the process.
type Listener struct {
	admitter Admitter
	upgrader websocket.Upgrader

	mu  sync.Mutex
	srv *http.Server
}

func NewListener(admitter Admitter) *Listener {
	return &Listener{
		admitter: admitter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start serves the claim endpoint on an already-bound socket, taken over
// from the port reservation so the port is never free in between. Serve
// errors are fatal for the process and reported through errCh.
func (l *Listener) Start(ln net.Listener, errCh chan<- error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.serveWS)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	l.mu.Lock()
	l.srv = srv
	l.mu.Unlock()

	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("claims: listener started")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("claims: listener failed: %w", err)
		}
	}()
}

func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	srv := l.srv
	l.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (l *Listener) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("claims: upgrade failed")
		return
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(authWait))
	var join JoinRequest
	if err := ws.ReadJSON(&join); err != nil {
		log.Warn().Err(err).Msg("claims: no auth frame before deadline")
		return
	}
	if join.PlayerSessionID == "" || join.UserID == "" {
		_ = ws.WriteJSON(JoinResponse{Action: "join", Error: "userId and playerSessionId are required"})
		return
	}

	if err := l.admitter.AcceptPlayerSession(r.Context(), join.PlayerSessionID); err != nil {
		log.Warn().Err(err).Str("userId", join.UserID).Str("playerSessionId", join.PlayerSessionID).Msg("claims: join rejected")
		_ = ws.WriteJSON(JoinResponse{Action: "join", Error: err.Error()})
		return
	}
	_ = ws.WriteJSON(JoinResponse{Action: "join", Success: true})
	log.Info().Str("userId", join.UserID).Str("playerSessionId", join.PlayerSessionID).Msg("claims: player joined")

	// Gameplay frames flow here. The read loop only tracks liveness; a
	// closed socket hands the slot back.
	_ = ws.SetReadDeadline(time.Time{})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	if err := l.admitter.ReleasePlayerSession(context.Background(), join.PlayerSessionID); err != nil {
		log.Debug().Err(err).Str("playerSessionId", join.PlayerSessionID).Msg("claims: release after disconnect failed")
	}
	log.Info().Str("playerSessionId", join.PlayerSessionID).Msg("claims: player left")
}
