// Package gateway terminates the client-facing websocket surface. Each
// connection is registered with the push hub for its stage so that the
// match event processor can address it later by connection id.
package gateway

import (
	"context"
	"net/http"

	"match-session-coordinator/matchmaking"
	"match-session-coordinator/provider"
	"match-session-coordinator/push"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Matchmaker is the slice of the request service the gateway dispatches to.
type Matchmaker interface {
	Submit(ctx context.Context, userID, connectionID, stage string) (string, error)
	Cancel(ctx context.Context, userID string) (matchmaking.CancelResult, error)
	Status(ctx context.Context, ticketID string) (provider.TicketStatus, error)
}

// Server upgrades websocket sessions and runs the per-connection command
// loop. Outbound frames always go through the push hub so gateway replies
// and match notifications share one writer.
type Server struct {
	matchmaker Matchmaker
	directory  *push.Directory
	stages     []string
	upgrader   websocket.Upgrader
}

func NewServer(matchmaker Matchmaker, directory *push.Directory, stages []string) *Server {
	return &Server{
		matchmaker: matchmaker,
		directory:  directory,
		stages:     stages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the game launcher origin;
			// auth happens on the user id, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router mounts the websocket endpoint per stage.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/matchmaking/{stage}", s.serveWS).Methods(http.MethodGet)
	return r
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	stage := mux.Vars(r)["stage"]
	if !s.knownStage(stage) {
		http.Error(w, "unknown stage", http.StatusNotFound)
		return
	}
	// Identity may be pinned at connect time; clients that carry userId in
	// every command frame connect bare.
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("gateway: websocket upgrade failed")
		return
	}

	hub := s.directory.Hub(stage)
	connectionID := hub.Register(ws)
	log.Info().Str("userId", userID).Str("stage", stage).Str("connectionId", connectionID).Msg("gateway: session opened")

	sess := &clientSession{
		server:       s,
		hub:          hub,
		userID:       userID,
		stage:        stage,
		connectionID: connectionID,
		ws:           ws,
	}
	// The connection is hijacked; the request context dies with this
	// handler, so the loop runs against the background context.
	sess.readLoop(context.Background())
}

func (s *Server) knownStage(stage string) bool {
	for _, st := range s.stages {
		if st == stage {
			return true
		}
	}
	return false
}
