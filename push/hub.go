package push

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// Hub is the connection registry for one deployment stage. Connections are
// addressed by the id handed out at registration time; that id is what ends
// up in the matching pointer.
type Hub struct {
	stage string

	mu    sync.RWMutex
	conns map[string]*hubConn
}

// hubConn serializes writes; gorilla connections allow one writer at a time.
type hubConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewHub(stage string) *Hub {
	return &Hub{
		stage: stage,
		conns: make(map[string]*hubConn),
	}
}

func (h *Hub) Stage() string { return h.stage }

// Register adds a connection and returns its addressable id.
func (h *Hub) Register(ws *websocket.Conn) string {
	id := uuid.New().String()
	h.mu.Lock()
	h.conns[id] = &hubConn{ws: ws}
	h.mu.Unlock()
	log.Debug().Str("connectionId", id).Str("stage", h.stage).Msg("push: connection registered")
	return id
}

// Unregister drops the connection from the registry without touching the
// underlying socket. Used when the read loop observes the peer going away.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	delete(h.conns, connectionID)
	h.mu.Unlock()
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) lookup(connectionID string) (*hubConn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connectionID]
	return c, ok
}

func (h *Hub) Send(ctx context.Context, connectionID string, payload any) error {
	c, ok := h.lookup(connectionID)
	if !ok {
		return ErrConnectionGone
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(payload); err != nil {
		if isGone(err) {
			return ErrConnectionGone
		}
		return fmt.Errorf("push: send to %s: %w", connectionID, err)
	}
	return nil
}

func (h *Hub) Close(ctx context.Context, connectionID string) error {
	c, ok := h.lookup(connectionID)
	if !ok {
		return ErrConnectionGone
	}
	h.mu.Lock()
	delete(h.conns, connectionID)
	h.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "matched"),
		time.Now().Add(writeWait))
	if err := c.ws.Close(); err != nil {
		if isGone(err) {
			return ErrConnectionGone
		}
		return fmt.Errorf("push: close %s: %w", connectionID, err)
	}
	return nil
}

func isGone(err error) bool {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure)
}

// Directory resolves stages onto their hubs. One process usually serves a
// single stage, but the resolution stays explicit because the event
// processor picks a representative stage per match batch.
type Directory struct {
	mu   sync.RWMutex
	hubs map[string]*Hub
}

func NewDirectory() *Directory {
	return &Directory{hubs: make(map[string]*Hub)}
}

// Hub returns the hub for a stage, creating it on first use.
func (d *Directory) Hub(stage string) *Hub {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hubs[stage]
	if !ok {
		h = NewHub(stage)
		d.hubs[stage] = h
	}
	return h
}

// Channel implements Resolver. An unknown stage means the batch cannot be
// routed from this process at all.
func (d *Directory) Channel(stage string) (Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.hubs[stage]
	if !ok {
		return nil, fmt.Errorf("push: no channel for stage %q", stage)
	}
	return h, nil
}
