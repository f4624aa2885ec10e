package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"match-session-coordinator/push"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const commandTimeout = 15 * time.Second

// Request is the inbound command frame. Action selects the handler; the
// remaining fields are action-specific. UserID names the acting user;
// connections opened with an out-of-band identity may omit it.
type Request struct {
	Action   string `json:"action"`
	UserID   string `json:"userId,omitempty"`
	TicketID string `json:"ticketId,omitempty"`
}

// Response is the uniform reply envelope. Payload is only set on success,
// Error only on failure.
type Response struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

type clientSession struct {
	server       *Server
	hub          *push.Hub
	userID       string
	stage        string
	connectionID string
	ws           *websocket.Conn
}

// readLoop decodes command frames until the peer goes away. Every command
// runs the same pipeline: parse the frame, execute against the matchmaker,
// serialize the envelope back through the hub.
func (c *clientSession) readLoop(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c.connectionID)
		_ = c.ws.Close()
		log.Info().Str("connectionId", c.connectionID).Msg("gateway: session closed")
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("connectionId", c.connectionID).Msg("gateway: read ended")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.reply(ctx, Response{Action: "error", Error: "malformed request"})
			continue
		}

		resp := c.execute(ctx, req)
		if gone := c.reply(ctx, resp); gone {
			return
		}
	}
}

func (c *clientSession) execute(ctx context.Context, req Request) Response {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	action, payload, err := c.dispatch(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("action", req.Action).Str("userId", c.userID).Msg("gateway: command failed")
		return Response{Action: action, Error: err.Error()}
	}
	return Response{Action: action, Success: true, Payload: payload}
}

// resolveUser picks the acting user id for a command: the frame's userId,
// the connection identity when the frame omits it. A frame naming a
// different user than the connection was opened with is rejected.
func (c *clientSession) resolveUser(req Request) (string, error) {
	switch {
	case req.UserID == "" && c.userID == "":
		return "", fmt.Errorf("userId is required")
	case req.UserID == "":
		return c.userID, nil
	case c.userID != "" && req.UserID != c.userID:
		return "", fmt.Errorf("userId does not match this connection")
	}
	return req.UserID, nil
}

// dispatch runs one command and names the response action: queueing is
// answered with queued, cancel with canceled, ticketStatus with queried.
func (c *clientSession) dispatch(ctx context.Context, req Request) (string, any, error) {
	switch req.Action {
	case "queueing":
		userID, err := c.resolveUser(req)
		if err != nil {
			return "queued", nil, err
		}
		ticketID, err := c.server.matchmaker.Submit(ctx, userID, c.connectionID, c.stage)
		if err != nil {
			return "queued", nil, err
		}
		return "queued", map[string]string{"ticketId": ticketID}, nil
	case "cancel":
		userID, err := c.resolveUser(req)
		if err != nil {
			return "canceled", nil, err
		}
		result, err := c.server.matchmaker.Cancel(ctx, userID)
		if err != nil {
			return "canceled", nil, err
		}
		return "canceled", map[string]string{"result": string(result)}, nil
	case "ticketStatus":
		if req.TicketID == "" {
			return "queried", nil, fmt.Errorf("ticketId is required")
		}
		status, err := c.server.matchmaker.Status(ctx, req.TicketID)
		if err != nil {
			return "queried", nil, err
		}
		return "queried", map[string]string{"status": string(status)}, nil
	default:
		return "error", nil, fmt.Errorf("unknown action %q", req.Action)
	}
}

// reply writes through the hub so it cannot interleave with a match push.
// Reports whether the connection is gone.
func (c *clientSession) reply(ctx context.Context, resp Response) bool {
	if err := c.hub.Send(ctx, c.connectionID, resp); err != nil {
		if errors.Is(err, push.ErrConnectionGone) {
			return true
		}
		log.Warn().Err(err).Str("connectionId", c.connectionID).Msg("gateway: reply failed")
	}
	return false
}
