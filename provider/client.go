package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPClient talks to the matchmaking provider's ticket API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type startRequest struct {
	Configuration string   `json:"configurationName"`
	Players       []Player `json:"players"`
}

type ticketResponse struct {
	TicketID string       `json:"ticketId"`
	Status   TicketStatus `json:"status"`
}

func (c *HTTPClient) StartMatchmaking(ctx context.Context, configuration string, players []Player) (string, error) {
	body, err := json.Marshal(startRequest{Configuration: configuration, Players: players})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tickets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	ticket := ticketResponse{}
	if err := c.do(req, &ticket); err != nil {
		return "", err
	}
	if ticket.TicketID == "" {
		return "", fmt.Errorf("%w: empty ticket id", ErrInternal)
	}
	log.Debug().Str("ticketId", ticket.TicketID).Str("configuration", configuration).Msg("provider: matchmaking started")
	return ticket.TicketID, nil
}

func (c *HTTPClient) DescribeTicket(ctx context.Context, ticketID string) (TicketStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tickets/"+ticketID, nil)
	if err != nil {
		return "", err
	}
	ticket := ticketResponse{}
	if err := c.do(req, &ticket); err != nil {
		return "", err
	}
	return ticket.Status, nil
}

func (c *HTTPClient) StopMatchmaking(ctx context.Context, ticketID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/tickets/"+ticketID, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// do executes the request and maps provider status codes onto the error
// taxonomy: 4xx is ErrInvalidRequest, 5xx is ErrInternal.
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrInternal, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", ErrInvalidRequest, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrInternal, err)
	}
	return nil
}
