package push

import (
	"context"
	"errors"
)

// ErrConnectionGone reports delivery against a connection the remote side
// already dropped. Always benign: callers log it and move on.
var ErrConnectionGone = errors.New("push: connection gone")

// Channel delivers messages to individual client connections.
type Channel interface {
	// Send delivers one payload to the connection. A closed connection is
	// ErrConnectionGone; anything else is a real delivery failure.
	Send(ctx context.Context, connectionID string, payload any) error

	// Close tears the connection down. Closing an already-gone connection
	// is ErrConnectionGone.
	Close(ctx context.Context, connectionID string) error
}

// Resolver maps a deployment stage onto the channel family serving it.
type Resolver interface {
	Channel(stage string) (Channel, error)
}
