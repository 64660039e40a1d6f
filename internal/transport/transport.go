// Package transport defines how broadcast payloads reach subscribers.
package transport

import (
	"context"
	"errors"
)

// ErrGone reports that a connection id no longer maps to a live subscriber.
// Broadcast treats it as a permanent verdict and removes the registration;
// any other error is transient and leaves the registration alone.
var ErrGone = errors.New("connection gone")

// Sender pushes one payload to one subscriber connection.
type Sender interface {
	Send(ctx context.Context, connectionID string, payload []byte) error
}
