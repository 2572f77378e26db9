// Package messaging defines the publisher port shared by the API and its
// broker and in-memory adapters.
package messaging

import (
	"context"
	"errors"

	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
)

// State is the publisher lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateChannelOpen
	StateConfirmEnabled
	StateQueueDeclared
	StateReady
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateChannelOpen:
		return "CHANNEL_OPEN"
	case StateConfirmEnabled:
		return "CONFIRM_ENABLED"
	case StateQueueDeclared:
		return "QUEUE_DECLARED"
	case StateReady:
		return "READY"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Publish failure kinds. Callers map these to HTTP 503 variants.
var (
	ErrPublisherNotReady = errors.New("publisher_not_ready")
	ErrQueueRejected     = errors.New("queue_rejected")
	ErrConnectionLost    = errors.New("connection_lost")
	ErrPublishTimeout    = errors.New("publisher_timeout")
)

// Publisher is the outbound message port of the API process.
type Publisher interface {
	// Connect brings the publisher to READY or fails after the configured
	// number of attempts (fatal at startup).
	Connect(ctx context.Context) error
	// Publish sends one envelope and waits for the broker confirm. It is safe
	// for concurrent use; publishes are serialized internally.
	Publish(ctx context.Context, env domain.Envelope) error
	Ready() bool
	State() State
	Close(ctx context.Context) error
}
