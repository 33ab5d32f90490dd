package cluster

import (
	"context"
	"errors"
)

var (
	ErrStateKeyAlreadySet = errors.New("specified key is already taken")
	ErrNoResponder        = errors.New("no peer answered the state request")
	ErrNotReady           = errors.New("state is not ready to be served")
	ErrChannelClosed      = errors.New("channel is closed")
)

// State is the per-category endpoint a Layer delivers inbound messages to.
type State interface {
	// Merge applies a payload pushed by another context. Implementations
	// must never broadcast from Merge.
	Merge(payload []byte) error
	// MarshalBinary answers a pull request from another context. Returning
	// an error means "do not answer".
	MarshalBinary() ([]byte, error)
}

// Channel allows clients to exchange messages for a specific category.
// Broadcasts are fire-and-forget and best-effort.
type Channel interface {
	// Listen activates delivery of inbound messages to the registered state.
	Listen()
	// Broadcast pushes payload to every other context bound to the category.
	Broadcast(payload []byte)
	// Pull asks the other contexts bound to the category for their current
	// state and returns the first answer.
	Pull(ctx context.Context) ([]byte, error)
	// Close releases the registration.
	Close() error
}

// Layer binds states to categories on a messaging transport.
type Layer interface {
	AddState(category string, state State) (Channel, error)
}
