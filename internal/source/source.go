package source

import "errors"

// Handler receives one notification payload. sender identifies the device or
// source that produced it. The packet slice is owned by the handler.
type Handler func(sender string, packet []byte)

// Source delivers packets to a registered handler until deregistered.
// A handler call may still be in flight when Deregister returns an error.
type Source interface {
	Register(h Handler) error
	Deregister() error
}

// Finite is implemented by sources that end on their own, like a replay.
// Done is closed after the last packet was delivered.
type Finite interface {
	Done() <-chan struct{}
}

var (
	ErrAlreadyRegistered = errors.New("source: handler already registered")
	ErrNotRegistered     = errors.New("source: no handler registered")
)
