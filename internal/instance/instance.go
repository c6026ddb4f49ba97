// Package instance defines the single-instance gate: the first process to
// acquire it serves widgets, later processes forward their command line to it
// and exit.
package instance

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNoPrimary is returned by Forward when no process holds the gate.
var ErrNoPrimary = errors.New("no primary instance")

// Handler receives a command line forwarded by a secondary process.
type Handler func(args []string)

// Gate is the single-instance contract.
type Gate interface {
	// Acquire claims the gate and reports whether this process is the
	// primary.
	Acquire(ctx context.Context) (primary bool, err error)
	// Forward sends args to the primary.
	Forward(ctx context.Context, args []string) error
	// Serve installs the handler for forwarded command lines. Command lines
	// received before Serve are delivered when it is called.
	Serve(h Handler)
	// Close releases the gate.
	Close() error
}

// Inbox queues forwarded command lines until a handler is installed.
// Gate implementations embed it.
type Inbox struct {
	mu      sync.Mutex
	handler Handler
	pending [][]string
}

// Serve installs h and delivers every queued command line to it.
func (b *Inbox) Serve(h Handler) {
	b.mu.Lock()
	b.handler = h
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, args := range pending {
		h(args)
	}
}

// Deliver hands args to the handler, or queues them if none is installed.
func (b *Inbox) Deliver(args []string) {
	args = slices.Clone(args)

	b.mu.Lock()
	h := b.handler
	if h == nil {
		b.pending = append(b.pending, args)
	}
	b.mu.Unlock()

	if h != nil {
		h(args)
	}
}

// Bus is an in-process rendezvous for Local gates.
type Bus struct {
	mu    sync.Mutex
	owner *Local
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Gate returns a new gate on b.
func (b *Bus) Gate() *Local {
	return &Local{bus: b}
}

// Local is a Gate scoped to a Bus, standing in for a session-wide name.
type Local struct {
	Inbox
	bus *Bus
}

// Acquire implements Gate.
func (l *Local) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()

	if l.bus.owner == nil {
		l.bus.owner = l
	}
	return l.bus.owner == l, nil
}

// Forward implements Gate.
func (l *Local) Forward(ctx context.Context, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.bus.mu.Lock()
	owner := l.bus.owner
	l.bus.mu.Unlock()

	if owner == nil {
		return ErrNoPrimary
	}
	owner.Deliver(args)
	return nil
}

// Close implements Gate.
func (l *Local) Close() error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	if l.bus.owner == l {
		l.bus.owner = nil
	}
	return nil
}
