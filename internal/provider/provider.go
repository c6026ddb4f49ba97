// Package provider runs per-widget data feeds. Each subscription samples its
// provider on its own schedule and delivers snapshots only to the widget that
// requested it.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownKind is returned when no provider is registered for a kind.
	ErrUnknownKind = errors.New("unknown provider kind")
	// ErrUnknownWidget is returned when listening on behalf of a widget that is
	// not open.
	ErrUnknownWidget = errors.New("unknown widget")
)

// Error is a failure scoped to one subscription.
type Error struct {
	WidgetID string
	Kind     string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s for widget %s: %v", e.Kind, e.WidgetID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Output is one snapshot or failure delivered to a subscriber. Exactly one of
// Payload and Err is set.
type Output struct {
	WidgetID   string          `json:"widgetId"`
	Kind       string          `json:"kind"`
	ConfigHash string          `json:"configHash"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Err        string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Emitter delivers provider output to the widget it belongs to.
type Emitter interface {
	EmitProvider(out Output)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(out Output)

// EmitProvider implements Emitter.
func (f EmitterFunc) EmitProvider(out Output) { f(out) }

// Provider produces value snapshots. A Provider instance belongs to exactly
// one subscription, so it may keep state between samples.
type Provider interface {
	// Interval returns how often Sample is called.
	Interval() time.Duration
	// Sample returns the current value. It should honour ctx cancellation.
	Sample(ctx context.Context) (any, error)
}

// Constructor builds a provider from its subscription config.
type Constructor func(cfg map[string]any) (Provider, error)

// Registry maps provider kinds to constructors. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with every built-in provider.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("cpu", NewCPU)
	_ = r.Register("memory", NewMemory)
	_ = r.Register("disk", NewDisk)
	_ = r.Register("host", NewHost)
	_ = r.Register("network", NewNetwork)
	_ = r.Register("date", NewDate)
	return r
}

// Register adds a constructor. It returns an error if kind is taken.
func (r *Registry) Register(kind string, c Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[kind]; exists {
		return fmt.Errorf("provider %q already registered", kind)
	}
	r.constructors[kind] = c
	return nil
}

// New constructs a provider of kind from cfg.
func (r *Registry) New(kind string, cfg map[string]any) (Provider, error) {
	r.mu.RLock()
	c, ok := r.constructors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return c(cfg)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
