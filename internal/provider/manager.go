package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/perch/internal/event"
)

// WidgetLookup reports whether a widget instance is open.
type WidgetLookup interface {
	IsOpen(id string) bool
}

// Key identifies one subscription.
type Key struct {
	WidgetID   string
	Kind       string
	ConfigHash string
}

type subscription struct {
	key      Key
	provider Provider
	cancel   context.CancelFunc
	done     chan struct{}

	// emitMu serializes delivery against stop; once stopped is set no
	// further output leaves this subscription.
	emitMu  sync.Mutex
	stopped bool
}

// Manager owns every provider subscription.
type Manager struct {
	registry *Registry
	emitter  Emitter
	widgets  WidgetLookup
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[Key]*subscription
}

// NewManager creates a Manager. A nil registry uses DefaultRegistry.
func NewManager(registry *Registry, emitter Emitter, widgets WidgetLookup, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		emitter:  emitter,
		widgets:  widgets,
		logger:   logger,
		subs:     make(map[Key]*subscription),
	}
}

// Listen starts a subscription for (widgetID, kind, cfg) and returns the
// config hash identifying it. Listening again with an equal config is a
// no-op. Configs that differ produce independent subscriptions.
func (m *Manager) Listen(widgetID, kind string, cfg map[string]any) (string, error) {
	if !m.widgets.IsOpen(widgetID) {
		return "", &Error{WidgetID: widgetID, Kind: kind, Err: ErrUnknownWidget}
	}

	hash, err := ConfigHash(cfg)
	if err != nil {
		return "", &Error{WidgetID: widgetID, Kind: kind, Err: err}
	}
	key := Key{WidgetID: widgetID, Kind: kind, ConfigHash: hash}

	m.mu.Lock()
	_, exists := m.subs[key]
	m.mu.Unlock()
	if exists {
		return hash, nil
	}

	p, err := m.registry.New(kind, cfg)
	if err != nil {
		return "", &Error{WidgetID: widgetID, Kind: kind, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		key:      key,
		provider: p,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.subs[key]; exists {
		m.mu.Unlock()
		cancel()
		return hash, nil
	}
	m.subs[key] = sub
	m.mu.Unlock()

	go m.run(ctx, sub)
	m.logger.Debug("provider listening", "widget", widgetID, "kind", kind, "hash", hash, "interval", p.Interval())

	// The widget may have closed while the provider was being built.
	if !m.widgets.IsOpen(widgetID) {
		m.Reconcile()
		return "", &Error{WidgetID: widgetID, Kind: kind, Err: ErrUnknownWidget}
	}
	return hash, nil
}

// Unlisten stops every subscription of widgetID for kind. When it returns,
// no further output for those subscriptions is delivered.
func (m *Manager) Unlisten(widgetID, kind string) error {
	stopped := m.remove(func(k Key) bool {
		return k.WidgetID == widgetID && k.Kind == kind
	})
	if stopped == 0 {
		return &Error{WidgetID: widgetID, Kind: kind, Err: fmt.Errorf("no active subscription")}
	}
	m.logger.Debug("provider unlistened", "widget", widgetID, "kind", kind, "count", stopped)
	return nil
}

// Reconcile stops the subscriptions of widgets that are no longer open and
// returns how many were stopped.
func (m *Manager) Reconcile() int {
	n := m.remove(func(k Key) bool {
		return !m.widgets.IsOpen(k.WidgetID)
	})
	if n > 0 {
		m.logger.Debug("stopped provider subscriptions of closed widgets", "count", n)
	}
	return n
}

// Run reconciles subscriptions every time closed fires until ctx is done,
// then stops every subscription.
func (m *Manager) Run(ctx context.Context, closed *event.Signal[string]) error {
	ch, stop := closed.Subscribe()
	defer stop()
	defer m.StopAll()

	// Widgets may have closed before the subscription existed.
	m.Reconcile()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			drain(ch)
			m.Reconcile()
		}
	}
}

// StopAll stops every subscription.
func (m *Manager) StopAll() {
	m.remove(func(Key) bool { return true })
}

// Subscriptions returns the active subscription keys, sorted.
func (m *Manager) Subscriptions() []Key {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.WidgetID != b.WidgetID {
			return a.WidgetID < b.WidgetID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ConfigHash < b.ConfigHash
	})
	return keys
}

// remove takes matching subscriptions out of the map and stops them outside
// the lock.
func (m *Manager) remove(match func(Key) bool) int {
	m.mu.Lock()
	var victims []*subscription
	for k, sub := range m.subs {
		if match(k) {
			victims = append(victims, sub)
			delete(m.subs, k)
		}
	}
	m.mu.Unlock()

	for _, sub := range victims {
		sub.stop()
	}
	return len(victims)
}

func (s *subscription) stop() {
	s.emitMu.Lock()
	s.stopped = true
	s.emitMu.Unlock()

	s.cancel()
	<-s.done
}

func (m *Manager) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	ticker := time.NewTicker(sub.provider.Interval())
	defer ticker.Stop()

	m.sample(ctx, sub)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx, sub)
		}
	}
}

func (m *Manager) sample(ctx context.Context, sub *subscription) {
	v, err := sub.provider.Sample(ctx)
	if ctx.Err() != nil {
		return
	}

	out := Output{
		WidgetID:   sub.key.WidgetID,
		Kind:       sub.key.Kind,
		ConfigHash: sub.key.ConfigHash,
		Timestamp:  time.Now(),
	}
	if err == nil {
		out.Payload, err = json.Marshal(v)
	}
	if err != nil {
		perr := &Error{WidgetID: sub.key.WidgetID, Kind: sub.key.Kind, Err: err}
		out.Payload = nil
		out.Err = perr.Error()
		m.logger.Debug("provider sample failed", "widget", out.WidgetID, "kind", out.Kind, "error", err)
	}

	sub.emitMu.Lock()
	defer sub.emitMu.Unlock()
	if sub.stopped {
		return
	}
	m.emitter.EmitProvider(out)
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
