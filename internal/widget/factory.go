package widget

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/event"
	"github.com/jmylchreest/perch/internal/host"
	"github.com/jmylchreest/perch/internal/monitor"
)

// ConfigSource provides the current widget configs.
type ConfigSource interface {
	WidgetConfigByPath(path string) (*config.WidgetConfig, error)
	Dir() string
}

// Placer resolves a widget config against the current monitors.
type Placer interface {
	Resolve(wc *config.WidgetConfig) ([]monitor.Target, error)
}

// Factory creates and destroys widget windows and owns the registry of open
// widgets.
//
// Lock order: gen before mu. mu guards only the registry map and is never
// held across a UI call. gen is held shared by Open/Close and exclusively by
// RelaunchAll, so a relaunch never interleaves with another relaunch or with
// an individual open or close.
type Factory struct {
	ui       host.UI
	windows  host.Windows
	configs  ConfigSource
	monitors Placer
	logger   *slog.Logger

	gen        sync.RWMutex
	generation atomic.Uint64

	// Relaunch coalescing: requested counts RelaunchAll calls, covered is the
	// highest request number a started relaunch has taken responsibility for.
	relMu     sync.Mutex
	requested uint64
	covered   uint64

	mu      sync.RWMutex
	widgets map[string]*OpenWidget
	// While opens are in flight, handles reported destroyed before their
	// registry insert are held in gone so the insert is skipped.
	opening int
	gone    map[host.WindowHandle]struct{}

	// Opened receives the id of every opened widget. Wake-up only.
	Opened *event.Signal[string]
	// Closed receives the id of every closed widget. Wake-up only.
	Closed *event.Signal[string]
}

// NewFactory creates a Factory with an empty registry.
func NewFactory(ui host.UI, windows host.Windows, configs ConfigSource, monitors Placer, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		ui:       ui,
		windows:  windows,
		configs:  configs,
		monitors: monitors,
		logger:   logger,
		widgets:  make(map[string]*OpenWidget),
		gone:     make(map[host.WindowHandle]struct{}),
		Opened:   event.NewSignal[string]("widget-opened", 64),
		Closed:   event.NewSignal[string]("widget-closed", 64),
	}
}

// Open creates one window per monitor selected by wc's placements. Repeated
// calls for the same config are not deduplicated: each call creates new
// instances. If any window fails, the windows created by this call are
// destroyed and an *OpenError is returned.
func (f *Factory) Open(ctx context.Context, wc *config.WidgetConfig) ([]OpenWidget, error) {
	f.gen.RLock()
	defer f.gen.RUnlock()
	return f.open(ctx, wc)
}

func (f *Factory) open(ctx context.Context, wc *config.WidgetConfig) ([]OpenWidget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targets, err := f.monitors.Resolve(wc)
	if err != nil {
		return nil, err
	}

	gen := f.generation.Load()
	now := time.Now()
	opened := make([]*OpenWidget, len(targets))
	specs := make([]host.WindowSpec, len(targets))
	for i, t := range targets {
		id, err := newID()
		if err != nil {
			return nil, err
		}
		specs[i] = windowSpec(id, wc, t, f.configs.Dir())
		opened[i] = &OpenWidget{
			ID:          id,
			Config:      wc,
			Monitor:     t.Monitor,
			Rect:        t.Rect,
			Generation:  gen,
			AlwaysOnTop: specs[i].AlwaysOnTop,
			SkipTaskbar: specs[i].SkipTaskbar,
			OpenedAt:    now,
		}
	}

	f.mu.Lock()
	f.opening++
	f.mu.Unlock()
	defer f.endOpen()

	// Entries are registered on the UI thread as each window is created, so a
	// host close report, which is raised on the UI thread, always finds them.
	// Posted UI work always runs to completion so no window is orphaned by a
	// cancelled caller.
	err = host.Do(context.WithoutCancel(ctx), f.ui, func() error {
		for i, spec := range specs {
			h, err := f.windows.CreateWindow(spec)
			if err != nil {
				f.rollback(opened[:i])
				return &OpenError{ConfigPath: wc.Path, MonitorID: targets[i].Monitor.ID, Cause: err}
			}
			f.register(opened[i], h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]OpenWidget, 0, len(opened))
	f.mu.RLock()
	for _, w := range opened {
		if cur, ok := f.widgets[w.ID]; ok && cur == w {
			out = append(out, *w)
		}
	}
	f.mu.RUnlock()

	for _, w := range out {
		f.logger.Info("widget opened", "id", w.ID, "config", wc.Path, "monitor", w.Monitor.ID, "generation", gen)
		f.Opened.Emit(w.ID)
	}
	return out, nil
}

// register records w under its new window handle unless the host has already
// reported that window destroyed.
func (f *Factory) register(w *OpenWidget, h host.WindowHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Handle = h
	if _, dead := f.gone[h]; dead {
		delete(f.gone, h)
		f.logger.Debug("widget window closed before registration", "id", w.ID, "handle", h)
		return
	}
	f.widgets[w.ID] = w
}

// rollback destroys the windows of a partially opened config. Must run on the
// UI thread.
func (f *Factory) rollback(created []*OpenWidget) {
	f.mu.Lock()
	for _, w := range created {
		delete(f.widgets, w.ID)
	}
	f.mu.Unlock()

	for _, w := range created {
		err := f.windows.DestroyWindow(w.Handle)
		if err != nil && !errors.Is(err, host.ErrUnknownWindow) {
			f.logger.Warn("failed to roll back widget window", "handle", w.Handle, "error", err)
		}
	}
}

func (f *Factory) endOpen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opening--
	if f.opening == 0 {
		clear(f.gone)
	}
}

// Close destroys the widget's window and removes it from the registry.
func (f *Factory) Close(ctx context.Context, id string) error {
	f.gen.RLock()
	defer f.gen.RUnlock()
	return f.close(ctx, id)
}

func (f *Factory) close(ctx context.Context, id string) error {
	f.mu.Lock()
	w, ok := f.widgets[id]
	if ok {
		delete(f.widgets, id)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("close %s: %w", id, ErrWidgetNotFound)
	}

	err := host.Do(context.WithoutCancel(ctx), f.ui, func() error {
		return f.windows.DestroyWindow(w.Handle)
	})
	if err != nil && !errors.Is(err, host.ErrUnknownWindow) {
		err = fmt.Errorf("failed to destroy window for widget %s: %w", id, err)
	} else {
		err = nil
	}

	f.logger.Info("widget closed", "id", id, "config", w.Config.Path)
	f.Closed.Emit(id)
	return err
}

// CloseByPath closes every open widget created from the config at path.
func (f *Factory) CloseByPath(ctx context.Context, path string) error {
	f.gen.RLock()
	defer f.gen.RUnlock()

	var errs []error
	for _, w := range f.List() {
		if w.Config.Path != path {
			continue
		}
		if err := f.close(ctx, w.ID); err != nil && !errors.Is(err, ErrWidgetNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RelaunchAll tears down every open widget and reopens each distinct config
// once from the current configuration and monitor state. Concurrent calls
// are serialized; a call whose request is already covered by a relaunch that
// started after it was made returns without doing any work. Failures to
// reopen individual configs do not stop the others and are returned joined.
func (f *Factory) RelaunchAll(ctx context.Context) error {
	f.relMu.Lock()
	f.requested++
	ticket := f.requested
	f.relMu.Unlock()

	f.gen.Lock()
	defer f.gen.Unlock()

	f.relMu.Lock()
	if f.covered >= ticket {
		f.relMu.Unlock()
		f.logger.Debug("relaunch coalesced", "ticket", ticket)
		return nil
	}
	f.covered = f.requested
	f.relMu.Unlock()

	gen := f.generation.Add(1)

	f.mu.Lock()
	old := lo.Values(f.widgets)
	f.widgets = make(map[string]*OpenWidget)
	f.mu.Unlock()

	slices.SortFunc(old, func(a, b *OpenWidget) int {
		return cmp.Or(a.OpenedAt.Compare(b.OpenedAt), cmp.Compare(a.ID, b.ID))
	})

	f.logger.Info("relaunching widgets", "count", len(old), "generation", gen)

	if len(old) > 0 {
		err := host.Do(context.WithoutCancel(ctx), f.ui, func() error {
			for _, w := range old {
				if err := f.windows.DestroyWindow(w.Handle); err != nil && !errors.Is(err, host.ErrUnknownWindow) {
					f.logger.Warn("failed to destroy widget window", "id", w.ID, "error", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, w := range old {
		f.Closed.Emit(w.ID)
	}

	paths := lo.Uniq(lo.Map(old, func(w *OpenWidget, _ int) string {
		return w.Config.Path
	}))

	var errs []error
	for _, path := range paths {
		wc, err := f.configs.WidgetConfigByPath(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("reopen %s: %w", path, err))
			continue
		}
		if _, err := f.open(ctx, wc); err != nil {
			errs = append(errs, fmt.Errorf("reopen %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// SetAlwaysOnTop changes the z-order flag of an open widget.
func (f *Factory) SetAlwaysOnTop(ctx context.Context, id string, onTop bool) error {
	return f.setFlag(ctx, id, func(h host.WindowHandle) error {
		return f.windows.SetAlwaysOnTop(h, onTop)
	}, func(w *OpenWidget) {
		w.AlwaysOnTop = onTop
	})
}

// SetSkipTaskbar changes whether an open widget appears in the taskbar.
func (f *Factory) SetSkipTaskbar(ctx context.Context, id string, skip bool) error {
	return f.setFlag(ctx, id, func(h host.WindowHandle) error {
		return f.windows.SetSkipTaskbar(h, skip)
	}, func(w *OpenWidget) {
		w.SkipTaskbar = skip
	})
}

func (f *Factory) setFlag(ctx context.Context, id string, apply func(host.WindowHandle) error, record func(*OpenWidget)) error {
	f.gen.RLock()
	defer f.gen.RUnlock()

	f.mu.RLock()
	w, ok := f.widgets[id]
	var handle host.WindowHandle
	if ok {
		handle = w.Handle
	}
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("widget %s: %w", id, ErrWidgetNotFound)
	}

	if err := host.Do(ctx, f.ui, func() error { return apply(handle) }); err != nil {
		return fmt.Errorf("widget %s: %w", id, err)
	}

	f.mu.Lock()
	if w, ok := f.widgets[id]; ok {
		record(w)
	}
	f.mu.Unlock()
	return nil
}

// WindowDestroyed removes the widget whose window the host already destroyed,
// for example because the user closed it. Unknown handles are ignored unless
// an open is in flight, in which case the handle is never registered. It only
// takes the registry lock and may be called from any goroutine.
func (f *Factory) WindowDestroyed(handle host.WindowHandle) {
	f.mu.Lock()
	var found *OpenWidget
	for id, w := range f.widgets {
		if w.Handle == handle {
			found = w
			delete(f.widgets, id)
			break
		}
	}
	if found == nil && f.opening > 0 {
		f.gone[handle] = struct{}{}
	}
	f.mu.Unlock()

	if found == nil {
		return
	}
	f.logger.Info("widget window closed by host", "id", found.ID, "config", found.Config.Path)
	f.Closed.Emit(found.ID)
}

// List returns copies of the open widgets ordered by open time.
func (f *Factory) List() []OpenWidget {
	f.mu.RLock()
	out := make([]OpenWidget, 0, len(f.widgets))
	for _, w := range f.widgets {
		out = append(out, *w)
	}
	f.mu.RUnlock()

	slices.SortFunc(out, func(a, b OpenWidget) int {
		return cmp.Or(a.OpenedAt.Compare(b.OpenedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Get returns a copy of the open widget with id.
func (f *Factory) Get(id string) (OpenWidget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	w, ok := f.widgets[id]
	if !ok {
		return OpenWidget{}, false
	}
	return *w, true
}

// IsOpen reports whether id is in the registry.
func (f *Factory) IsOpen(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.widgets[id]
	return ok
}

// OpenConfigPaths returns the set of config paths with at least one open
// widget.
func (f *Factory) OpenConfigPaths() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return lo.SliceToMap(lo.Values(f.widgets), func(w *OpenWidget) (string, bool) {
		return w.Config.Path, true
	})
}

// Generation returns the current relaunch generation.
func (f *Factory) Generation() uint64 {
	return f.generation.Load()
}
