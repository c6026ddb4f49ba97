// Package hosttest provides in-memory host implementations for tests.
package hosttest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/perch/internal/host"
)

// UI runs posted functions one at a time on a dedicated goroutine, mimicking a
// toolkit main loop.
type UI struct {
	queue chan func()
	onUI  atomic.Bool
	posts atomic.Int64
}

// NewUI returns a running UI loop. It stops when ctx is done.
func NewUI(ctx context.Context) *UI {
	u := &UI{queue: make(chan func(), 256)}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-u.queue:
				u.onUI.Store(true)
				fn()
				u.onUI.Store(false)
			}
		}
	}()
	return u
}

// Post implements host.UI.
func (u *UI) Post(fn func()) {
	u.posts.Add(1)
	u.queue <- fn
}

// OnUIThread reports whether the caller is running inside a posted function.
func (u *UI) OnUIThread() bool {
	return u.onUI.Load()
}

// Posts returns the number of posted functions.
func (u *UI) Posts() int64 {
	return u.posts.Load()
}

// Window is a window recorded by Windows.
type Window struct {
	Handle      host.WindowHandle
	Spec        host.WindowSpec
	AlwaysOnTop bool
	SkipTaskbar bool
}

// Windows is an in-memory host.Windows. If a UI is set, calls made off the UI
// thread are counted as violations.
type Windows struct {
	mu         sync.Mutex
	ui         *UI
	next       uint64
	live       map[host.WindowHandle]*Window
	created    int
	destroyed  int
	violations int
	failFor    map[string]error
}

// NewWindows creates an empty Windows. ui may be nil.
func NewWindows(ui *UI) *Windows {
	return &Windows{
		ui:      ui,
		live:    make(map[host.WindowHandle]*Window),
		failFor: make(map[string]error),
	}
}

// FailFor makes CreateWindow fail for windows of the config whose base name
// matches name. A nil err clears the failure.
func (w *Windows) FailFor(name string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.failFor, name)
		return
	}
	w.failFor[name] = err
}

func (w *Windows) checkThread() {
	if w.ui != nil && !w.ui.OnUIThread() {
		w.violations++
	}
}

// CreateWindow implements host.Windows.
func (w *Windows) CreateWindow(spec host.WindowSpec) (host.WindowHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkThread()

	if err, ok := w.failFor[filepath.Base(spec.ConfigPath)]; ok {
		return 0, err
	}

	w.next++
	h := host.WindowHandle(w.next)
	w.live[h] = &Window{
		Handle:      h,
		Spec:        spec,
		AlwaysOnTop: spec.AlwaysOnTop,
		SkipTaskbar: spec.SkipTaskbar,
	}
	w.created++
	return h, nil
}

// DestroyWindow implements host.Windows.
func (w *Windows) DestroyWindow(handle host.WindowHandle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkThread()

	if _, ok := w.live[handle]; !ok {
		return fmt.Errorf("destroy %d: %w", handle, host.ErrUnknownWindow)
	}
	delete(w.live, handle)
	w.destroyed++
	return nil
}

// SetAlwaysOnTop implements host.Windows.
func (w *Windows) SetAlwaysOnTop(handle host.WindowHandle, onTop bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkThread()

	win, ok := w.live[handle]
	if !ok {
		return host.ErrUnknownWindow
	}
	win.AlwaysOnTop = onTop
	return nil
}

// SetSkipTaskbar implements host.Windows.
func (w *Windows) SetSkipTaskbar(handle host.WindowHandle, skip bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkThread()

	win, ok := w.live[handle]
	if !ok {
		return host.ErrUnknownWindow
	}
	win.SkipTaskbar = skip
	return nil
}

// Live returns copies of the live windows.
func (w *Windows) Live() []Window {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Window, 0, len(w.live))
	for _, win := range w.live {
		out = append(out, *win)
	}
	return out
}

// Get returns a copy of the live window for handle.
func (w *Windows) Get(handle host.WindowHandle) (Window, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	win, ok := w.live[handle]
	if !ok {
		return Window{}, false
	}
	return *win, true
}

// IsLive reports whether handle refers to a live window.
func (w *Windows) IsLive(handle host.WindowHandle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.live[handle]
	return ok
}

// Counts returns created and destroyed totals.
func (w *Windows) Counts() (created, destroyed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.created, w.destroyed
}

// Violations returns how many calls were made off the UI thread.
func (w *Windows) Violations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.violations
}

// Displays is a settable host.Displays.
type Displays struct {
	mu       sync.Mutex
	monitors []host.MonitorInfo
	err      error
	calls    int
}

// NewDisplays returns Displays reporting monitors.
func NewDisplays(monitors ...host.MonitorInfo) *Displays {
	return &Displays{monitors: monitors}
}

// Set replaces the reported monitors.
func (d *Displays) Set(monitors ...host.MonitorInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitors = monitors
}

// SetError makes Monitors fail with err until cleared with nil.
func (d *Displays) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Monitors implements host.Displays.
func (d *Displays) Monitors() ([]host.MonitorInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	out := make([]host.MonitorInfo, len(d.monitors))
	copy(out, d.monitors)
	return out, nil
}

// Tray records tray menus.
type Tray struct {
	mu      sync.Mutex
	ui      *UI
	menus   [][]host.MenuEntry
	offUI   int
	failErr error
}

// NewTray returns a Tray. ui may be nil.
func NewTray(ui *UI) *Tray {
	return &Tray{ui: ui}
}

// Fail makes SetTrayMenu return err until cleared with nil.
func (t *Tray) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failErr = err
}

// SetTrayMenu implements host.Tray.
func (t *Tray) SetTrayMenu(entries []host.MenuEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ui != nil && !t.ui.OnUIThread() {
		t.offUI++
	}
	if t.failErr != nil {
		return t.failErr
	}
	t.menus = append(t.menus, entries)
	return nil
}

// Menus returns every menu set so far.
func (t *Tray) Menus() [][]host.MenuEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]host.MenuEntry, len(t.menus))
	copy(out, t.menus)
	return out
}

// Last returns the most recent menu.
func (t *Tray) Last() []host.MenuEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.menus) == 0 {
		return nil
	}
	return t.menus[len(t.menus)-1]
}

// OffUICalls returns how many SetTrayMenu calls happened off the UI thread.
func (t *Tray) OffUICalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offUI
}

// Watcher is a host.DirectoryWatcher fed by Send.
type Watcher struct {
	mu      sync.Mutex
	streams []chan host.FileEvent
	paths   []string
}

// NewWatcher returns an empty Watcher.
func NewWatcher() *Watcher {
	return &Watcher{}
}

// WatchDirectory implements host.DirectoryWatcher.
func (w *Watcher) WatchDirectory(ctx context.Context, path string) (<-chan host.FileEvent, error) {
	ch := make(chan host.FileEvent, 64)

	w.mu.Lock()
	w.streams = append(w.streams, ch)
	w.paths = append(w.paths, path)
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, s := range w.streams {
			if s == ch {
				w.streams = append(w.streams[:i], w.streams[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Send delivers ev to every active stream.
func (w *Watcher) Send(ev host.FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.streams {
		ch <- ev
	}
}

// Paths returns every directory passed to WatchDirectory.
func (w *Watcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.paths))
	copy(out, w.paths)
	return out
}

// Watching returns the number of active streams.
func (w *Watcher) Watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.streams)
}
