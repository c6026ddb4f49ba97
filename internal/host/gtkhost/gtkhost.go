// Package gtkhost implements the host contracts on GTK4 with libadwaita and
// wlr-layer-shell. Widget windows are layer surfaces positioned by margins
// from the top-left corner of their monitor.
package gtkhost

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/diamondburned/gotk4-adwaita/pkg/adw"
	"github.com/diamondburned/gotk4/pkg/gdk/v4"
	"github.com/diamondburned/gotk4/pkg/gio/v2"
	"github.com/diamondburned/gotk4/pkg/glib/v2"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"github.com/jmylchreest/perch/internal/host"
)

// AppID is the GTK application id.
const AppID = "io.github.jmylchreest.perch"

// EnvAssetRoot is exported to the process environment so widget content can
// resolve assets relative to the config directory.
const EnvAssetRoot = "PERCH_CONFIG_DIR"

// Error is a failure inside the toolkit.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gtk %s: %v", e.Op, e.Cause)
	}
	return "gtk " + e.Op
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Host owns the GTK application. It implements host.UI, host.Windows and
// host.Displays.
type Host struct {
	app    *adw.Application
	logger *slog.Logger

	mu       sync.Mutex
	next     uint64
	windows  map[host.WindowHandle]*window
	onClosed func(host.WindowHandle)
	onChange func()

	cssOnce sync.Once
}

// New creates the application. Nothing is shown until Run.
func New(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	// Single-instance is handled on the session bus, not by GApplication.
	app := adw.NewApplication(AppID, gio.ApplicationNonUnique)
	return &Host{
		app:     app,
		logger:  logger,
		windows: make(map[host.WindowHandle]*window),
	}
}

// Post implements host.UI.
func (h *Host) Post(fn func()) {
	glib.IdleAdd(fn)
}

// OnWindowClosed installs the callback for windows closed by the user or the
// compositor. It runs off the UI thread.
func (h *Host) OnWindowClosed(fn func(host.WindowHandle)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClosed = fn
}

// OnMonitorsChanged installs the callback for display hotplug. It runs off
// the UI thread.
func (h *Host) OnMonitorsChanged(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// ExportAssetRoot publishes dir as the widget asset root.
func (h *Host) ExportAssetRoot(dir string) error {
	if err := os.Setenv(EnvAssetRoot, dir); err != nil {
		return &Error{Op: "export asset root", Cause: err}
	}
	return nil
}

// Run starts the main loop and blocks until Quit. ready is called once the
// application is active, on its own goroutine so it may block on the UI
// thread. The application is held: closing every window does not exit.
func (h *Host) Run(args []string, ready func()) int {
	h.app.ConnectActivate(func() {
		h.app.Hold()
		h.watchMonitors()
		go ready()
	})
	h.app.ConnectShutdown(func() {
		h.logger.Debug("gtk application shutting down")
	})
	return h.app.Run(args)
}

// Quit stops the main loop. Safe to call from any goroutine.
func (h *Host) Quit() {
	h.Post(func() {
		h.app.Release()
		h.app.Quit()
	})
}

func (h *Host) watchMonitors() {
	display := gdk.DisplayGetDefault()
	if display == nil {
		h.logger.Warn("no display available, monitor changes will not be tracked")
		return
	}
	display.Monitors().ConnectItemsChanged(func(position, removed, added uint) {
		h.logger.Debug("display monitors changed", "removed", removed, "added", added)
		h.mu.Lock()
		fn := h.onChange
		h.mu.Unlock()
		if fn != nil {
			go fn()
		}
	})
}

func (h *Host) installCSS(display *gdk.Display) {
	h.cssOnce.Do(func() {
		provider := gtk.NewCSSProvider()
		provider.LoadFromString(transparentCSS)
		gtk.StyleContextAddProviderForDisplay(display, provider, gtk.STYLE_PROVIDER_PRIORITY_APPLICATION)
	})
}

const transparentCSS = `
window.perch-transparent,
window.perch-transparent > * {
	background: transparent;
	box-shadow: none;
}
`
