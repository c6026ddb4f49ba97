package gtkhost

import (
	"errors"
	"fmt"
	"math"

	layershell "github.com/diamondburned/gotk4-layer-shell/pkg/gtk4layershell"
	"github.com/diamondburned/gotk4/pkg/gdk/v4"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"github.com/jmylchreest/perch/internal/host"
)

const namespace = "perch-widget"

var errNoMonitor = errors.New("monitor not found")

type window struct {
	win  *gtk.Window
	spec host.WindowSpec
}

// surface is the layer-shell geometry for a WindowSpec, in logical pixels relative
// to the monitor's top-left corner.
type surface struct {
	Layer    layershell.LayerShellLayer
	Keyboard layershell.LayerShellKeyboardMode
	Left     int
	Top      int
	Width    int
	Height   int
}

func surfaceFor(spec host.WindowSpec) surface {
	scale := spec.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	logical := func(v int) int { return int(math.Round(float64(v) / scale)) }

	s := surface{
		Layer:    layerFor(spec.AlwaysOnTop, spec.AlwaysBelow),
		Keyboard: layershell.LayerShellKeyboardModeNone,
		Left:     logical(spec.Rect.X - spec.Bounds.X),
		Top:      logical(spec.Rect.Y - spec.Bounds.Y),
		Width:    max(logical(spec.Rect.Width), 1),
		Height:   max(logical(spec.Rect.Height), 1),
	}
	if spec.Focused {
		s.Keyboard = layershell.LayerShellKeyboardModeOnDemand
	}
	return s
}

func layerFor(onTop, below bool) layershell.LayerShellLayer {
	switch {
	case onTop:
		return layershell.LayerShellLayerTop
	case below:
		return layershell.LayerShellLayerBackground
	default:
		return layershell.LayerShellLayerBottom
	}
}

// CreateWindow implements host.Windows. Must run on the UI thread.
func (h *Host) CreateWindow(spec host.WindowSpec) (host.WindowHandle, error) {
	display := gdk.DisplayGetDefault()
	if display == nil {
		return 0, &Error{Op: "create window", Cause: errNoDisplay}
	}
	mon := findMonitor(spec.MonitorName)
	if mon == nil {
		return 0, &Error{Op: "create window", Cause: fmt.Errorf("%w: %s", errNoMonitor, spec.MonitorName)}
	}
	h.installCSS(display)

	s := surfaceFor(spec)
	win := gtk.NewWindow()
	win.SetApplication(&h.app.Application)
	win.SetTitle(spec.Title)
	win.SetDecorated(false)
	win.SetResizable(spec.Resizable)
	win.SetDefaultSize(s.Width, s.Height)
	win.AddCSSClass("perch-widget")
	if spec.Transparent {
		win.AddCSSClass("perch-transparent")
	}

	layershell.InitForWindow(win)
	layershell.SetNamespace(win, namespace)
	layershell.SetMonitor(win, mon)
	layershell.SetLayer(win, s.Layer)
	layershell.SetExclusiveZone(win, 0)
	layershell.SetKeyboardMode(win, s.Keyboard)
	layershell.SetAnchor(win, layershell.LayerShellEdgeTop, true)
	layershell.SetAnchor(win, layershell.LayerShellEdgeLeft, true)
	layershell.SetMargin(win, layershell.LayerShellEdgeTop, s.Top)
	layershell.SetMargin(win, layershell.LayerShellEdgeLeft, s.Left)

	label := gtk.NewLabel(spec.Title)
	label.SetTooltipText(spec.HTMLPath)
	win.SetChild(label)

	h.mu.Lock()
	h.next++
	handle := host.WindowHandle(h.next)
	h.windows[handle] = &window{win: win, spec: spec}
	h.mu.Unlock()

	win.ConnectCloseRequest(func() bool {
		h.mu.Lock()
		_, live := h.windows[handle]
		delete(h.windows, handle)
		fn := h.onClosed
		h.mu.Unlock()

		if live && fn != nil {
			go fn(handle)
		}
		return false
	})

	win.Present()
	h.logger.Debug("window created",
		"handle", handle,
		"widget", spec.WidgetID,
		"monitor", spec.MonitorName,
		"left", s.Left,
		"top", s.Top,
		"width", s.Width,
		"height", s.Height,
	)
	return handle, nil
}

// DestroyWindow implements host.Windows. Must run on the UI thread.
func (h *Host) DestroyWindow(handle host.WindowHandle) error {
	h.mu.Lock()
	w, ok := h.windows[handle]
	delete(h.windows, handle)
	h.mu.Unlock()

	if !ok {
		return host.ErrUnknownWindow
	}
	// Destroy does not emit close-request, so WindowDestroyed is not called.
	w.win.Destroy()
	return nil
}

// SetAlwaysOnTop implements host.Windows by moving the surface between the
// top and bottom layers.
func (h *Host) SetAlwaysOnTop(handle host.WindowHandle, onTop bool) error {
	w, err := h.lookup(handle)
	if err != nil {
		return err
	}
	w.spec.AlwaysOnTop = onTop
	layershell.SetLayer(w.win, layerFor(onTop, w.spec.AlwaysBelow))
	return nil
}

// SetSkipTaskbar implements host.Windows. Layer surfaces never appear in a
// taskbar, so only the flag is recorded.
func (h *Host) SetSkipTaskbar(handle host.WindowHandle, skip bool) error {
	w, err := h.lookup(handle)
	if err != nil {
		return err
	}
	w.spec.SkipTaskbar = skip
	return nil
}

func (h *Host) lookup(handle host.WindowHandle) (*window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[handle]
	if !ok {
		return nil, host.ErrUnknownWindow
	}
	return w, nil
}
