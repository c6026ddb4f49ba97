package gtkhost

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/diamondburned/gotk4/pkg/core/glib"
	"github.com/diamondburned/gotk4/pkg/gdk/v4"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"github.com/jmylchreest/perch/internal/host"
)

const enumerateTimeout = 5 * time.Second

var errNoDisplay = errors.New("no display available")

// Monitors implements host.Displays. Geometry is reported in physical pixels.
// It must not be called on the UI thread.
func (h *Host) Monitors() ([]host.MonitorInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), enumerateTimeout)
	defer cancel()

	infos, err := host.Call(ctx, h, Direct{}.Monitors)
	if err != nil && ctx.Err() != nil {
		return nil, &Error{Op: "enumerate monitors", Cause: err}
	}
	return infos, err
}

func gdkMonitors() ([]*gdk.Monitor, error) {
	display := gdk.DisplayGetDefault()
	if display == nil {
		return nil, errNoDisplay
	}
	list := display.Monitors()
	if list == nil {
		return nil, nil
	}
	n := list.NItems()
	out := make([]*gdk.Monitor, 0, n)
	for i := uint(0); i < n; i++ {
		if m := wrapMonitor(list.Item(i)); m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// findMonitor returns the GDK monitor reported under name.
func findMonitor(name string) *gdk.Monitor {
	monitors, err := gdkMonitors()
	if err != nil {
		return nil
	}
	for i, m := range monitors {
		if monitorName(i, m.Connector()) == name {
			return m
		}
	}
	return nil
}

func monitorInfo(index int, m *gdk.Monitor) host.MonitorInfo {
	geo := m.Geometry()
	scale := float64(m.ScaleFactor())
	if scale <= 0 {
		scale = 1
	}
	// GTK has no primary monitor; the first one is treated as primary.
	return host.MonitorInfo{
		Name:        monitorName(index, m.Connector()),
		X:           physical(geo.X(), scale),
		Y:           physical(geo.Y(), scale),
		Width:       physical(geo.Width(), scale),
		Height:      physical(geo.Height(), scale),
		ScaleFactor: scale,
		Primary:     index == 0,
	}
}

func monitorName(index int, connector string) string {
	if connector != "" {
		return connector
	}
	return fmt.Sprintf("monitor-%d", index)
}

func physical(v int, scale float64) int {
	return int(float64(v) * scale)
}

// wrapMonitor casts a list item to a gdk.Monitor; gotk4 does not export its
// own wrapper.
func wrapMonitor(obj *glib.Object) *gdk.Monitor {
	if obj == nil {
		return nil
	}
	type monitor struct {
		_ [0]func()
		*glib.Object
	}
	m := &monitor{Object: obj}
	return (*gdk.Monitor)(unsafe.Pointer(m))
}

// Direct enumerates monitors on the calling goroutine without a main loop.
// It is for one-shot queries; GTK must be initialised with InitDisplay.
type Direct struct{}

// InitDisplay initialises GTK on the calling thread.
func InitDisplay() error {
	if !gtk.InitCheck() {
		return &Error{Op: "init", Cause: errNoDisplay}
	}
	return nil
}

// Monitors implements host.Displays.
func (Direct) Monitors() ([]host.MonitorInfo, error) {
	monitors, err := gdkMonitors()
	if err != nil {
		return nil, &Error{Op: "enumerate monitors", Cause: err}
	}
	out := make([]host.MonitorInfo, 0, len(monitors))
	for i, m := range monitors {
		out = append(out, monitorInfo(i, m))
	}
	return out, nil
}
