// Package host defines the narrow contracts perch uses to reach the windowing
// toolkit, the tray, the display server and the filesystem watcher.
// Nothing outside the host implementations depends on toolkit internals.
package host

import (
	"context"
	"errors"
)

// ErrUnknownWindow is returned when a handle does not refer to a live window.
var ErrUnknownWindow = errors.New("unknown window handle")

// WindowHandle is an opaque reference to a toolkit window. The host owns the
// window; perch only references it.
type WindowHandle uint64

// Rect is a rectangle in desktop coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether p lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// WindowSpec describes a window to create.
type WindowSpec struct {
	Title       string
	WidgetID    string
	ConfigPath  string
	HTMLPath    string
	AssetRoot   string
	MonitorName string
	Bounds      Rect // monitor bounds the window is placed on
	Rect        Rect // absolute window rectangle
	ScaleFactor float64
	AlwaysOnTop bool
	AlwaysBelow bool
	SkipTaskbar bool
	Focused     bool
	Resizable   bool
	Transparent bool
}

// Windows creates and destroys widget windows. Calls must be made on the UI
// thread (see UI and Call).
type Windows interface {
	CreateWindow(spec WindowSpec) (WindowHandle, error)
	DestroyWindow(handle WindowHandle) error
	SetAlwaysOnTop(handle WindowHandle, onTop bool) error
	SetSkipTaskbar(handle WindowHandle, skip bool) error
}

// MonitorInfo is a raw display description reported by the host.
type MonitorInfo struct {
	Name        string
	X           int
	Y           int
	Width       int
	Height      int
	ScaleFactor float64
	Primary     bool
}

// Displays enumerates the current monitors.
type Displays interface {
	Monitors() ([]MonitorInfo, error)
}

// MenuKind is the type of a tray menu entry.
type MenuKind int

const (
	// MenuAction is a plain clickable entry.
	MenuAction MenuKind = iota
	// MenuToggle is a checkbox entry.
	MenuToggle
	// MenuSeparator is a separator line.
	MenuSeparator
	// MenuSubmenu groups child entries.
	MenuSubmenu
)

// MenuEntry is one tray menu item.
type MenuEntry struct {
	ID       string
	Label    string
	Kind     MenuKind
	Checked  bool
	Disabled bool
	Children []MenuEntry
}

// Tray renders the tray menu. Calls must be made on the UI thread.
type Tray interface {
	SetTrayMenu(entries []MenuEntry) error
}

// FileOp is the kind of a filesystem change.
type FileOp int

const (
	FileCreated FileOp = iota
	FileWritten
	FileRemoved
	FileRenamed
)

// String returns the string representation of FileOp.
func (o FileOp) String() string {
	switch o {
	case FileCreated:
		return "created"
	case FileWritten:
		return "written"
	case FileRemoved:
		return "removed"
	case FileRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileEvent is a change to a path under a watched directory.
type FileEvent struct {
	Path string
	Op   FileOp
}

// DirectoryWatcher streams changes under a directory tree until ctx is done,
// then closes the channel.
type DirectoryWatcher interface {
	WatchDirectory(ctx context.Context, path string) (<-chan FileEvent, error)
}
