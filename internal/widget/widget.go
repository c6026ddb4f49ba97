// Package widget owns the lifecycle of widget windows: opening them from
// widget configs, closing them, and relaunching all of them when the
// configuration or monitor topology changes.
package widget

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/host"
	"github.com/jmylchreest/perch/internal/monitor"
)

// ErrWidgetNotFound is returned for an id that is not in the registry.
var ErrWidgetNotFound = errors.New("widget not found")

// OpenWidget is one live widget window.
type OpenWidget struct {
	ID          string
	Config      *config.WidgetConfig
	Monitor     monitor.Monitor
	Rect        host.Rect
	Handle      host.WindowHandle
	Generation  uint64
	AlwaysOnTop bool
	SkipTaskbar bool
	OpenedAt    time.Time
}

// OpenError is returned when the host fails to create a widget window.
type OpenError struct {
	ConfigPath string
	MonitorID  string
	Cause      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open widget %s on %s: %v", e.ConfigPath, e.MonitorID, e.Cause)
}

func (e *OpenError) Unwrap() error {
	return e.Cause
}

// newID returns a fresh instance id. Ids are never reused.
func newID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// windowSpec describes the window for one placement target.
func windowSpec(id string, wc *config.WidgetConfig, t monitor.Target, assetRoot string) host.WindowSpec {
	return host.WindowSpec{
		Title:       wc.Name,
		WidgetID:    id,
		ConfigPath:  wc.Path,
		HTMLPath:    wc.ResolvedHTMLPath(),
		AssetRoot:   assetRoot,
		MonitorName: t.Monitor.Name,
		Bounds:      t.Monitor.Bounds(),
		Rect:        t.Rect,
		ScaleFactor: t.Monitor.ScaleFactor,
		AlwaysOnTop: wc.ZOrder == config.ZOrderTopMost,
		AlwaysBelow: wc.ZOrder == config.ZOrderBottomMost,
		SkipTaskbar: !wc.ShownInTaskbar,
		Focused:     wc.Focused,
		Resizable:   wc.Resizable,
		Transparent: wc.Transparent,
	}
}
