package monitor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/host"
)

// Target is one resolved window position for a widget.
type Target struct {
	Monitor   Monitor
	Placement config.Placement
	Rect      host.Rect
}

// PlacementError is returned when a widget's placements cannot be resolved
// against the current monitors.
type PlacementError struct {
	ConfigPath string
	Placement  int // index into the config's placements, -1 for the config as a whole
	Reason     string
	Cause      error
}

func (e *PlacementError) Error() string {
	msg := "placement of " + e.ConfigPath
	if e.Placement >= 0 {
		msg += fmt.Sprintf(" (placement %d)", e.Placement)
	}
	msg += ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PlacementError) Unwrap() error {
	return e.Cause
}

// Resolve evaluates every placement of wc against the current snapshot.
// The result depends only on wc and the snapshot, so an unchanged topology
// always yields the same targets in the same order.
func (s *State) Resolve(wc *config.WidgetConfig) ([]Target, error) {
	return ResolveAgainst(s.Monitors(), wc)
}

// ResolveAgainst evaluates wc against an explicit ordered monitor list.
func ResolveAgainst(monitors []Monitor, wc *config.WidgetConfig) ([]Target, error) {
	if len(monitors) == 0 {
		return nil, &PlacementError{ConfigPath: wc.Path, Placement: -1, Reason: "no monitors available"}
	}

	var targets []Target
	for i, p := range wc.Placements {
		if err := p.Validate(); err != nil {
			return nil, &PlacementError{ConfigPath: wc.Path, Placement: i, Reason: "invalid placement", Cause: err}
		}

		for _, m := range selectMonitors(monitors, p.MonitorSelection) {
			rect, err := place(m, p)
			if err != nil {
				return nil, &PlacementError{ConfigPath: wc.Path, Placement: i, Reason: "cannot place on " + m.ID, Cause: err}
			}
			targets = append(targets, Target{Monitor: m, Placement: p, Rect: rect})
		}
	}

	if len(targets) == 0 {
		return nil, &PlacementError{ConfigPath: wc.Path, Placement: -1, Reason: "no monitor matches any placement"}
	}
	return targets, nil
}

func selectMonitors(monitors []Monitor, sel config.MonitorSelection) []Monitor {
	var out []Monitor
	switch sel.Type {
	case config.SelectAll:
		out = monitors
	case config.SelectPrimary:
		for _, m := range monitors {
			if m.Primary {
				out = append(out, m)
			}
		}
	case config.SelectSecondary:
		for _, m := range monitors {
			if !m.Primary {
				out = append(out, m)
			}
		}
	case config.SelectIndex:
		if i, err := strconv.Atoi(sel.Match); err == nil && i >= 0 && i < len(monitors) {
			out = []Monitor{monitors[i]}
		}
	case config.SelectName:
		for _, m := range monitors {
			if strings.EqualFold(m.Name, sel.Match) {
				out = append(out, m)
			}
		}
	}
	return out
}

// place converts an anchor, offsets and size into an absolute rectangle on m.
func place(m Monitor, p config.Placement) (host.Rect, error) {
	width := p.Width.Resolve(m.Width, m.ScaleFactor)
	height := p.Height.Resolve(m.Height, m.ScaleFactor)
	if width <= 0 || height <= 0 {
		return host.Rect{}, fmt.Errorf("size %sx%s resolves to %dx%d", p.Width, p.Height, width, height)
	}

	offsetX := p.OffsetX.Resolve(m.Width, m.ScaleFactor)
	offsetY := p.OffsetY.Resolve(m.Height, m.ScaleFactor)

	var x, y int
	switch p.Anchor {
	case config.AnchorTopLeft, config.AnchorCenterLeft, config.AnchorBottomLeft:
		x = m.X
	case config.AnchorTopCenter, config.AnchorCenter, config.AnchorBottomCenter:
		x = m.X + (m.Width-width)/2
	default:
		x = m.X + m.Width - width
	}
	switch p.Anchor {
	case config.AnchorTopLeft, config.AnchorTopCenter, config.AnchorTopRight:
		y = m.Y
	case config.AnchorCenterLeft, config.AnchorCenter, config.AnchorCenterRight:
		y = m.Y + (m.Height-height)/2
	default:
		y = m.Y + m.Height - height
	}

	return host.Rect{X: x + offsetX, Y: y + offsetY, Width: width, Height: height}, nil
}
