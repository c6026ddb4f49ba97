// Package monitor tracks the display topology and turns abstract widget
// placements into absolute window rectangles.
package monitor

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jmylchreest/perch/internal/event"
	"github.com/jmylchreest/perch/internal/host"
)

// Monitor is one display in a topology snapshot.
type Monitor struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scaleFactor"`
	Primary     bool    `json:"isPrimary"`
}

// Bounds returns the monitor rectangle in desktop coordinates.
func (m Monitor) Bounds() host.Rect {
	return host.Rect{X: m.X, Y: m.Y, Width: m.Width, Height: m.Height}
}

// State holds the current ordered monitor snapshot.
type State struct {
	mu       sync.RWMutex
	displays host.Displays
	logger   *slog.Logger
	monitors []Monitor

	// Changed fires when a refresh produced a different snapshot. Wake-up
	// only: read Monitors for the current topology.
	Changed *event.Signal[struct{}]
}

// New enumerates the displays. The initial population does not emit Changed.
func New(displays host.Displays, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &State{
		displays: displays,
		logger:   logger,
		Changed:  event.NewSignal[struct{}]("monitor-changed", 0),
	}

	monitors, err := s.enumerate()
	if err != nil {
		return nil, err
	}
	s.monitors = monitors

	logger.Info("monitors enumerated", "count", len(monitors))
	return s, nil
}

// Refresh re-enumerates the displays and emits Changed only when the
// topology differs from the previous snapshot.
func (s *State) Refresh() (bool, error) {
	monitors, err := s.enumerate()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	changed := !slices.Equal(monitors, s.monitors)
	if changed {
		s.monitors = monitors
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("monitor topology changed", "count", len(monitors))
		s.Changed.Emit(struct{}{})
	} else {
		s.logger.Debug("monitor refresh without changes")
	}
	return changed, nil
}

// Monitors returns a copy of the current snapshot, ordered by position.
func (s *State) Monitors() []Monitor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.monitors)
}

// Primary returns the primary monitor, if any monitor exists.
func (s *State) Primary() (Monitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.monitors {
		if m.Primary {
			return m, true
		}
	}
	return Monitor{}, false
}

// MarshalJSON encodes the snapshot as a JSON array.
func (s *State) MarshalJSON() ([]byte, error) {
	monitors := s.Monitors()
	if monitors == nil {
		monitors = []Monitor{}
	}
	return json.Marshal(monitors)
}

func (s *State) enumerate() ([]Monitor, error) {
	infos, err := s.displays.Monitors()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate monitors: %w", err)
	}
	return normalize(infos), nil
}

// normalize orders raw monitor descriptions by (x, y, name), assigns ids and
// guarantees exactly one primary when any monitor exists.
func normalize(infos []host.MonitorInfo) []Monitor {
	sorted := slices.Clone(infos)
	slices.SortStableFunc(sorted, func(a, b host.MonitorInfo) int {
		return cmp.Or(cmp.Compare(a.X, b.X), cmp.Compare(a.Y, b.Y), cmp.Compare(a.Name, b.Name))
	})

	out := make([]Monitor, 0, len(sorted))
	hasPrimary := false
	for i, info := range sorted {
		scale := info.ScaleFactor
		if scale <= 0 {
			scale = 1
		}
		id := info.Name
		if id == "" {
			id = fmt.Sprintf("monitor-%d", i)
		}
		primary := info.Primary && !hasPrimary
		hasPrimary = hasPrimary || primary

		out = append(out, Monitor{
			ID:          id,
			Name:        info.Name,
			X:           info.X,
			Y:           info.Y,
			Width:       info.Width,
			Height:      info.Height,
			ScaleFactor: scale,
			Primary:     primary,
		})
	}
	if !hasPrimary && len(out) > 0 {
		out[0].Primary = true
	}
	return out
}
