package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ZOrder is the stacking preference of a widget window.
type ZOrder string

const (
	ZOrderNormal     ZOrder = "normal"
	ZOrderTopMost    ZOrder = "top_most"
	ZOrderBottomMost ZOrder = "bottom_most"
)

// ValidZOrders returns all valid z-order values.
func ValidZOrders() []ZOrder {
	return []ZOrder{ZOrderNormal, ZOrderTopMost, ZOrderBottomMost}
}

// Anchor is the point of a monitor a placement is measured from.
type Anchor string

const (
	AnchorTopLeft      Anchor = "top_left"
	AnchorTopCenter    Anchor = "top_center"
	AnchorTopRight     Anchor = "top_right"
	AnchorCenterLeft   Anchor = "center_left"
	AnchorCenter       Anchor = "center"
	AnchorCenterRight  Anchor = "center_right"
	AnchorBottomLeft   Anchor = "bottom_left"
	AnchorBottomCenter Anchor = "bottom_center"
	AnchorBottomRight  Anchor = "bottom_right"
)

// ValidAnchors returns all valid anchor values.
func ValidAnchors() []Anchor {
	return []Anchor{
		AnchorTopLeft, AnchorTopCenter, AnchorTopRight,
		AnchorCenterLeft, AnchorCenter, AnchorCenterRight,
		AnchorBottomLeft, AnchorBottomCenter, AnchorBottomRight,
	}
}

// SelectionType chooses which monitors a placement applies to.
type SelectionType string

const (
	SelectAll       SelectionType = "all"
	SelectPrimary   SelectionType = "primary"
	SelectSecondary SelectionType = "secondary"
	SelectIndex     SelectionType = "index"
	SelectName      SelectionType = "name"
)

// ValidSelectionTypes returns all valid monitor selection types.
func ValidSelectionTypes() []SelectionType {
	return []SelectionType{SelectAll, SelectPrimary, SelectSecondary, SelectIndex, SelectName}
}

// MonitorSelection picks monitors for a placement. Match holds the index for
// SelectIndex and the monitor name for SelectName.
type MonitorSelection struct {
	Type  SelectionType `mapstructure:"type" json:"type"`
	Match string        `mapstructure:"match" json:"match,omitempty"`
}

// Placement positions a widget window relative to a monitor.
type Placement struct {
	Anchor           Anchor           `mapstructure:"anchor" json:"anchor"`
	OffsetX          Length           `mapstructure:"offsetX" json:"offsetX"`
	OffsetY          Length           `mapstructure:"offsetY" json:"offsetY"`
	Width            Length           `mapstructure:"width" json:"width"`
	Height           Length           `mapstructure:"height" json:"height"`
	MonitorSelection MonitorSelection `mapstructure:"monitorSelection" json:"monitorSelection"`
}

// DefaultPlacement is used for widget files that declare no placements: the
// full area of the primary monitor.
func DefaultPlacement() Placement {
	return Placement{
		Anchor:           AnchorTopLeft,
		Width:            Percent(100),
		Height:           Percent(100),
		MonitorSelection: MonitorSelection{Type: SelectPrimary},
	}
}

// Validate checks the placement's enumerations.
func (p Placement) Validate() error {
	if !slices.Contains(ValidAnchors(), p.Anchor) {
		return fmt.Errorf("invalid anchor %q, must be one of: %v", p.Anchor, ValidAnchors())
	}
	sel := p.MonitorSelection
	if !slices.Contains(ValidSelectionTypes(), sel.Type) {
		return fmt.Errorf("invalid monitor selection %q, must be one of: %v", sel.Type, ValidSelectionTypes())
	}
	switch sel.Type {
	case SelectIndex:
		if n, err := strconv.Atoi(sel.Match); err != nil || n < 0 {
			return fmt.Errorf("monitor selection index must be a non-negative integer, got %q", sel.Match)
		}
	case SelectName:
		if sel.Match == "" {
			return fmt.Errorf("monitor selection by name requires match")
		}
	}
	return nil
}

// WidgetConfig is one widget definition file. It is immutable once loaded and
// replaced wholesale when its file changes.
type WidgetConfig struct {
	// Path is the absolute path of the source file and the config's identity.
	Path string `mapstructure:"-" json:"path"`

	Name           string         `mapstructure:"name" json:"name"`
	HTMLPath       string         `mapstructure:"htmlPath" json:"htmlPath"`
	Autostart      bool           `mapstructure:"autostart" json:"autostart"`
	ZOrder         ZOrder         `mapstructure:"zOrder" json:"zOrder"`
	ShownInTaskbar bool           `mapstructure:"shownInTaskbar" json:"shownInTaskbar"`
	Focused        bool           `mapstructure:"focused" json:"focused"`
	Resizable      bool           `mapstructure:"resizable" json:"resizable"`
	Transparent    bool           `mapstructure:"transparent" json:"transparent"`
	Placements     []Placement    `mapstructure:"placements" json:"placements"`
	Settings       map[string]any `mapstructure:"settings" json:"settings,omitempty"`
}

// DefaultWidgetConfig returns a WidgetConfig with default values.
func DefaultWidgetConfig() *WidgetConfig {
	return &WidgetConfig{
		ZOrder:      ZOrderNormal,
		Transparent: true,
	}
}

// Validate checks if the widget config is valid.
func (w *WidgetConfig) Validate() error {
	if strings.TrimSpace(w.HTMLPath) == "" {
		return fmt.Errorf("htmlPath is required")
	}
	if !slices.Contains(ValidZOrders(), w.ZOrder) {
		return fmt.Errorf("invalid zOrder %q, must be one of: %v", w.ZOrder, ValidZOrders())
	}
	for i, p := range w.Placements {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("placement %d: %w", i, err)
		}
	}
	return nil
}

// ResolvedHTMLPath returns HTMLPath made absolute against the directory of
// the widget file. A leading ~/ expands to the home directory.
func (w *WidgetConfig) ResolvedHTMLPath() string {
	p := expandPath(w.HTMLPath)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(filepath.Dir(w.Path), p)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// TraySettings controls the tray icon.
type TraySettings struct {
	Hidden      bool `mapstructure:"hidden" json:"hidden"`
	ShowWidgets bool `mapstructure:"showWidgets" json:"showWidgets"`
}

// Settings is the global settings file.
type Settings struct {
	// StartupConfigs lists extra widget files, relative to the config
	// directory, opened by the startup command.
	StartupConfigs []string       `mapstructure:"startupConfigs" json:"startupConfigs"`
	Tray           TraySettings   `mapstructure:"tray" json:"tray"`
	Extra          map[string]any `mapstructure:",remain" json:"-"`
}

// DefaultSettings returns Settings with default values.
func DefaultSettings() *Settings {
	return &Settings{
		Tray: TraySettings{ShowWidgets: true},
	}
}

// Validate checks if the settings are valid.
func (s *Settings) Validate() error {
	for _, p := range s.StartupConfigs {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("startupConfigs contains an empty path")
		}
	}
	return nil
}
