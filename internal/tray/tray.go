// Package tray derives the tray menu from the loaded widget configs and the
// open widgets, and handles clicks on it.
package tray

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/host"
)

// Menu entry ids.
const (
	ActionOpenConfigDir = "open-config-dir"
	ActionReloadConfigs = "reload-configs"
	ActionRelaunch      = "relaunch"
	ActionQuit          = "quit"

	togglePrefix = "toggle:"
)

// ErrUnknownAction is returned by HandleAction for ids the menu never emits.
var ErrUnknownAction = errors.New("unknown tray action")

// ToggleID returns the menu entry id toggling the widget config at path.
func ToggleID(path string) string {
	return togglePrefix + path
}

// Configs is the config state the tray reads.
type Configs interface {
	Settings() *config.Settings
	WidgetConfigs() []*config.WidgetConfig
	Dir() string
	Reload()
}

// Widgets is the widget registry the tray reads and drives.
type Widgets interface {
	OpenConfigPaths() map[string]bool
	CloseByPath(ctx context.Context, path string) error
	RelaunchAll(ctx context.Context) error
}

// Actions are the side effects the tray triggers outside the registry.
type Actions struct {
	// Open opens the widget config at path through the shared open path.
	Open func(ctx context.Context, path string) error
	// ShowDir reveals a directory in the file manager.
	ShowDir func(ctx context.Context, dir string) error
	// Quit stops the application.
	Quit func()
}

// BuildMenu returns the tray menu for the given state. A hidden tray has no
// entries.
func BuildMenu(settings *config.Settings, configs []*config.WidgetConfig, open map[string]bool) []host.MenuEntry {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if settings.Tray.Hidden {
		return []host.MenuEntry{}
	}

	var entries []host.MenuEntry
	if settings.Tray.ShowWidgets {
		children := lo.Map(configs, func(wc *config.WidgetConfig, _ int) host.MenuEntry {
			return host.MenuEntry{
				ID:      ToggleID(wc.Path),
				Label:   wc.Name,
				Kind:    host.MenuToggle,
				Checked: open[wc.Path],
			}
		})
		widgets := host.MenuEntry{
			ID:       "widgets",
			Label:    fmt.Sprintf("Widgets (%d open)", lo.CountBy(configs, func(wc *config.WidgetConfig) bool { return open[wc.Path] })),
			Kind:     host.MenuSubmenu,
			Children: children,
			Disabled: len(children) == 0,
		}
		entries = append(entries, widgets, host.MenuEntry{ID: "sep-widgets", Kind: host.MenuSeparator})
	}

	entries = append(entries,
		host.MenuEntry{ID: ActionOpenConfigDir, Label: "Open config folder"},
		host.MenuEntry{ID: ActionReloadConfigs, Label: "Reload configs"},
		host.MenuEntry{ID: ActionRelaunch, Label: "Relaunch widgets"},
		host.MenuEntry{ID: "sep-quit", Kind: host.MenuSeparator},
		host.MenuEntry{ID: ActionQuit, Label: "Quit"},
	)
	return entries
}

// SysTray keeps the host tray menu in sync with the current state.
type SysTray struct {
	ui      host.UI
	tray    host.Tray
	configs Configs
	widgets Widgets
	actions Actions
	logger  *slog.Logger

	// applyMu serializes Refresh so an older menu never overwrites a newer
	// one. The UI thread never takes it.
	applyMu sync.Mutex
	last    []host.MenuEntry
	applied bool
}

// New creates a SysTray. Nothing is shown until Refresh.
func New(ui host.UI, tray host.Tray, configs Configs, widgets Widgets, actions Actions, logger *slog.Logger) *SysTray {
	if logger == nil {
		logger = slog.Default()
	}
	return &SysTray{
		ui:      ui,
		tray:    tray,
		configs: configs,
		widgets: widgets,
		actions: actions,
		logger:  logger,
	}
}

// Refresh recomputes the menu from current state and applies it on the UI
// thread. An unchanged menu is not reapplied.
func (t *SysTray) Refresh(ctx context.Context) error {
	t.applyMu.Lock()
	defer t.applyMu.Unlock()

	menu := BuildMenu(t.configs.Settings(), t.configs.WidgetConfigs(), t.widgets.OpenConfigPaths())
	if t.applied && reflect.DeepEqual(menu, t.last) {
		return nil
	}

	if err := host.Do(ctx, t.ui, func() error {
		return t.tray.SetTrayMenu(menu)
	}); err != nil {
		return fmt.Errorf("failed to set tray menu: %w", err)
	}

	t.last = menu
	t.applied = true
	t.logger.Debug("tray menu updated", "entries", len(menu))
	return nil
}

// Menu returns the last applied menu.
func (t *SysTray) Menu() []host.MenuEntry {
	t.applyMu.Lock()
	defer t.applyMu.Unlock()
	return t.last
}

// HandleAction performs the action behind a menu entry id.
func (t *SysTray) HandleAction(ctx context.Context, id string) error {
	t.logger.Debug("tray action", "id", id)

	if path, ok := strings.CutPrefix(id, togglePrefix); ok {
		if t.widgets.OpenConfigPaths()[path] {
			return t.widgets.CloseByPath(ctx, path)
		}
		if t.actions.Open == nil {
			return fmt.Errorf("cannot open %s: no opener", path)
		}
		return t.actions.Open(ctx, path)
	}

	switch id {
	case ActionOpenConfigDir:
		if t.actions.ShowDir == nil {
			return fmt.Errorf("cannot show config folder: no file manager")
		}
		return t.actions.ShowDir(ctx, t.configs.Dir())
	case ActionReloadConfigs:
		t.configs.Reload()
		return nil
	case ActionRelaunch:
		return t.widgets.RelaunchAll(ctx)
	case ActionQuit:
		if t.actions.Quit != nil {
			t.actions.Quit()
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, id)
}
