// Package config loads the perch configuration directory: one global
// settings file and any number of widget definition files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/perch/internal/event"
)

const (
	appDirName = "perch"

	// SettingsBaseName is the settings file name without extension.
	SettingsBaseName = "settings"

	// DefaultDebounce is how long Watch waits for a burst of file events to
	// settle before reloading.
	DefaultDebounce = 150 * time.Millisecond
)

// Kind classifies a path inside the config directory.
type Kind int

const (
	KindIgnored Kind = iota
	KindSettings
	KindWidgetConfig
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSettings:
		return "settings"
	case KindWidgetConfig:
		return "widget-config"
	default:
		return "ignored"
	}
}

// Options configures a Config.
type Options struct {
	Logger   *slog.Logger
	Debounce time.Duration
}

// Config owns the configuration directory and its current contents.
// WidgetConfig and Settings values handed out are immutable snapshots; a
// reload replaces them rather than mutating them.
type Config struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	dir      string
	debounce time.Duration

	settingsPath string
	settings     *Settings
	widgets      map[string]*WidgetConfig

	// SettingsChanged fires after the settings file was reloaded with new
	// contents. Wake-up only: read Settings for the current value.
	SettingsChanged *event.Signal[struct{}]
	// WidgetConfigsChanged fires after the set of widget definitions changed.
	// Wake-up only: read WidgetConfigs for the current value.
	WidgetConfigsChanged *event.Signal[struct{}]
}

// DefaultDir returns the platform config directory for perch.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config dir: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

// New loads the config directory. An empty dir uses DefaultDir. A missing
// directory or malformed settings file is an error; malformed widget files
// are logged and skipped.
func New(dir string, opts Options) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, &Error{Path: dir, Err: err}
		}
	}
	abs, err := filepath.Abs(expandPath(dir))
	if err != nil {
		return nil, &Error{Path: dir, Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Path: abs, Err: fmt.Errorf("%w: directory does not exist", ErrNotFound)}
		}
		return nil, &Error{Path: abs, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Path: abs, Err: fmt.Errorf("%w: not a directory", ErrNotFound)}
	}

	c := &Config{
		logger:               logger,
		dir:                  abs,
		debounce:             debounce,
		SettingsChanged:      event.NewSignal[struct{}]("settings-changed", 0),
		WidgetConfigsChanged: event.NewSignal[struct{}]("widget-configs-changed", 0),
	}

	settingsPath, settings, err := c.readSettings()
	if err != nil {
		return nil, err
	}
	c.settingsPath = settingsPath
	c.settings = settings
	c.widgets = c.readWidgets()

	logger.Info("config loaded", "dir", abs, "widgets", len(c.widgets), "settings", settingsPath)
	return c, nil
}

// Dir returns the absolute config directory.
func (c *Config) Dir() string {
	return c.dir
}

// JoinConfigDir resolves p against the config directory. Absolute paths are
// only cleaned.
func (c *Config) JoinConfigDir(p string) string {
	p = expandPath(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.dir, p)
}

// Settings returns the current settings snapshot.
func (c *Config) Settings() *Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// WidgetConfigs returns every loaded widget config ordered by path.
func (c *Config) WidgetConfigs() []*WidgetConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*WidgetConfig, 0, len(c.widgets))
	for _, wc := range c.widgets {
		out = append(out, wc)
	}
	slices.SortFunc(out, func(a, b *WidgetConfig) int {
		return strings.Compare(a.Path, b.Path)
	})
	return out
}

// WidgetConfigByPath returns the widget config loaded from path. Relative
// paths are resolved against the config directory.
func (c *Config) WidgetConfigByPath(path string) (*WidgetConfig, error) {
	abs := c.JoinConfigDir(path)

	c.mu.RLock()
	wc, ok := c.widgets[abs]
	c.mu.RUnlock()
	if ok {
		return wc, nil
	}

	// Not loaded: report why, so a broken file is not reported as missing.
	if _, err := loadWidgetFile(abs); err != nil {
		return nil, err
	}
	return nil, &Error{Path: abs, Err: fmt.Errorf("%w: not a widget config in %s", ErrNotFound, c.dir)}
}

// StartupWidgetConfigs returns the configs flagged autostart followed by the
// settings' startupConfigs entries. Broken entries are logged and skipped.
func (c *Config) StartupWidgetConfigs() []*WidgetConfig {
	var out []*WidgetConfig
	seen := make(map[string]bool)

	for _, wc := range c.WidgetConfigs() {
		if wc.Autostart {
			out = append(out, wc)
			seen[wc.Path] = true
		}
	}

	for _, p := range c.Settings().StartupConfigs {
		wc, err := c.WidgetConfigByPath(p)
		if err != nil {
			c.logger.Warn("skipping startup config", "path", p, "error", err)
			continue
		}
		if seen[wc.Path] {
			continue
		}
		seen[wc.Path] = true
		out = append(out, wc)
	}
	return out
}

// Classify reports whether path is the settings file, a widget config or
// neither.
func (c *Config) Classify(path string) Kind {
	abs := c.JoinConfigDir(path)
	rel, err := filepath.Rel(c.dir, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return KindIgnored
	}
	if skipPath(rel) {
		return KindIgnored
	}

	if _, ok := FormatOf(abs); ok {
		if isSettingsFile(c.dir, abs) {
			return KindSettings
		}
		return KindWidgetConfig
	}

	// A removed or renamed directory may have held widget configs.
	prefix := abs + string(filepath.Separator)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p := range c.widgets {
		if strings.HasPrefix(p, prefix) {
			return KindWidgetConfig
		}
	}
	return KindIgnored
}

// ReloadSettings re-reads the settings file and reports whether the settings
// changed. A malformed file keeps the previous settings.
func (c *Config) ReloadSettings() (bool, error) {
	path, settings, err := c.readSettings()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	changed := path != c.settingsPath || !reflect.DeepEqual(settings, c.settings)
	c.settingsPath = path
	c.settings = settings
	c.mu.Unlock()

	return changed, nil
}

// ReloadWidgetConfigs re-reads every widget file and reports whether the
// set changed.
func (c *Config) ReloadWidgetConfigs() bool {
	widgets := c.readWidgets()

	c.mu.Lock()
	changed := !reflect.DeepEqual(widgets, c.widgets)
	c.widgets = widgets
	c.mu.Unlock()

	return changed
}

func (c *Config) readSettings() (string, *Settings, error) {
	for _, ext := range []string{".json", ".toml", ".yaml", ".yml"} {
		path := filepath.Join(c.dir, SettingsBaseName+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := loadSettingsFile(path)
		if err != nil {
			return "", nil, err
		}
		return path, s, nil
	}

	c.logger.Debug("no settings file, using defaults", "dir", c.dir)
	return "", DefaultSettings(), nil
}

func (c *Config) readWidgets() map[string]*WidgetConfig {
	widgets := make(map[string]*WidgetConfig)

	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("failed to read config path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != c.dir {
				return fs.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(c.dir, path)
		if d.IsDir() {
			if path != c.dir && skipPath(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if _, ok := FormatOf(path); !ok || isSettingsFile(c.dir, path) || skipPath(rel) {
			return nil
		}

		wc, err := loadWidgetFile(path)
		if err != nil {
			c.logger.Warn("skipping widget config", "path", path, "error", err)
			return nil
		}
		widgets[path] = wc
		return nil
	})
	if err != nil {
		c.logger.Warn("failed to walk config dir", "dir", c.dir, "error", err)
	}

	return widgets
}

func isSettingsFile(dir, path string) bool {
	if filepath.Dir(path) != dir {
		return false
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) == SettingsBaseName
}

// skipPath reports whether a relative path lies in a hidden directory or a
// dependency tree bundled with a widget.
func skipPath(rel string) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "node_modules" || (strings.HasPrefix(part, ".") && part != "." && part != "..") {
			return true
		}
	}
	return false
}
