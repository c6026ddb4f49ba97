package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/perch/internal/host"
)

// Watch streams changes under the config directory from w until ctx is done.
// Events are debounced; each settled burst reloads the parts it touched and
// emits SettingsChanged or WidgetConfigsChanged when their contents changed.
func (c *Config) Watch(ctx context.Context, w host.DirectoryWatcher) error {
	events, err := w.WatchDirectory(ctx, c.dir)
	if err != nil {
		return &Error{Path: c.dir, Err: fmt.Errorf("watch: %w", err)}
	}

	c.logger.Debug("config watcher started", "dir", c.dir, "debounce", c.debounce)

	var (
		settingsDirty bool
		widgetsDirty  bool
		timer         *time.Timer
		fire          <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("config watcher stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			switch c.Classify(ev.Path) {
			case KindSettings:
				settingsDirty = true
			case KindWidgetConfig:
				widgetsDirty = true
			default:
				continue
			}
			c.logger.Debug("config file event", "path", ev.Path, "op", ev.Op)

			if timer == nil {
				timer = time.NewTimer(c.debounce)
			} else {
				timer.Reset(c.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			c.flush(settingsDirty, widgetsDirty)
			settingsDirty, widgetsDirty = false, false
		}
	}
}

func (c *Config) flush(settingsDirty, widgetsDirty bool) {
	if settingsDirty {
		changed, err := c.ReloadSettings()
		switch {
		case err != nil:
			c.logger.Warn("failed to reload settings, keeping previous", "error", err)
		case changed:
			c.logger.Info("settings changed")
			c.SettingsChanged.Emit(struct{}{})
		}
	}

	if widgetsDirty {
		if c.ReloadWidgetConfigs() {
			c.logger.Info("widget configs changed", "count", len(c.WidgetConfigs()))
			c.WidgetConfigsChanged.Emit(struct{}{})
		}
	}
}

// Reload re-reads the settings and every widget file, emitting on the
// matching signal for whatever changed.
func (c *Config) Reload() {
	c.flush(true, true)
}
