// Package app wires perch together: it constructs the components in order,
// executes the launch command and runs the long-lived loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/perch/internal/cli"
	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/dispatch"
	"github.com/jmylchreest/perch/internal/host"
	"github.com/jmylchreest/perch/internal/instance"
	"github.com/jmylchreest/perch/internal/monitor"
	"github.com/jmylchreest/perch/internal/provider"
	"github.com/jmylchreest/perch/internal/tray"
	"github.com/jmylchreest/perch/internal/widget"
)

// Host bundles the toolkit collaborators.
type Host struct {
	UI       host.UI
	Windows  host.Windows
	Displays host.Displays
	Tray     host.Tray
	Watcher  host.DirectoryWatcher
}

// Options configures an App.
type Options struct {
	Logger   *slog.Logger
	Debounce time.Duration
	Registry *provider.Registry
	Emitter  provider.Emitter

	// AllowAssets grants widget content access to the config directory.
	AllowAssets func(dir string) error
	// ShowDir reveals a directory in the file manager.
	ShowDir func(ctx context.Context, dir string) error
	// Quit stops the process. Called from the tray.
	Quit func()
}

// App is a running primary instance.
type App struct {
	ctx    context.Context
	logger *slog.Logger
	host   Host

	Config     *config.Config
	Monitors   *monitor.State
	Widgets    *widget.Factory
	Providers  *provider.Manager
	Tray       *tray.SysTray
	Dispatcher *dispatch.Dispatcher
}

// New constructs every component and executes cmd. gate must already be
// acquired; command lines forwarded to it are handled from here on. ctx
// bounds every operation the App performs, including forwarded commands.
func New(ctx context.Context, cmd cli.Command, h Host, gate instance.Gate, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{ctx: ctx, logger: logger, host: h}

	cfg, err := config.New(cmd.ConfigDir, config.Options{Logger: logger, Debounce: opts.Debounce})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	a.Config = cfg

	monitors, err := monitor.New(h.Displays, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate monitors: %w", err)
	}
	a.Monitors = monitors

	a.Widgets = widget.NewFactory(h.UI, h.Windows, cfg, monitors, logger)

	if gate != nil {
		gate.Serve(a.HandleForwarded)
	}

	if opts.AllowAssets != nil {
		if err := opts.AllowAssets(cfg.Dir()); err != nil {
			return nil, fmt.Errorf("failed to allow asset directory: %w", err)
		}
	}

	emitter := opts.Emitter
	if emitter == nil {
		emitter = provider.EmitterFunc(func(provider.Output) {})
	}
	a.Providers = provider.NewManager(opts.Registry, emitter, a.Widgets, logger)

	if err := a.OpenByCommand(ctx, cmd); err != nil {
		logger.Error("failed to open widgets", "command", cmd.Kind, "error", err)
	}

	a.Tray = tray.New(h.UI, h.Tray, cfg, a.Widgets, tray.Actions{
		Open:    a.OpenWidgetDefault,
		ShowDir: opts.ShowDir,
		Quit:    opts.Quit,
	}, logger)

	a.Dispatcher = dispatch.New(dispatch.Signals{
		WidgetOpened:         a.Widgets.Opened,
		WidgetClosed:         a.Widgets.Closed,
		SettingsChanged:      cfg.SettingsChanged,
		MonitorsChanged:      monitors.Changed,
		WidgetConfigsChanged: cfg.WidgetConfigsChanged,
	}, a.Tray, a.Widgets, logger)

	return a, nil
}

// Run renders the tray and runs the config watcher, the provider reconciler
// and the dispatcher until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Tray.Refresh(ctx); err != nil {
		a.logger.Warn("failed to render tray", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.host.Watcher != nil {
		g.Go(func() error {
			return a.Config.Watch(ctx, a.host.Watcher)
		})
	}
	g.Go(func() error {
		return a.Providers.Run(ctx, a.Widgets.Closed)
	})
	g.Go(func() error {
		return a.Dispatcher.Run(ctx)
	})

	a.logger.Info("perch running", "config", a.Config.Dir(), "widgets", len(a.Widgets.List()))
	err := g.Wait()
	a.logger.Info("perch stopped")
	return err
}

// OpenByCommand executes a launch command. Startup and empty commands open
// the startup widget set; open-widget-default opens one config. Failures of
// individual widgets do not stop the others.
func (a *App) OpenByCommand(ctx context.Context, cmd cli.Command) error {
	switch cmd.Kind {
	case cli.KindEmpty, cli.KindStartup:
		var errs []error
		configs := a.Config.StartupWidgetConfigs()
		for _, wc := range configs {
			if _, err := a.Widgets.Open(ctx, wc); err != nil {
				a.logger.Warn("failed to open startup widget", "config", wc.Path, "error", err)
				errs = append(errs, err)
			}
		}
		a.logger.Info("startup widgets opened", "configs", len(configs), "failed", len(errs))
		return errors.Join(errs...)

	case cli.KindOpenWidgetDefault:
		return a.OpenWidgetDefault(ctx, cmd.ConfigPath)

	default:
		a.logger.Debug("command opens no widgets", "command", cmd.Kind)
		return nil
	}
}

// HandleForwarded executes a command line forwarded by a secondary process.
// An empty command line only means another launch happened and is ignored.
func (a *App) HandleForwarded(args []string) {
	cmd, err := cli.Parse(args, io.Discard)
	if err != nil {
		a.logger.Warn("ignoring forwarded command line", "args", args, "error", err)
		return
	}
	a.logger.Info("received forwarded command", "command", cmd.Kind, "config", cmd.ConfigPath)

	if cmd.Kind == cli.KindEmpty || !cmd.OpensWidgets() {
		return
	}
	if err := a.OpenByCommand(a.ctx, cmd); err != nil {
		a.logger.Error("forwarded command failed", "command", cmd.Kind, "error", err)
	}
}

// HandleTrayAction performs a tray menu click. It must not be called on the
// UI thread.
func (a *App) HandleTrayAction(id string) {
	if err := a.Tray.HandleAction(a.ctx, id); err != nil {
		a.logger.Warn("tray action failed", "id", id, "error", err)
	}
}

// RefreshMonitors re-enumerates the displays after a hotplug. A changed
// topology relaunches every widget through the dispatcher.
func (a *App) RefreshMonitors() {
	changed, err := a.Monitors.Refresh()
	if err != nil {
		a.logger.Warn("failed to refresh monitors", "error", err)
		return
	}
	a.logger.Debug("monitors refreshed", "changed", changed)
}

// WindowClosed records a window the user or compositor closed.
func (a *App) WindowClosed(handle host.WindowHandle) {
	a.Widgets.WindowDestroyed(handle)
}
