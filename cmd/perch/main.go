// Package main is the entry point for perch, the desktop widget runtime.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/jmylchreest/perch/internal/app"
	"github.com/jmylchreest/perch/internal/cli"
	"github.com/jmylchreest/perch/internal/dbus"
	"github.com/jmylchreest/perch/internal/host/fswatch"
	"github.com/jmylchreest/perch/internal/host/gtkhost"
	"github.com/jmylchreest/perch/internal/logging"
	"github.com/jmylchreest/perch/internal/monitor"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logging.Setup()

	args := os.Args[1:]
	cmd, err := cli.Parse(args, os.Stdout)
	if errors.Is(err, cli.ErrHelpRequested) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	if cmd.Kind == cli.KindQueryMonitors {
		if err := queryMonitors(logger); err != nil {
			logger.Error("failed to query monitors", "error", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := dbus.Connect(logger)
	if err != nil {
		logger.Error("failed to connect to session bus", "error", err)
		return 1
	}
	defer func() { _ = svc.Close() }()

	primary, err := svc.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire single-instance name", "error", err)
		return 1
	}
	if !primary {
		logger.Info("perch already running, forwarding command", "command", cmd.Kind)
		if err := svc.Forward(ctx, args); err != nil {
			logger.Error("failed to forward command", "error", err)
			return 1
		}
		return 0
	}

	return serve(ctx, cmd, svc, logger)
}

// serve runs the primary instance until it is quit or signalled.
func serve(ctx context.Context, cmd cli.Command, svc *dbus.Service, logger *slog.Logger) int {
	logger.Info("starting perch", "version", cli.Version, "command", cmd.Kind)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gh := gtkhost.New(logger)

	var current atomic.Pointer[app.App]
	trayHost := dbus.NewTray(svc.Conn(), "perch", "perch", func(id string) {
		if a := current.Load(); a != nil {
			a.HandleTrayAction(id)
		}
	}, logger)
	defer func() { _ = trayHost.Close() }()

	var failed atomic.Bool
	status := gh.Run([]string{os.Args[0]}, func() {
		defer gh.Quit()

		a, err := app.New(ctx, cmd, app.Host{
			UI:       gh,
			Windows:  gh,
			Displays: gh,
			Tray:     trayHost,
			Watcher:  fswatch.New(logger),
		}, svc, app.Options{
			Logger:      logger,
			Emitter:     svc,
			AllowAssets: gh.ExportAssetRoot,
			ShowDir: func(ctx context.Context, dir string) error {
				return dbus.ShowFolder(ctx, svc.Conn(), dir)
			},
			Quit: cancel,
		})
		if err != nil {
			logger.Error("failed to start perch", "error", err)
			failed.Store(true)
			return
		}

		current.Store(a)
		svc.SetIPC(a)
		gh.OnWindowClosed(a.WindowClosed)
		gh.OnMonitorsChanged(a.RefreshMonitors)
		if err := trayHost.Start(); err != nil {
			logger.Warn("tray unavailable", "error", err)
		}

		if err := a.Run(ctx); err != nil {
			logger.Error("perch stopped with error", "error", err)
			failed.Store(true)
		}
	})

	if status != 0 {
		logger.Error("application exited with error", "status", status)
		return status
	}
	if failed.Load() {
		return 1
	}
	return 0
}

// queryMonitors prints the current monitors as JSON. It needs a display but
// neither the main loop nor the single-instance name.
func queryMonitors(logger *slog.Logger) error {
	if err := gtkhost.InitDisplay(); err != nil {
		return err
	}
	state, err := monitor.New(gtkhost.Direct{}, logger)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}
