// Package dispatch runs the single reconciliation loop. It turns change
// signals into actions that re-derive state from the authoritative sources,
// so a missed or duplicated signal only costs an extra pass.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/perch/internal/event"
)

// Action is a reconciliation step.
type Action string

const (
	// ActionRefreshTray rebuilds the tray menu.
	ActionRefreshTray Action = "refresh-tray"
	// ActionRelaunch tears down and recreates every widget.
	ActionRelaunch Action = "relaunch-all"
)

// Error is a failed reconciliation action.
type Error struct {
	Action Action
	Signal string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s after %s: %v", e.Action, e.Signal, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Tray is the tray refresh target.
type Tray interface {
	Refresh(ctx context.Context) error
}

// Relauncher is the widget relaunch target.
type Relauncher interface {
	RelaunchAll(ctx context.Context) error
}

// Signals are the change signals the dispatcher subscribes to.
type Signals struct {
	WidgetOpened         *event.Signal[string]
	WidgetClosed         *event.Signal[string]
	SettingsChanged      *event.Signal[struct{}]
	MonitorsChanged      *event.Signal[struct{}]
	WidgetConfigsChanged *event.Signal[struct{}]
}

// Dispatcher maps change signals to reconciliation actions.
type Dispatcher struct {
	sources []source
	tray    Tray
	widgets Relauncher
	logger  *slog.Logger

	// OnError, if set, is called with every failed action after it is logged.
	OnError func(err *Error)
}

// New creates a Dispatcher and subscribes it to every non-nil signal, so
// emits that happen before Run are delivered once it starts.
func New(signals Signals, tray Tray, widgets Relauncher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		tray:    tray,
		widgets: widgets,
		logger:  logger,
	}
	if s := signals.WidgetOpened; s != nil {
		d.sources = append(d.sources, subscribe(s, ActionRefreshTray))
	}
	if s := signals.WidgetClosed; s != nil {
		d.sources = append(d.sources, subscribe(s, ActionRefreshTray))
	}
	if s := signals.SettingsChanged; s != nil {
		d.sources = append(d.sources, subscribe(s, ActionRefreshTray))
	}
	if s := signals.MonitorsChanged; s != nil {
		d.sources = append(d.sources, subscribe(s, ActionRelaunch))
	}
	if s := signals.WidgetConfigsChanged; s != nil {
		d.sources = append(d.sources, subscribe(s, ActionRelaunch))
	}
	return d
}

type source struct {
	name   string
	action Action
	// wakeups forwards the subscription into a channel it returns.
	wakeups func(ctx context.Context) <-chan struct{}
	stop    func()
}

func subscribe[T any](s *event.Signal[T], action Action) source {
	ch, stop := s.Subscribe()
	return source{
		name:    s.Name(),
		action:  action,
		wakeups: func(ctx context.Context) <-chan struct{} { return wakeups(ctx, ch) },
		stop:    stop,
	}
}

// Run loops until ctx is done and then drops the subscriptions taken by New.
// It must be called at most once. Action failures are logged and never end
// the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer d.Close()

	merged := make(chan int, len(d.sources))
	for i, src := range d.sources {
		wake := src.wakeups(ctx)
		go func() {
			for range wake {
				select {
				case merged <- i:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	d.logger.Debug("dispatcher started", "signals", len(d.sources))
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("dispatcher stopped")
			return nil
		case i := <-merged:
			d.perform(ctx, d.sources[i])
		}
	}
}

// Close drops the signal subscriptions. Run calls it on return; it is only
// needed for a Dispatcher that is never run.
func (d *Dispatcher) Close() {
	for _, src := range d.sources {
		src.stop()
	}
}

// wakeups forwards ch into a channel with a single slot, so any number of
// emits that arrive while an action runs collapse into one pending wake-up.
func wakeups[T any](ctx context.Context, ch <-chan T) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

func (d *Dispatcher) perform(ctx context.Context, src source) {
	var err error
	switch src.action {
	case ActionRefreshTray:
		err = d.tray.Refresh(ctx)
	case ActionRelaunch:
		err = d.widgets.RelaunchAll(ctx)
	}
	if err == nil {
		d.logger.Debug("reconciled", "signal", src.name, "action", src.action)
		return
	}
	if ctx.Err() != nil {
		return
	}

	derr := &Error{Action: src.action, Signal: src.name, Err: err}
	d.logger.Error("reconciliation failed", "signal", src.name, "action", src.action, "error", err)
	if d.OnError != nil {
		d.OnError(derr)
	}
}
