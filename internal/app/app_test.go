package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/perch/internal/cli"
	"github.com/jmylchreest/perch/internal/host"
	"github.com/jmylchreest/perch/internal/host/hosttest"
	"github.com/jmylchreest/perch/internal/instance"
	"github.com/jmylchreest/perch/internal/provider"
	"github.com/jmylchreest/perch/internal/tray"
)

const barJSON = `{
  "htmlPath": "bar.html",
  "autostart": true,
  "zOrder": "top_most",
  "placements": [{"anchor": "top_left", "width": "100%", "height": "40px", "monitorSelection": {"type": "all"}}]
}`

const menuJSON = `{
  "htmlPath": "menu.html",
  "placements": [{"anchor": "center", "width": "300px", "height": "200px", "monitorSelection": {"type": "primary"}}]
}`

var (
	primaryMon   = host.MonitorInfo{Name: "DP-1", Width: 1920, Height: 1080, ScaleFactor: 1, Primary: true}
	secondaryMon = host.MonitorInfo{Name: "DP-2", X: 1920, Width: 1920, Height: 1080, ScaleFactor: 1}
)

type tick struct{ n atomic.Int64 }

func (p *tick) Interval() time.Duration { return 10 * time.Millisecond }

func (p *tick) Sample(context.Context) (any, error) {
	return map[string]int64{"n": p.n.Add(1)}, nil
}

type outputs struct {
	mu  sync.Mutex
	all []provider.Output
}

func (o *outputs) EmitProvider(out provider.Output) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, out)
}

func (o *outputs) count(widgetID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return lo.CountBy(o.all, func(out provider.Output) bool { return out.WidgetID == widgetID })
}

type fixture struct {
	ctx      context.Context
	dir      string
	ui       *hosttest.UI
	windows  *hosttest.Windows
	displays *hosttest.Displays
	tray     *hosttest.Tray
	watcher  *hosttest.Watcher
	bus      *instance.Bus
	outputs  *outputs
	quits    atomic.Int32
	app      *App
}

func newFixture(t *testing.T, cmd cli.Command) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		ctx:      ctx,
		dir:      t.TempDir(),
		displays: hosttest.NewDisplays(primaryMon),
		watcher:  hosttest.NewWatcher(),
		bus:      instance.NewBus(),
		outputs:  &outputs{},
	}
	f.ui = hosttest.NewUI(ctx)
	f.windows = hosttest.NewWindows(f.ui)
	f.tray = hosttest.NewTray(f.ui)
	f.write(t, "bar.json", barJSON)
	f.write(t, "menu.json", menuJSON)

	registry := provider.NewRegistry()
	require.NoError(t, registry.Register("tick", func(map[string]any) (provider.Provider, error) {
		return &tick{}, nil
	}))

	gate := f.bus.Gate()
	primary, err := gate.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, primary)

	cmd.ConfigDir = f.dir
	f.app, err = New(ctx, cmd, Host{
		UI:       f.ui,
		Windows:  f.windows,
		Displays: f.displays,
		Tray:     f.tray,
		Watcher:  f.watcher,
	}, gate, Options{
		Debounce: 10 * time.Millisecond,
		Registry: registry,
		Emitter:  f.outputs,
		Quit:     func() { f.quits.Add(1) },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	require.Eventually(t, func() bool { return f.watcher.Watching() == 1 }, time.Second, 5*time.Millisecond)
}

func (f *fixture) livePaths() []string {
	return lo.Map(f.windows.Live(), func(w hosttest.Window, _ int) string {
		return filepath.Base(w.Spec.ConfigPath)
	})
}

func TestNew_StartupOpensAutostartOnly(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})

	assert.Equal(t, []string{"bar.json"}, f.livePaths())
	assert.Len(t, f.app.Widgets.List(), 1)
	assert.Zero(t, f.windows.Violations())
}

func TestNew_EmptyCommandRunsStartup(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindEmpty})
	assert.Equal(t, []string{"bar.json"}, f.livePaths())
}

func TestNew_OpenWidgetDefault(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindOpenWidgetDefault, ConfigPath: "menu.json"})
	assert.Equal(t, []string{"menu.json"}, f.livePaths())
}

func TestNew_MissingConfigDir(t *testing.T) {
	ctx := context.Background()
	ui := hosttest.NewUI(ctx)
	_, err := New(ctx, cli.Command{Kind: cli.KindStartup, ConfigDir: filepath.Join(t.TempDir(), "absent")}, Host{
		UI:       ui,
		Windows:  hosttest.NewWindows(ui),
		Displays: hosttest.NewDisplays(primaryMon),
		Tray:     hosttest.NewTray(ui),
	}, nil, Options{})
	require.Error(t, err)
}

func TestOpenByCommand_MissingStartupEntryIsSkipped(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindOpenWidgetDefault, ConfigPath: "menu.json"})
	f.write(t, "settings.json", `{"startupConfigs": ["missing.json", "menu.json"]}`)
	f.app.Config.Reload()

	require.NoError(t, f.app.OpenByCommand(f.ctx, cli.Command{Kind: cli.KindStartup}))
	assert.ElementsMatch(t, []string{"menu.json", "bar.json", "menu.json"}, f.livePaths())
}

func TestForward_OpensExactlyOneWidget(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	require.Len(t, f.windows.Live(), 1)

	secondary := f.bus.Gate()
	primary, err := secondary.Acquire(f.ctx)
	require.NoError(t, err)
	require.False(t, primary)

	require.NoError(t, secondary.Forward(f.ctx, []string{"open-widget-default", "menu.json"}))

	assert.ElementsMatch(t, []string{"bar.json", "menu.json"}, f.livePaths())
}

func TestForward_EmptyAndInvalidAreIgnored(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	secondary := f.bus.Gate()

	require.NoError(t, secondary.Forward(f.ctx, []string{}))
	require.NoError(t, secondary.Forward(f.ctx, []string{"bogus"}))
	require.NoError(t, secondary.Forward(f.ctx, []string{"query", "monitors"}))

	created, _ := f.windows.Counts()
	assert.Equal(t, 1, created)
}

func TestForward_StartupOpensAgain(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	require.NoError(t, f.bus.Gate().Forward(f.ctx, []string{"startup"}))
	assert.Equal(t, []string{"bar.json", "bar.json"}, f.livePaths())
}

func TestRun_EditingWidgetConfigRelaunches(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	f.run(t)
	gen := f.app.Widgets.Generation()

	edited := `{
  "htmlPath": "bar.html",
  "autostart": true,
  "zOrder": "bottom_most",
  "placements": [{"anchor": "top_left", "width": "100%", "height": "40px", "monitorSelection": {"type": "all"}}]
}`
	path := f.write(t, "bar.json", edited)
	f.watcher.Send(host.FileEvent{Path: path, Op: host.FileWritten})

	require.Eventually(t, func() bool {
		live := f.windows.Live()
		return f.app.Widgets.Generation() > gen && len(live) == 1 && live[0].Spec.AlwaysBelow
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.windows.Violations())
}

func TestRun_ConfigChangeBeforeRunIsNotLost(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	gen := f.app.Widgets.Generation()

	f.write(t, "bar.json", `{
  "htmlPath": "bar.html",
  "autostart": true,
  "zOrder": "bottom_most",
  "placements": [{"anchor": "top_left", "width": "100%", "height": "40px", "monitorSelection": {"type": "all"}}]
}`)
	require.True(t, f.app.Config.ReloadWidgetConfigs())
	f.app.Config.WidgetConfigsChanged.Emit(struct{}{})

	f.run(t)
	require.Eventually(t, func() bool {
		live := f.windows.Live()
		return f.app.Widgets.Generation() > gen && len(live) == 1 && live[0].Spec.AlwaysBelow
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_MonitorHotplugRelaunches(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	f.run(t)
	require.Len(t, f.windows.Live(), 1)

	f.displays.Set(primaryMon, secondaryMon)
	f.app.RefreshMonitors()

	require.Eventually(t, func() bool {
		return len(f.windows.Live()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_TrayFollowsRegistry(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	f.run(t)

	require.Eventually(t, func() bool {
		menu := f.tray.Last()
		return len(menu) > 0 && menu[0].Label == "Widgets (1 open)"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.app.OpenWidgetDefault(f.ctx, "menu.json"))
	require.Eventually(t, func() bool {
		menu := f.tray.Last()
		return len(menu) > 0 && menu[0].Label == "Widgets (2 open)"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.tray.OffUICalls())
}

func TestRun_TrayToggleClosesWidget(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	f.run(t)

	bar := filepath.Join(f.dir, "bar.json")
	f.app.HandleTrayAction(tray.ToggleID(bar))
	assert.Empty(t, f.windows.Live())

	f.app.HandleTrayAction(tray.ToggleID(bar))
	assert.Equal(t, []string{"bar.json"}, f.livePaths())

	f.app.HandleTrayAction(tray.ActionQuit)
	assert.EqualValues(t, 1, f.quits.Load())
}

func TestProviders_UnlistenStopsUpdates(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	f.run(t)
	id := f.app.Widgets.List()[0].ID

	_, err := f.app.ListenProvider(id, "tick", map[string]any{"refreshInterval": 10})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.outputs.count(id) >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.app.UnlistenProvider(id, "tick"))
	settled := f.outputs.count(id)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, f.outputs.count(id))
}

func TestProviders_ClosingWidgetDropsSubscriptions(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	f.run(t)
	id := f.app.Widgets.List()[0].ID

	_, err := f.app.ListenProvider(id, "tick", nil)
	require.NoError(t, err)
	require.Len(t, f.app.Providers.Subscriptions(), 1)

	require.NoError(t, f.app.Widgets.Close(f.ctx, id))
	require.Eventually(t, func() bool {
		return len(f.app.Providers.Subscriptions()) == 0
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.app.ListenProvider(id, "tick", nil)
	assert.ErrorIs(t, err, provider.ErrUnknownWidget)
}

func TestIPC_WindowFlags(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	w := f.app.Widgets.List()[0]

	require.NoError(t, f.app.SetAlwaysOnTop(f.ctx, w.ID, false))
	require.NoError(t, f.app.SetSkipTaskbar(f.ctx, w.ID, false))

	got, ok := f.windows.Get(w.Handle)
	require.True(t, ok)
	assert.False(t, got.AlwaysOnTop)
	assert.False(t, got.SkipTaskbar)

	assert.Error(t, f.app.SetAlwaysOnTop(f.ctx, "missing", true))
}

func TestWindowClosed_RemovesWidget(t *testing.T) {
	f := newFixture(t, cli.Command{Kind: cli.KindStartup})
	w := f.app.Widgets.List()[0]

	f.app.WindowClosed(w.Handle)
	assert.False(t, f.app.Widgets.IsOpen(w.ID))
}
