package tray

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/host"
	"github.com/jmylchreest/perch/internal/host/hosttest"
)

type fakeConfigs struct {
	settings *config.Settings
	widgets  []*config.WidgetConfig
	reloads  int
}

func (f *fakeConfigs) Settings() *config.Settings            { return f.settings }
func (f *fakeConfigs) WidgetConfigs() []*config.WidgetConfig { return f.widgets }
func (f *fakeConfigs) Dir() string                           { return "/home/user/.config/perch" }
func (f *fakeConfigs) Reload()                               { f.reloads++ }

type fakeWidgets struct {
	mu        sync.Mutex
	open      map[string]bool
	closed    []string
	relaunchs int
}

func (f *fakeWidgets) OpenConfigPaths() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.open))
	for k, v := range f.open {
		out[k] = v
	}
	return out
}

func (f *fakeWidgets) CloseByPath(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, path)
	f.closed = append(f.closed, path)
	return nil
}

func (f *fakeWidgets) RelaunchAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relaunchs++
	return nil
}

func widgetConfigs() []*config.WidgetConfig {
	return []*config.WidgetConfig{
		{Path: "/cfg/bar.json", Name: "bar"},
		{Path: "/cfg/menu.json", Name: "menu"},
	}
}

func TestBuildMenu(t *testing.T) {
	open := map[string]bool{"/cfg/bar.json": true}
	menu := BuildMenu(config.DefaultSettings(), widgetConfigs(), open)

	require.Len(t, menu, 7)
	widgets := menu[0]
	assert.Equal(t, host.MenuSubmenu, widgets.Kind)
	assert.Equal(t, "Widgets (1 open)", widgets.Label)
	require.Len(t, widgets.Children, 2)
	assert.Equal(t, ToggleID("/cfg/bar.json"), widgets.Children[0].ID)
	assert.True(t, widgets.Children[0].Checked)
	assert.False(t, widgets.Children[1].Checked)

	assert.Equal(t, ActionQuit, menu[len(menu)-1].ID)
}

func TestBuildMenu_Settings(t *testing.T) {
	tests := []struct {
		name     string
		settings *config.Settings
		wantLen  int
	}{
		{"nil settings use defaults", nil, 7},
		{"hidden", &config.Settings{Tray: config.TraySettings{Hidden: true}}, 0},
		{"widgets not shown", &config.Settings{Tray: config.TraySettings{ShowWidgets: false}}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			menu := BuildMenu(tt.settings, widgetConfigs(), nil)
			assert.Len(t, menu, tt.wantLen)
		})
	}
}

func TestBuildMenu_NoWidgetConfigs(t *testing.T) {
	menu := BuildMenu(config.DefaultSettings(), nil, nil)
	assert.True(t, menu[0].Disabled)
	assert.Empty(t, menu[0].Children)
}

func newTestTray(t *testing.T) (*SysTray, *hosttest.Tray, *fakeConfigs, *fakeWidgets) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ui := hosttest.NewUI(ctx)
	ht := hosttest.NewTray(ui)
	cfgs := &fakeConfigs{settings: config.DefaultSettings(), widgets: widgetConfigs()}
	widgets := &fakeWidgets{open: map[string]bool{}}
	return New(ui, ht, cfgs, widgets, Actions{}, nil), ht, cfgs, widgets
}

func TestRefresh_IsIdempotent(t *testing.T) {
	st, ht, _, widgets := newTestTray(t)
	ctx := context.Background()

	require.NoError(t, st.Refresh(ctx))
	require.NoError(t, st.Refresh(ctx))
	assert.Len(t, ht.Menus(), 1)
	assert.Zero(t, ht.OffUICalls())

	widgets.open["/cfg/menu.json"] = true
	require.NoError(t, st.Refresh(ctx))
	require.Len(t, ht.Menus(), 2)
	assert.True(t, ht.Last()[0].Children[1].Checked)
	assert.Equal(t, ht.Last(), st.Menu())
}

func TestRefresh_FailureIsRetried(t *testing.T) {
	st, ht, _, _ := newTestTray(t)
	ctx := context.Background()

	ht.Fail(errors.New("no tray host"))
	require.Error(t, st.Refresh(ctx))

	ht.Fail(nil)
	require.NoError(t, st.Refresh(ctx))
	assert.Len(t, ht.Menus(), 1)
}

func TestHandleAction(t *testing.T) {
	st, _, cfgs, widgets := newTestTray(t)
	ctx := context.Background()

	var opened, shown []string
	quit := 0
	st.actions = Actions{
		Open: func(_ context.Context, path string) error {
			opened = append(opened, path)
			return nil
		},
		ShowDir: func(_ context.Context, dir string) error {
			shown = append(shown, dir)
			return nil
		},
		Quit: func() { quit++ },
	}

	require.NoError(t, st.HandleAction(ctx, ToggleID("/cfg/bar.json")))
	assert.Equal(t, []string{"/cfg/bar.json"}, opened)

	widgets.open["/cfg/bar.json"] = true
	require.NoError(t, st.HandleAction(ctx, ToggleID("/cfg/bar.json")))
	assert.Equal(t, []string{"/cfg/bar.json"}, widgets.closed)

	require.NoError(t, st.HandleAction(ctx, ActionOpenConfigDir))
	assert.Equal(t, []string{cfgs.Dir()}, shown)

	require.NoError(t, st.HandleAction(ctx, ActionReloadConfigs))
	assert.Equal(t, 1, cfgs.reloads)

	require.NoError(t, st.HandleAction(ctx, ActionRelaunch))
	assert.Equal(t, 1, widgets.relaunchs)

	require.NoError(t, st.HandleAction(ctx, ActionQuit))
	assert.Equal(t, 1, quit)

	err := st.HandleAction(ctx, "bogus")
	assert.ErrorIs(t, err, ErrUnknownAction)
}
