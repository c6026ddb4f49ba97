package monitor

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/host"
	"github.com/jmylchreest/perch/internal/host/hosttest"
)

var (
	left  = host.MonitorInfo{Name: "DP-1", X: 0, Y: 0, Width: 1920, Height: 1080, ScaleFactor: 1, Primary: true}
	right = host.MonitorInfo{Name: "HDMI-A-1", X: 1920, Y: 0, Width: 2560, Height: 1440, ScaleFactor: 2}
)

func TestNew_OrdersAndNormalizes(t *testing.T) {
	d := hosttest.NewDisplays(right, host.MonitorInfo{Name: "eDP-1", X: 0, Y: 1080, Width: 1280, Height: 800}, left)

	s, err := New(d, nil)
	require.NoError(t, err)

	monitors := s.Monitors()
	require.Len(t, monitors, 3)
	assert.Equal(t, "DP-1", monitors[0].ID)
	assert.Equal(t, "eDP-1", monitors[1].ID)
	assert.Equal(t, "HDMI-A-1", monitors[2].ID)
	assert.Equal(t, 1.0, monitors[1].ScaleFactor, "missing scale defaults to 1")

	primary, ok := s.Primary()
	require.True(t, ok)
	assert.Equal(t, "DP-1", primary.Name)
}

func TestNew_FirstMonitorBecomesPrimary(t *testing.T) {
	s, err := New(hosttest.NewDisplays(right, host.MonitorInfo{X: -1920, Width: 1920, Height: 1080}), nil)
	require.NoError(t, err)

	monitors := s.Monitors()
	require.Len(t, monitors, 2)
	assert.True(t, monitors[0].Primary)
	assert.Equal(t, "monitor-0", monitors[0].ID)
	assert.False(t, monitors[1].Primary)
}

func TestNew_EnumerationError(t *testing.T) {
	d := hosttest.NewDisplays()
	d.SetError(errors.New("no display"))

	_, err := New(d, nil)
	assert.Error(t, err)
}

func TestRefresh_SignalsOnlyOnDiff(t *testing.T) {
	d := hosttest.NewDisplays(left)
	s, err := New(d, nil)
	require.NoError(t, err)

	ch, stop := s.Changed.Subscribe()
	defer stop()

	changed, err := s.Refresh()
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Refresh()
	require.NoError(t, err)
	assert.False(t, changed)

	select {
	case <-ch:
		t.Fatal("identical snapshots must not signal")
	case <-time.After(20 * time.Millisecond):
	}

	d.Set(left, right)
	changed, err = s.Refresh()
	require.NoError(t, err)
	assert.True(t, changed)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected change signal")
	}

	// Rescale counts as a diff.
	rescaled := right
	rescaled.ScaleFactor = 1.5
	d.Set(left, rescaled)
	changed, err = s.Refresh()
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestMarshalJSON(t *testing.T) {
	s, err := New(hosttest.NewDisplays(left), nil)
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "DP-1", out[0]["name"])
	assert.Equal(t, true, out[0]["isPrimary"])
	assert.InDelta(t, 1920, out[0]["width"], 0)

	empty, err := New(hosttest.NewDisplays(), nil)
	require.NoError(t, err)
	data, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func widget(placements ...config.Placement) *config.WidgetConfig {
	wc := config.DefaultWidgetConfig()
	wc.Path = "/cfg/bar.json"
	wc.HTMLPath = "bar.html"
	wc.Placements = placements
	return wc
}

func TestResolve_Anchors(t *testing.T) {
	s, err := New(hosttest.NewDisplays(left, right), nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		p      config.Placement
		expect []host.Rect
	}{
		{
			name: "top bar on all monitors",
			p: config.Placement{
				Anchor: config.AnchorTopLeft, Width: config.Percent(100), Height: config.Pixels(40),
				MonitorSelection: config.MonitorSelection{Type: config.SelectAll},
			},
			expect: []host.Rect{
				{X: 0, Y: 0, Width: 1920, Height: 40},
				{X: 1920, Y: 0, Width: 2560, Height: 80},
			},
		},
		{
			name: "bottom right with offset on secondary",
			p: config.Placement{
				Anchor: config.AnchorBottomRight, OffsetX: config.Pixels(-10), OffsetY: config.Pixels(-10),
				Width: config.Pixels(100), Height: config.Pixels(50),
				MonitorSelection: config.MonitorSelection{Type: config.SelectSecondary},
			},
			expect: []host.Rect{
				{X: 1920 + 2560 - 200 - 20, Y: 1440 - 100 - 20, Width: 200, Height: 100},
			},
		},
		{
			name: "centered by index",
			p: config.Placement{
				Anchor: config.AnchorCenter, Width: config.Percent(50), Height: config.Percent(50),
				MonitorSelection: config.MonitorSelection{Type: config.SelectIndex, Match: "0"},
			},
			expect: []host.Rect{{X: 480, Y: 270, Width: 960, Height: 540}},
		},
		{
			name: "by name, percent offset",
			p: config.Placement{
				Anchor: config.AnchorTopCenter, OffsetY: config.Percent(10),
				Width: config.Pixels(200), Height: config.Pixels(20),
				MonitorSelection: config.MonitorSelection{Type: config.SelectName, Match: "hdmi-a-1"},
			},
			expect: []host.Rect{{X: 1920 + (2560-400)/2, Y: 144, Width: 400, Height: 40}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets, err := s.Resolve(widget(tt.p))
			require.NoError(t, err)
			require.Len(t, targets, len(tt.expect))
			for i, want := range tt.expect {
				assert.Equal(t, want, targets[i].Rect)
			}
		})
	}
}

func TestResolve_IsStable(t *testing.T) {
	s, err := New(hosttest.NewDisplays(right, left), nil)
	require.NoError(t, err)

	wc := widget(config.Placement{
		Anchor: config.AnchorTopLeft, Width: config.Percent(100), Height: config.Pixels(30),
		MonitorSelection: config.MonitorSelection{Type: config.SelectAll},
	})

	first, err := s.Resolve(wc)
	require.NoError(t, err)
	_, err = s.Refresh()
	require.NoError(t, err)
	second, err := s.Resolve(wc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolve_Errors(t *testing.T) {
	s, err := New(hosttest.NewDisplays(left), nil)
	require.NoError(t, err)

	noMatch := widget(config.Placement{
		Anchor: config.AnchorTopLeft, Width: config.Pixels(10), Height: config.Pixels(10),
		MonitorSelection: config.MonitorSelection{Type: config.SelectSecondary},
	})
	_, err = s.Resolve(noMatch)
	var perr *PlacementError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, -1, perr.Placement)
	assert.Equal(t, "/cfg/bar.json", perr.ConfigPath)

	zeroSize := widget(config.Placement{
		Anchor: config.AnchorTopLeft, Width: config.Pixels(0), Height: config.Pixels(10),
		MonitorSelection: config.MonitorSelection{Type: config.SelectAll},
	})
	_, err = s.Resolve(zeroSize)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, perr.Placement)

	badAnchor := widget(config.Placement{
		Anchor: "nowhere", Width: config.Pixels(10), Height: config.Pixels(10),
		MonitorSelection: config.MonitorSelection{Type: config.SelectAll},
	})
	_, err = s.Resolve(badAnchor)
	require.ErrorAs(t, err, &perr)
	assert.Error(t, errors.Unwrap(err))

	noMonitors, err := New(hosttest.NewDisplays(), nil)
	require.NoError(t, err)
	_, err = noMonitors.Resolve(widget(config.DefaultPlacement()))
	require.ErrorAs(t, err, &perr)
}
