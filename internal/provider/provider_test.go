package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHash(t *testing.T) {
	tests := []struct {
		name  string
		a, b  map[string]any
		equal bool
	}{
		{"nil and empty", nil, map[string]any{}, true},
		{"key order", map[string]any{"x": 1, "y": 2}, map[string]any{"y": 2, "x": 1}, true},
		{"nested", map[string]any{"o": map[string]any{"a": 1}}, map[string]any{"o": map[string]any{"a": 1}}, true},
		{"different value", map[string]any{"x": 1}, map[string]any{"x": 2}, false},
		{"different key", map[string]any{"x": 1}, map[string]any{"y": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha, err := ConfigHash(tt.a)
			require.NoError(t, err)
			hb, err := ConfigHash(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.equal, ha == hb)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	ctor := func(map[string]any) (Provider, error) { return &counterProvider{}, nil }

	require.NoError(t, r.Register("a", ctor))
	require.Error(t, r.Register("a", ctor))
	require.NoError(t, r.Register("b", ctor))
	assert.Equal(t, []string{"a", "b"}, r.Kinds())

	_, err := r.New("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDefaultRegistry_Kinds(t *testing.T) {
	assert.Equal(t,
		[]string{"cpu", "date", "disk", "host", "memory", "network"},
		DefaultRegistry().Kinds())
}

func TestRefreshInterval(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want time.Duration
	}{
		{"default", nil, time.Second},
		{"milliseconds", map[string]any{"refreshInterval": 2500}, 2500 * time.Millisecond},
		{"float milliseconds", map[string]any{"refreshInterval": 2000.0}, 2 * time.Second},
		{"duration string", map[string]any{"refreshInterval": "3s"}, 3 * time.Second},
		{"numeric string", map[string]any{"refreshInterval": "750"}, 750 * time.Millisecond},
		{"clamped", map[string]any{"refreshInterval": 5}, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewDate(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Interval())
		})
	}
}

func TestDecodeConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := NewDate(map[string]any{"formating": "15:04"})
	require.Error(t, err)
}

func TestDate_Sample(t *testing.T) {
	p, err := NewDate(map[string]any{"formatting": "2006-01-02 15:04", "timezone": "UTC"})
	require.NoError(t, err)

	d := p.(*Date)
	d.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

	v, err := d.Sample(context.Background())
	require.NoError(t, err)

	out := v.(DateOutput)
	assert.Equal(t, "2026-03-14 09:26", out.Formatted)
	assert.Equal(t, "2026-03-14T09:26:53Z", out.ISO)
	assert.Equal(t, int64(1773480413000), out.Unix)
	assert.Equal(t, "UTC", out.Timezone)
}

func TestDate_InvalidTimezone(t *testing.T) {
	_, err := NewDate(map[string]any{"timezone": "Mars/Olympus"})
	require.Error(t, err)
}

func TestDate_SampleHonoursCancel(t *testing.T) {
	p, err := NewDate(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRate(t *testing.T) {
	assert.Equal(t, uint64(100), rate(1000, 1500, 5))
	assert.Zero(t, rate(1500, 1000, 5))
}
