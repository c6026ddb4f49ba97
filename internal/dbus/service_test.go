package dbus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/monitor"
	"github.com/jmylchreest/perch/internal/provider"
	"github.com/jmylchreest/perch/internal/widget"
)

func TestErrorName(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"widget not found", fmt.Errorf("close: %w", widget.ErrWidgetNotFound), errWidgetNotFound},
		{"provider unknown widget", &provider.Error{WidgetID: "w", Kind: "cpu", Err: provider.ErrUnknownWidget}, errWidgetNotFound},
		{"unknown provider kind", &provider.Error{WidgetID: "w", Kind: "gpu", Err: provider.ErrUnknownKind}, errUnknownProvider},
		{"config not found", &config.Error{Path: "/x.json", Err: config.ErrNotFound}, errConfigNotFound},
		{"config malformed", &config.Error{Path: "/x.json", Err: fmt.Errorf("%w: bad", config.ErrMalformed)}, errConfigMalformed},
		{"placement", &monitor.PlacementError{ConfigPath: "/x.json", Placement: -1, Reason: "no monitor"}, errPlacement},
		{"window", &widget.OpenError{ConfigPath: "/x.json", Cause: errors.New("boom")}, errWindow},
		{"other", errors.New("boom"), errFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorName(tt.err))
		})
	}
}

func TestToDBusError(t *testing.T) {
	assert.Nil(t, toDBusError(nil))

	derr := toDBusError(widget.ErrWidgetNotFound)
	require.NotNil(t, derr)
	assert.Equal(t, errWidgetNotFound, derr.Name)
	assert.Equal(t, []any{widget.ErrWidgetNotFound.Error()}, derr.Body)
}

func TestParseProviderConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    map[string]any
		wantErr bool
	}{
		{"empty string", "", map[string]any{}, false},
		{"null", "null", map[string]any{}, false},
		{"object", `{"refreshInterval": 1000, "perCore": true}`, map[string]any{"refreshInterval": 1000.0, "perCore": true}, false},
		{"array", `[1, 2]`, nil, true},
		{"garbage", `{refreshInterval`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProviderConfig(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFolderURI(t *testing.T) {
	uri, err := folderURI("/home/user/.config/perch dir")
	require.NoError(t, err)
	assert.Equal(t, "file:///home/user/.config/perch%20dir", uri)
}

func TestIntrospection(t *testing.T) {
	names := make([]string, 0)
	for _, m := range ipcMethods() {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{
		"Forward", "OpenWidgetDefault", "ListenProvider", "UnlistenProvider", "SetAlwaysOnTop", "SetSkipTaskbar",
	}, names)

	sigs := ipcSignals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "ProviderEmit", sigs[0].Name)
	assert.Len(t, sigs[0].Args, 5)
}
