package app

import (
	"context"
)

// OpenWidgetDefault opens the widget config at path with its default
// placements. Relative paths resolve against the config directory.
func (a *App) OpenWidgetDefault(ctx context.Context, path string) error {
	wc, err := a.Config.WidgetConfigByPath(path)
	if err != nil {
		return err
	}
	_, err = a.Widgets.Open(ctx, wc)
	return err
}

// ListenProvider subscribes an open widget to a provider.
func (a *App) ListenProvider(widgetID, kind string, cfg map[string]any) (string, error) {
	return a.Providers.Listen(widgetID, kind, cfg)
}

// UnlistenProvider cancels a widget's subscription to a provider kind.
func (a *App) UnlistenProvider(widgetID, kind string) error {
	return a.Providers.Unlisten(widgetID, kind)
}

// SetAlwaysOnTop changes the z-order of an open widget.
func (a *App) SetAlwaysOnTop(ctx context.Context, widgetID string, onTop bool) error {
	return a.Widgets.SetAlwaysOnTop(ctx, widgetID, onTop)
}

// SetSkipTaskbar changes whether an open widget appears in the taskbar.
func (a *App) SetSkipTaskbar(ctx context.Context, widgetID string, skip bool) error {
	return a.Widgets.SetSkipTaskbar(ctx, widgetID, skip)
}
