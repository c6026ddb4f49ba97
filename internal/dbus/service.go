package dbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/jmylchreest/perch/internal/config"
	"github.com/jmylchreest/perch/internal/instance"
	"github.com/jmylchreest/perch/internal/monitor"
	"github.com/jmylchreest/perch/internal/provider"
	"github.com/jmylchreest/perch/internal/widget"
)

const (
	// BusName is the well-known name held by the serving instance.
	BusName = "io.github.jmylchreest.Perch"
	// Interface is the IPC interface name.
	Interface = "io.github.jmylchreest.Perch"
	// ObjectPath is the IPC object path.
	ObjectPath = "/io/github/jmylchreest/Perch"

	callTimeout = 30 * time.Second
)

// IPC is the operation surface widgets call into.
type IPC interface {
	OpenWidgetDefault(ctx context.Context, configPath string) error
	ListenProvider(widgetID, kind string, cfg map[string]any) (string, error)
	UnlistenProvider(widgetID, kind string) error
	SetAlwaysOnTop(ctx context.Context, widgetID string, onTop bool) error
	SetSkipTaskbar(ctx context.Context, widgetID string, skip bool) error
}

// Service holds the bus name. It is the single-instance gate, the IPC
// server for widgets, and the emitter of provider output.
type Service struct {
	instance.Inbox

	conn   *dbus.Conn
	logger *slog.Logger

	mu      sync.RWMutex
	ipc     IPC
	owner   bool
	stopped bool
}

var _ instance.Gate = (*Service)(nil)

// Connect opens a private session bus connection for a Service.
func Connect(logger *slog.Logger) (*Service, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return New(conn, logger), nil
}

// New creates a Service on conn.
func New(conn *dbus.Conn, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{conn: conn, logger: logger}
}

// Conn returns the underlying connection.
func (s *Service) Conn() *dbus.Conn {
	return s.conn
}

// SetIPC installs the handler for widget calls. Calls made before it is set
// fail with a not-ready error.
func (s *Service) SetIPC(ipc IPC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ipc = ipc
}

// Acquire implements instance.Gate. The object is exported before the name is
// requested so a secondary can forward as soon as the name is visible.
func (s *Service) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	obj := &object{s: s}
	if err := s.conn.Export(obj, ObjectPath, Interface); err != nil {
		return false, fmt.Errorf("failed to export object: %w", err)
	}

	node := &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: ipcMethods(),
				Signals: ipcSignals(),
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return false, fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := s.conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return false, fmt.Errorf("failed to request bus name: %w", err)
	}

	switch reply {
	case dbus.RequestNameReplyPrimaryOwner, dbus.RequestNameReplyAlreadyOwner:
		s.mu.Lock()
		s.owner = true
		s.mu.Unlock()
		s.logger.Info("acquired bus name", "name", BusName, "path", ObjectPath)
		return true, nil
	default:
		// Another process serves; this one only forwards.
		_ = s.conn.Export(nil, ObjectPath, Interface)
		_ = s.conn.Export(nil, ObjectPath, "org.freedesktop.DBus.Introspectable")
		s.logger.Debug("bus name already owned", "name", BusName, "reply", reply)
		return false, nil
	}
}

// Forward implements instance.Gate.
func (s *Service) Forward(ctx context.Context, args []string) error {
	if args == nil {
		args = []string{}
	}
	call := s.conn.Object(BusName, ObjectPath).CallWithContext(ctx, Interface+".Forward", 0, args)
	if call.Err != nil {
		var derr dbus.Error
		if errors.As(call.Err, &derr) && derr.Name == "org.freedesktop.DBus.Error.ServiceUnknown" {
			return fmt.Errorf("%w: %v", instance.ErrNoPrimary, call.Err)
		}
		return fmt.Errorf("failed to forward command line: %w", call.Err)
	}
	return nil
}

// Close implements instance.Gate. It releases the name and closes the
// connection.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	owner := s.owner
	s.mu.Unlock()

	if owner {
		if _, err := s.conn.ReleaseName(BusName); err != nil {
			s.logger.Warn("failed to release bus name", "error", err)
		}
	}
	return s.conn.Close()
}

func (s *Service) handler() IPC {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ipc
}

// object is the exported IPC object. Its methods are the D-Bus surface.
type object struct {
	s *Service
}

// Forward receives a secondary's command line.
// D-Bus method: Forward(as)
func (o *object) Forward(args []string) *dbus.Error {
	o.s.logger.Debug("Forward called", "args", args)
	// The secondary exits without waiting for the outcome.
	go o.s.Deliver(args)
	return nil
}

// OpenWidgetDefault opens the widget config at path.
// D-Bus method: OpenWidgetDefault(s)
func (o *object) OpenWidgetDefault(path string) *dbus.Error {
	o.s.logger.Debug("OpenWidgetDefault called", "path", path)
	ipc := o.s.handler()
	if ipc == nil {
		return errNotReady
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return toDBusError(ipc.OpenWidgetDefault(ctx, path))
}

// ListenProvider subscribes a widget to a provider. cfgJSON is a JSON object.
// D-Bus method: ListenProvider(sss) -> s
func (o *object) ListenProvider(widgetID, kind, cfgJSON string) (string, *dbus.Error) {
	o.s.logger.Debug("ListenProvider called", "widget", widgetID, "kind", kind)
	ipc := o.s.handler()
	if ipc == nil {
		return "", errNotReady
	}
	cfg, err := parseProviderConfig(cfgJSON)
	if err != nil {
		return "", dbus.NewError(errInvalidArgs, []any{err.Error()})
	}
	hash, err := ipc.ListenProvider(widgetID, kind, cfg)
	if err != nil {
		return "", toDBusError(err)
	}
	return hash, nil
}

// UnlistenProvider ends a widget's subscriptions to a provider kind.
// D-Bus method: UnlistenProvider(ss)
func (o *object) UnlistenProvider(widgetID, kind string) *dbus.Error {
	o.s.logger.Debug("UnlistenProvider called", "widget", widgetID, "kind", kind)
	ipc := o.s.handler()
	if ipc == nil {
		return errNotReady
	}
	return toDBusError(ipc.UnlistenProvider(widgetID, kind))
}

// SetAlwaysOnTop pins a widget above other windows.
// D-Bus method: SetAlwaysOnTop(sb)
func (o *object) SetAlwaysOnTop(widgetID string, onTop bool) *dbus.Error {
	o.s.logger.Debug("SetAlwaysOnTop called", "widget", widgetID, "on_top", onTop)
	ipc := o.s.handler()
	if ipc == nil {
		return errNotReady
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return toDBusError(ipc.SetAlwaysOnTop(ctx, widgetID, onTop))
}

// SetSkipTaskbar hides a widget from the taskbar.
// D-Bus method: SetSkipTaskbar(sb)
func (o *object) SetSkipTaskbar(widgetID string, skip bool) *dbus.Error {
	o.s.logger.Debug("SetSkipTaskbar called", "widget", widgetID, "skip", skip)
	ipc := o.s.handler()
	if ipc == nil {
		return errNotReady
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return toDBusError(ipc.SetSkipTaskbar(ctx, widgetID, skip))
}

// parseProviderConfig decodes the JSON object sent with ListenProvider. An
// empty string is an empty config.
func parseProviderConfig(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return nil, fmt.Errorf("provider config must be a JSON object: %w", err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// D-Bus error names.
const (
	errPrefix          = Interface + ".Error."
	errFailed          = errPrefix + "Failed"
	errNotReadyName    = errPrefix + "NotReady"
	errInvalidArgs     = errPrefix + "InvalidArgs"
	errWidgetNotFound  = errPrefix + "WidgetNotFound"
	errConfigNotFound  = errPrefix + "ConfigNotFound"
	errConfigMalformed = errPrefix + "ConfigMalformed"
	errUnknownProvider = errPrefix + "UnknownProvider"
	errPlacement       = errPrefix + "Placement"
	errWindow          = errPrefix + "Window"
)

var errNotReady = dbus.NewError(errNotReadyName, []any{"perch is still starting"})

// errorName maps an error to the D-Bus error name reported to callers.
func errorName(err error) string {
	var (
		placement *monitor.PlacementError
		open      *widget.OpenError
	)
	switch {
	case errors.Is(err, widget.ErrWidgetNotFound), errors.Is(err, provider.ErrUnknownWidget):
		return errWidgetNotFound
	case errors.Is(err, provider.ErrUnknownKind):
		return errUnknownProvider
	case errors.Is(err, config.ErrMalformed):
		return errConfigMalformed
	case errors.Is(err, config.ErrNotFound):
		return errConfigNotFound
	case errors.As(err, &placement):
		return errPlacement
	case errors.As(err, &open):
		return errWindow
	default:
		return errFailed
	}
}

func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return dbus.NewError(errorName(err), []any{err.Error()})
}

// ipcMethods returns the D-Bus method introspection data.
func ipcMethods() []introspect.Method {
	return []introspect.Method{
		{
			Name: "Forward",
			Args: []introspect.Arg{
				{Name: "args", Type: "as", Direction: "in"},
			},
		},
		{
			Name: "OpenWidgetDefault",
			Args: []introspect.Arg{
				{Name: "config_path", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "ListenProvider",
			Args: []introspect.Arg{
				{Name: "widget_id", Type: "s", Direction: "in"},
				{Name: "kind", Type: "s", Direction: "in"},
				{Name: "config", Type: "s", Direction: "in"},
				{Name: "config_hash", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "UnlistenProvider",
			Args: []introspect.Arg{
				{Name: "widget_id", Type: "s", Direction: "in"},
				{Name: "kind", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "SetAlwaysOnTop",
			Args: []introspect.Arg{
				{Name: "widget_id", Type: "s", Direction: "in"},
				{Name: "on_top", Type: "b", Direction: "in"},
			},
		},
		{
			Name: "SetSkipTaskbar",
			Args: []introspect.Arg{
				{Name: "widget_id", Type: "s", Direction: "in"},
				{Name: "skip", Type: "b", Direction: "in"},
			},
		},
	}
}

// ipcSignals returns the D-Bus signal introspection data.
func ipcSignals() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: "ProviderEmit",
			Args: []introspect.Arg{
				{Name: "widget_id", Type: "s"},
				{Name: "kind", Type: "s"},
				{Name: "config_hash", Type: "s"},
				{Name: "payload", Type: "s"},
				{Name: "error", Type: "s"},
			},
		},
	}
}
