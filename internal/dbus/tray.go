package dbus

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/jmylchreest/perch/internal/host"
)

const (
	itemInterface = "org.kde.StatusNotifierItem"
	itemPath      = "/StatusNotifierItem"
	menuInterface = "com.canonical.dbusmenu"
	menuPath      = "/MenuBar"

	watcherName = "org.kde.StatusNotifierWatcher"
	watcherPath = "/StatusNotifierWatcher"

	statusActive  = "Active"
	statusPassive = "Passive"
)

var _ host.Tray = (*Tray)(nil)

// menuNode is one entry of the exported menu. Node 0 is the root.
type menuNode struct {
	id       int32
	entryID  string
	props    map[string]dbus.Variant
	children []*menuNode
}

// menuLayout is the wire form of a node: (ia{sv}av).
type menuLayout struct {
	ID         int32
	Properties map[string]dbus.Variant
	Children   []dbus.Variant
}

type menuItemProps struct {
	ID         int32
	Properties map[string]dbus.Variant
}

type menuEvent struct {
	ID        int32
	EventID   string
	Data      dbus.Variant
	Timestamp uint32
}

type pixmap struct {
	Width  int32
	Height int32
	Data   []byte
}

type toolTip struct {
	IconName    string
	Pixmaps     []pixmap
	Title       string
	Description string
}

// Tray is a StatusNotifierItem whose menu mirrors the entries passed to
// SetTrayMenu. Clicks are reported through the action callback on a new
// goroutine.
type Tray struct {
	conn     *dbus.Conn
	logger   *slog.Logger
	name     string
	title    string
	iconName string
	onAction func(id string)

	itemProps *prop.Properties
	signals   chan *dbus.Signal

	mu       sync.Mutex
	revision uint32
	root     *menuNode
	ids      *menuIDs
	status   string
}

// NewTray creates a tray on conn. onAction receives the id of every clicked
// entry.
func NewTray(conn *dbus.Conn, title, iconName string, onAction func(id string), logger *slog.Logger) *Tray {
	if logger == nil {
		logger = slog.Default()
	}
	ids := newMenuIDs()
	return &Tray{
		conn:     conn,
		logger:   logger,
		name:     fmt.Sprintf("%s-%d-1", itemInterface, os.Getpid()),
		title:    title,
		iconName: iconName,
		onAction: onAction,
		root:     buildMenuTree(nil, ids),
		ids:      ids,
		status:   statusPassive,
	}
}

// Start exports the item and its menu and registers with the watcher. A
// missing watcher is logged; the item registers once one appears.
func (t *Tray) Start() error {
	reply, err := t.conn.RequestName(t.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request tray name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("tray name %s already taken", t.name)
	}

	if err := t.conn.Export(&sniItem{t}, itemPath, itemInterface); err != nil {
		return fmt.Errorf("failed to export tray item: %w", err)
	}
	t.itemProps, err = prop.Export(t.conn, itemPath, prop.Map{
		itemInterface: map[string]*prop.Prop{
			"Category":      {Value: "ApplicationStatus", Emit: prop.EmitFalse},
			"Id":            {Value: "perch", Emit: prop.EmitFalse},
			"Title":         {Value: t.title, Emit: prop.EmitTrue},
			"Status":        {Value: statusPassive, Emit: prop.EmitTrue},
			"WindowId":      {Value: int32(0), Emit: prop.EmitFalse},
			"IconName":      {Value: t.iconName, Emit: prop.EmitTrue},
			"IconThemePath": {Value: "", Emit: prop.EmitFalse},
			"ItemIsMenu":    {Value: true, Emit: prop.EmitFalse},
			"Menu":          {Value: dbus.ObjectPath(menuPath), Emit: prop.EmitFalse},
			"ToolTip":       {Value: toolTip{Title: t.title, Pixmaps: []pixmap{}}, Emit: prop.EmitTrue},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to export tray item properties: %w", err)
	}

	if err := t.conn.Export(&dbusMenu{t}, menuPath, menuInterface); err != nil {
		return fmt.Errorf("failed to export tray menu: %w", err)
	}
	menuProps, err := prop.Export(t.conn, menuPath, prop.Map{
		menuInterface: map[string]*prop.Prop{
			"Version":       {Value: uint32(3), Emit: prop.EmitFalse},
			"TextDirection": {Value: "ltr", Emit: prop.EmitFalse},
			"Status":        {Value: "normal", Emit: prop.EmitFalse},
			"IconThemePath": {Value: []string{}, Emit: prop.EmitFalse},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to export tray menu properties: %w", err)
	}

	if err := t.exportIntrospection(itemPath, introspect.Interface{
		Name:       itemInterface,
		Methods:    itemMethods(),
		Properties: t.itemProps.Introspection(itemInterface),
		Signals:    []introspect.Signal{{Name: "NewStatus", Args: []introspect.Arg{{Name: "status", Type: "s"}}}},
	}); err != nil {
		return err
	}
	if err := t.exportIntrospection(menuPath, introspect.Interface{
		Name:       menuInterface,
		Methods:    menuMethods(),
		Properties: menuProps.Introspection(menuInterface),
		Signals:    menuSignals(),
	}); err != nil {
		return err
	}

	t.watchWatcher()
	if err := t.register(); err != nil {
		t.logger.Warn("no tray host available yet", "error", err)
	}
	t.logger.Info("tray item exported", "name", t.name)
	return nil
}

// Close unexports the item and releases its name.
func (t *Tray) Close() error {
	if t.signals != nil {
		t.conn.RemoveSignal(t.signals)
		_ = t.conn.RemoveMatchSignal(watcherMatch()...)
	}
	_ = t.conn.Export(nil, itemPath, itemInterface)
	_ = t.conn.Export(nil, menuPath, menuInterface)
	if _, err := t.conn.ReleaseName(t.name); err != nil {
		return fmt.Errorf("failed to release tray name: %w", err)
	}
	return nil
}

// SetTrayMenu implements host.Tray. An empty menu makes the item passive,
// which hosts may hide.
func (t *Tray) SetTrayMenu(entries []host.MenuEntry) error {
	status := statusActive
	if len(entries) == 0 {
		status = statusPassive
	}

	t.mu.Lock()
	t.root = buildMenuTree(entries, t.ids)
	t.revision++
	revision := t.revision
	statusChanged := status != t.status
	t.status = status
	t.mu.Unlock()

	if err := t.conn.Emit(menuPath, menuInterface+".LayoutUpdated", revision, int32(0)); err != nil {
		return fmt.Errorf("failed to emit LayoutUpdated signal: %w", err)
	}
	if statusChanged && t.itemProps != nil {
		t.itemProps.SetMust(itemInterface, "Status", status)
		if err := t.conn.Emit(itemPath, itemInterface+".NewStatus", status); err != nil {
			t.logger.Warn("failed to emit NewStatus signal", "error", err)
		}
	}
	return nil
}

func (t *Tray) register() error {
	call := t.conn.Object(watcherName, watcherPath).Call(watcherName+".RegisterStatusNotifierItem", 0, t.name)
	if call.Err != nil {
		return fmt.Errorf("failed to register with %s: %w", watcherName, call.Err)
	}
	t.logger.Debug("registered tray item", "watcher", watcherName)
	return nil
}

func watcherMatch() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, watcherName),
	}
}

// watchWatcher re-registers whenever a StatusNotifierWatcher (re)appears.
func (t *Tray) watchWatcher() {
	if err := t.conn.AddMatchSignal(watcherMatch()...); err != nil {
		t.logger.Warn("failed to watch for tray hosts", "error", err)
		return
	}
	t.signals = make(chan *dbus.Signal, 16)
	t.conn.Signal(t.signals)

	go func() {
		for sig := range t.signals {
			if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) < 3 {
				continue
			}
			name, _ := sig.Body[0].(string)
			newOwner, _ := sig.Body[2].(string)
			if name != watcherName || newOwner == "" {
				continue
			}
			if err := t.register(); err != nil {
				t.logger.Warn("failed to re-register tray item", "error", err)
			}
		}
	}()
}

func (t *Tray) exportIntrospection(path dbus.ObjectPath, iface introspect.Interface) error {
	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			iface,
		},
	}
	if err := t.conn.Export(introspect.NewIntrospectable(node), path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspectable for %s: %w", path, err)
	}
	return nil
}

func (t *Tray) snapshot() (uint32, *menuNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revision, t.root
}

func (t *Tray) clicked(id int32) bool {
	_, root := t.snapshot()
	n := root.find(id)
	if n == nil || n.entryID == "" {
		return false
	}
	if t.onAction != nil {
		go t.onAction(n.entryID)
	}
	return true
}

// menuIDs hands out dbusmenu ids. An entry keeps its id for the life of the
// tray, so a click carrying an id from an older layout either reaches the
// same entry or misses. Ids are never reused.
type menuIDs struct {
	byEntry map[string]int32
	next    int32
}

func newMenuIDs() *menuIDs {
	return &menuIDs{byEntry: make(map[string]int32), next: 1}
}

func (m *menuIDs) fresh() int32 {
	id := m.next
	m.next++
	return id
}

// buildMenuTree converts entries to menu nodes below a root with id 0. Ids
// come from ids; entries without an id, or repeating one already placed in
// this tree, get an id of their own.
func buildMenuTree(entries []host.MenuEntry, ids *menuIDs) *menuNode {
	root := &menuNode{
		props: map[string]dbus.Variant{"children-display": dbus.MakeVariant("submenu")},
	}
	used := make(map[string]bool)

	idFor := func(entryID string) int32 {
		if entryID == "" || used[entryID] {
			return ids.fresh()
		}
		used[entryID] = true
		id, ok := ids.byEntry[entryID]
		if !ok {
			id = ids.fresh()
			ids.byEntry[entryID] = id
		}
		return id
	}

	var add func(parent *menuNode, entries []host.MenuEntry)
	add = func(parent *menuNode, entries []host.MenuEntry) {
		for _, e := range entries {
			n := &menuNode{id: idFor(e.ID), entryID: e.ID, props: entryProps(e)}
			parent.children = append(parent.children, n)
			if e.Kind == host.MenuSubmenu {
				add(n, e.Children)
			}
		}
	}
	add(root, entries)
	return root
}

func entryProps(e host.MenuEntry) map[string]dbus.Variant {
	if e.Kind == host.MenuSeparator {
		return map[string]dbus.Variant{"type": dbus.MakeVariant("separator")}
	}

	props := map[string]dbus.Variant{
		"label":   dbus.MakeVariant(e.Label),
		"enabled": dbus.MakeVariant(!e.Disabled),
		"visible": dbus.MakeVariant(true),
	}
	switch e.Kind {
	case host.MenuToggle:
		state := int32(0)
		if e.Checked {
			state = 1
		}
		props["toggle-type"] = dbus.MakeVariant("checkmark")
		props["toggle-state"] = dbus.MakeVariant(state)
	case host.MenuSubmenu:
		props["children-display"] = dbus.MakeVariant("submenu")
	}
	return props
}

func (n *menuNode) find(id int32) *menuNode {
	if n.id == id {
		return n
	}
	for _, c := range n.children {
		if found := c.find(id); found != nil {
			return found
		}
	}
	return nil
}

// layout renders n to the given depth (-1 for all) with only the named
// properties (all when names is empty).
func (n *menuNode) layout(depth int32, names []string) menuLayout {
	out := menuLayout{
		ID:         n.id,
		Properties: filterProps(n.props, names),
		Children:   []dbus.Variant{},
	}
	if depth == 0 {
		return out
	}
	for _, c := range n.children {
		out.Children = append(out.Children, dbus.MakeVariant(c.layout(depth-1, names)))
	}
	return out
}

func filterProps(props map[string]dbus.Variant, names []string) map[string]dbus.Variant {
	if len(names) == 0 {
		return props
	}
	out := make(map[string]dbus.Variant, len(names))
	for k, v := range props {
		if slices.Contains(names, k) {
			out[k] = v
		}
	}
	return out
}

// sniItem is the exported org.kde.StatusNotifierItem object. The item is
// menu-only, so activation requests are ignored.
type sniItem struct {
	t *Tray
}

// D-Bus method: Activate(ii)
func (i *sniItem) Activate(x, y int32) *dbus.Error { return nil }

// D-Bus method: SecondaryActivate(ii)
func (i *sniItem) SecondaryActivate(x, y int32) *dbus.Error { return nil }

// D-Bus method: ContextMenu(ii)
func (i *sniItem) ContextMenu(x, y int32) *dbus.Error { return nil }

// D-Bus method: Scroll(is)
func (i *sniItem) Scroll(delta int32, orientation string) *dbus.Error { return nil }

// dbusMenu is the exported com.canonical.dbusmenu object.
type dbusMenu struct {
	t *Tray
}

// GetLayout returns the subtree below parentID.
// D-Bus method: GetLayout(iias) -> (u(ia{sv}av))
func (m *dbusMenu) GetLayout(parentID, recursionDepth int32, propertyNames []string) (uint32, menuLayout, *dbus.Error) {
	revision, root := m.t.snapshot()
	n := root.find(parentID)
	if n == nil {
		return revision, menuLayout{}, dbus.NewError("com.canonical.dbusmenu.Error.UnknownId", []any{fmt.Sprintf("unknown menu id %d", parentID)})
	}
	return revision, n.layout(recursionDepth, propertyNames), nil
}

// GetGroupProperties returns properties of several nodes. An empty id list
// means every node.
// D-Bus method: GetGroupProperties(aias) -> a(ia{sv})
func (m *dbusMenu) GetGroupProperties(ids []int32, propertyNames []string) ([]menuItemProps, *dbus.Error) {
	_, root := m.t.snapshot()
	out := []menuItemProps{}

	var walk func(n *menuNode)
	walk = func(n *menuNode) {
		if len(ids) == 0 || slices.Contains(ids, n.id) {
			out = append(out, menuItemProps{ID: n.id, Properties: filterProps(n.props, propertyNames)})
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

// D-Bus method: GetProperty(is) -> v
func (m *dbusMenu) GetProperty(id int32, name string) (dbus.Variant, *dbus.Error) {
	_, root := m.t.snapshot()
	n := root.find(id)
	if n == nil {
		return dbus.Variant{}, dbus.NewError("com.canonical.dbusmenu.Error.UnknownId", []any{fmt.Sprintf("unknown menu id %d", id)})
	}
	v, ok := n.props[name]
	if !ok {
		return dbus.Variant{}, dbus.NewError("com.canonical.dbusmenu.Error.UnknownProperty", []any{name})
	}
	return v, nil
}

// D-Bus method: Event(isvu)
func (m *dbusMenu) Event(id int32, eventID string, data dbus.Variant, timestamp uint32) *dbus.Error {
	if eventID == "clicked" {
		m.t.clicked(id)
	}
	return nil
}

// D-Bus method: EventGroup(a(isvu)) -> ai
func (m *dbusMenu) EventGroup(events []menuEvent) ([]int32, *dbus.Error) {
	notFound := []int32{}
	for _, ev := range events {
		if ev.EventID != "clicked" {
			continue
		}
		if !m.t.clicked(ev.ID) {
			notFound = append(notFound, ev.ID)
		}
	}
	return notFound, nil
}

// D-Bus method: AboutToShow(i) -> b
func (m *dbusMenu) AboutToShow(id int32) (bool, *dbus.Error) {
	return false, nil
}

// D-Bus method: AboutToShowGroup(ai) -> (aiai)
func (m *dbusMenu) AboutToShowGroup(ids []int32) ([]int32, []int32, *dbus.Error) {
	return []int32{}, []int32{}, nil
}

func itemMethods() []introspect.Method {
	xy := []introspect.Arg{
		{Name: "x", Type: "i", Direction: "in"},
		{Name: "y", Type: "i", Direction: "in"},
	}
	return []introspect.Method{
		{Name: "Activate", Args: xy},
		{Name: "SecondaryActivate", Args: xy},
		{Name: "ContextMenu", Args: xy},
		{
			Name: "Scroll",
			Args: []introspect.Arg{
				{Name: "delta", Type: "i", Direction: "in"},
				{Name: "orientation", Type: "s", Direction: "in"},
			},
		},
	}
}

func menuMethods() []introspect.Method {
	return []introspect.Method{
		{
			Name: "GetLayout",
			Args: []introspect.Arg{
				{Name: "parentId", Type: "i", Direction: "in"},
				{Name: "recursionDepth", Type: "i", Direction: "in"},
				{Name: "propertyNames", Type: "as", Direction: "in"},
				{Name: "revision", Type: "u", Direction: "out"},
				{Name: "layout", Type: "(ia{sv}av)", Direction: "out"},
			},
		},
		{
			Name: "GetGroupProperties",
			Args: []introspect.Arg{
				{Name: "ids", Type: "ai", Direction: "in"},
				{Name: "propertyNames", Type: "as", Direction: "in"},
				{Name: "properties", Type: "a(ia{sv})", Direction: "out"},
			},
		},
		{
			Name: "GetProperty",
			Args: []introspect.Arg{
				{Name: "id", Type: "i", Direction: "in"},
				{Name: "name", Type: "s", Direction: "in"},
				{Name: "value", Type: "v", Direction: "out"},
			},
		},
		{
			Name: "Event",
			Args: []introspect.Arg{
				{Name: "id", Type: "i", Direction: "in"},
				{Name: "eventId", Type: "s", Direction: "in"},
				{Name: "data", Type: "v", Direction: "in"},
				{Name: "timestamp", Type: "u", Direction: "in"},
			},
		},
		{
			Name: "EventGroup",
			Args: []introspect.Arg{
				{Name: "events", Type: "a(isvu)", Direction: "in"},
				{Name: "idErrors", Type: "ai", Direction: "out"},
			},
		},
		{
			Name: "AboutToShow",
			Args: []introspect.Arg{
				{Name: "id", Type: "i", Direction: "in"},
				{Name: "needUpdate", Type: "b", Direction: "out"},
			},
		},
		{
			Name: "AboutToShowGroup",
			Args: []introspect.Arg{
				{Name: "ids", Type: "ai", Direction: "in"},
				{Name: "updatesNeeded", Type: "ai", Direction: "out"},
				{Name: "idErrors", Type: "ai", Direction: "out"},
			},
		},
	}
}

func menuSignals() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: "LayoutUpdated",
			Args: []introspect.Arg{
				{Name: "revision", Type: "u"},
				{Name: "parent", Type: "i"},
			},
		},
		{
			Name: "ItemsPropertiesUpdated",
			Args: []introspect.Arg{
				{Name: "updatedProps", Type: "a(ia{sv})"},
				{Name: "removedProps", Type: "a(ias)"},
			},
		},
	}
}
