package dbus

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/perch/internal/host"
)

func sampleMenu() []host.MenuEntry {
	return []host.MenuEntry{
		{
			ID:    "widgets",
			Label: "Widgets (1 open)",
			Kind:  host.MenuSubmenu,
			Children: []host.MenuEntry{
				{ID: "toggle:/cfg/bar.json", Label: "bar", Kind: host.MenuToggle, Checked: true},
				{ID: "toggle:/cfg/menu.json", Label: "menu", Kind: host.MenuToggle},
			},
		},
		{ID: "sep", Kind: host.MenuSeparator},
		{ID: "quit", Label: "Quit", Disabled: true},
	}
}

func TestBuildMenuTree(t *testing.T) {
	root := buildMenuTree(sampleMenu(), newMenuIDs())

	require.Len(t, root.children, 3)
	widgets := root.children[0]
	assert.Equal(t, int32(1), widgets.id)
	require.Len(t, widgets.children, 2)
	assert.Equal(t, int32(2), widgets.children[0].id)
	assert.Equal(t, int32(3), widgets.children[1].id)
	assert.Equal(t, int32(4), root.children[1].id)
	assert.Equal(t, int32(5), root.children[2].id)

	bar := root.find(2)
	require.NotNil(t, bar)
	assert.Equal(t, "toggle:/cfg/bar.json", bar.entryID)
	assert.Equal(t, "checkmark", bar.props["toggle-type"].Value())
	assert.Equal(t, int32(1), bar.props["toggle-state"].Value())
	assert.Equal(t, int32(0), root.find(3).props["toggle-state"].Value())

	assert.Equal(t, "separator", root.find(4).props["type"].Value())
	assert.Equal(t, false, root.find(5).props["enabled"].Value())
	assert.Equal(t, "submenu", widgets.props["children-display"].Value())
	assert.Nil(t, root.find(99))
}

func TestBuildMenuTree_IDsSurviveRebuilds(t *testing.T) {
	ids := newMenuIDs()
	before := buildMenuTree(sampleMenu(), ids)
	quitID := before.children[2].id
	menuID := before.children[0].children[1].id

	// A new widget config shifts every later entry by position.
	entries := sampleMenu()
	entries[0].Children = append([]host.MenuEntry{
		{ID: "toggle:/cfg/clock.json", Label: "clock", Kind: host.MenuToggle},
	}, entries[0].Children...)
	after := buildMenuTree(entries, ids)

	quit := after.find(quitID)
	require.NotNil(t, quit)
	assert.Equal(t, "quit", quit.entryID)
	assert.Equal(t, "toggle:/cfg/menu.json", after.find(menuID).entryID)

	clock := after.children[0].children[0]
	assert.Equal(t, "toggle:/cfg/clock.json", clock.entryID)
	assert.Greater(t, clock.id, quitID)

	// Ids of removed entries miss rather than resolving to a neighbour.
	removed := buildMenuTree(sampleMenu()[2:], ids)
	assert.Nil(t, removed.find(menuID))
	assert.Equal(t, quitID, removed.children[0].id)
}

func TestBuildMenuTree_DuplicateEntryIDs(t *testing.T) {
	root := buildMenuTree([]host.MenuEntry{
		{ID: "sep", Kind: host.MenuSeparator},
		{ID: "sep", Kind: host.MenuSeparator},
		{Label: "no id"},
	}, newMenuIDs())

	require.Len(t, root.children, 3)
	seen := make(map[int32]bool)
	for _, n := range root.children {
		assert.False(t, seen[n.id], "id %d reused", n.id)
		seen[n.id] = true
	}
}

func TestMenuLayout(t *testing.T) {
	root := buildMenuTree(sampleMenu(), newMenuIDs())

	full := root.layout(-1, nil)
	require.Len(t, full.Children, 3)
	widgets := full.Children[0].Value().(menuLayout)
	assert.Len(t, widgets.Children, 2)

	shallow := root.layout(1, nil)
	require.Len(t, shallow.Children, 3)
	assert.Empty(t, shallow.Children[0].Value().(menuLayout).Children)

	none := root.layout(0, nil)
	assert.Empty(t, none.Children)

	labels := root.find(1).layout(-1, []string{"label"})
	assert.Equal(t, map[string]dbus.Variant{"label": dbus.MakeVariant("Widgets (1 open)")}, labels.Properties)
}

func TestDBusMenu_Methods(t *testing.T) {
	clicks := make(chan string, 4)
	tr := NewTray(nil, "perch", "perch", func(id string) { clicks <- id }, nil)
	tr.root = buildMenuTree(sampleMenu(), tr.ids)
	tr.revision = 7
	m := &dbusMenu{tr}

	rev, layout, derr := m.GetLayout(1, -1, nil)
	require.Nil(t, derr)
	assert.Equal(t, uint32(7), rev)
	assert.Equal(t, int32(1), layout.ID)

	_, _, derr = m.GetLayout(42, -1, nil)
	require.NotNil(t, derr)

	props, derr := m.GetGroupProperties([]int32{2, 5}, []string{"label"})
	require.Nil(t, derr)
	require.Len(t, props, 2)
	assert.Equal(t, "bar", props[0].Properties["label"].Value())

	all, derr := m.GetGroupProperties(nil, nil)
	require.Nil(t, derr)
	assert.Len(t, all, 6)

	v, derr := m.GetProperty(5, "label")
	require.Nil(t, derr)
	assert.Equal(t, "Quit", v.Value())
	_, derr = m.GetProperty(5, "icon-name")
	require.NotNil(t, derr)

	require.Nil(t, m.Event(3, "hovered", dbus.MakeVariant(""), 0))
	require.Nil(t, m.Event(3, "clicked", dbus.MakeVariant(""), 0))
	select {
	case id := <-clicks:
		assert.Equal(t, "toggle:/cfg/menu.json", id)
	case <-time.After(time.Second):
		t.Fatal("click not delivered")
	}

	missing, derr := m.EventGroup([]menuEvent{{ID: 5, EventID: "clicked"}, {ID: 77, EventID: "clicked"}})
	require.Nil(t, derr)
	assert.Equal(t, []int32{77}, missing)
	select {
	case id := <-clicks:
		assert.Equal(t, "quit", id)
	case <-time.After(time.Second):
		t.Fatal("click not delivered")
	}
}
