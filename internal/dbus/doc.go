// Package dbus puts perch on the session bus. The Service holds the
// io.github.jmylchreest.Perch name, which makes it the single-instance gate,
// and exports the IPC methods widgets call. Provider output goes out as the
// ProviderEmit signal. Tray renders the tray menu as a StatusNotifierItem
// with a com.canonical.dbusmenu menu.
package dbus
