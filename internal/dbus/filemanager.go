package dbus

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/godbus/dbus/v5"
)

const (
	fileManagerName = "org.freedesktop.FileManager1"
	fileManagerPath = "/org/freedesktop/FileManager1"
)

// ShowFolder opens dir in the desktop file manager through
// org.freedesktop.FileManager1.
func ShowFolder(ctx context.Context, conn *dbus.Conn, dir string) error {
	uri, err := folderURI(dir)
	if err != nil {
		return err
	}
	call := conn.Object(fileManagerName, fileManagerPath).
		CallWithContext(ctx, fileManagerName+".ShowFolders", 0, []string{uri}, "")
	if call.Err != nil {
		return fmt.Errorf("failed to show %s: %w", dir, call.Err)
	}
	return nil
}

func folderURI(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	u := url.URL{Scheme: "file", Path: abs}
	return u.String(), nil
}
