package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LockFileName is the lock file in base_dir held by the commands that
// reconcile devices.
const LockFileName = "devcat.lock"

// ErrLocked is returned when another devcat process holds the lock.
var ErrLocked = errors.New("another devcat process is reconciling devices (is devcat run active?)")

// exclusive takes the base_dir lock for the rest of the app's life. Only one
// process at a time may mount or scan devices against a catalog.
func (a *App) exclusive() error {
	if a.lock != nil {
		return nil
	}
	if err := os.MkdirAll(a.cfg.BaseDir, 0o700); err != nil {
		return fmt.Errorf("creating base dir: %w", err)
	}
	l, err := acquireLock(filepath.Join(a.cfg.BaseDir, LockFileName))
	if err != nil {
		return err
	}
	a.lock = l
	return nil
}
