//go:build !linux

package mount

import (
	"context"
	"errors"
	"time"

	"devcat/internal/devcat"
)

var errUnsupported = errors.New("system mounts are only supported on linux")

// SystemMounter is unavailable on this platform; use the memory mounter.
type SystemMounter struct{}

func NewSystemMounter(options []string, timeout time.Duration, logger devcat.Logger) *SystemMounter {
	return &SystemMounter{}
}

func (m *SystemMounter) Mount(ctx context.Context, devnode, target string) error {
	return errUnsupported
}

func (m *SystemMounter) Unmount(ctx context.Context, target string) error {
	return errUnsupported
}

func (m *SystemMounter) LiveMounts(ctx context.Context) (map[string]string, error) {
	return nil, errUnsupported
}

var _ devcat.Mounter = (*SystemMounter)(nil)
