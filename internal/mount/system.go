//go:build linux

package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"devcat/internal/devcat"
)

// SystemMounter mounts with mount(8) and unmounts with umount(2).
type SystemMounter struct {
	options    []string
	timeout    time.Duration
	mountTable string
	logger     devcat.Logger
}

// NewSystemMounter creates a SystemMounter. options are joined and passed
// as mount -o; a zero timeout means no limit beyond the caller's context.
func NewSystemMounter(options []string, timeout time.Duration, logger devcat.Logger) *SystemMounter {
	return &SystemMounter{
		options:    options,
		timeout:    timeout,
		mountTable: "/proc/self/mounts",
		logger:     logger,
	}
}

func (m *SystemMounter) Mount(ctx context.Context, devnode, target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	args := []string{}
	if len(m.options) > 0 {
		args = append(args, "-o", strings.Join(m.options, ","))
	}
	args = append(args, devnode, target)

	out, err := exec.CommandContext(ctx, "mount", args...).CombinedOutput()
	if err != nil {
		// Leave no empty mount point behind; Remove refuses non-empty dirs.
		_ = os.Remove(target)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("mount %s: %w: %s", devnode, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *SystemMounter) Unmount(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := unix.Unmount(target, 0)
	if errors.Is(err, unix.EBUSY) {
		// Something still has files open. Detach now; the kernel finishes
		// once they are closed.
		m.logger.Warn("mount busy, detaching lazily", "mount_path", target)
		err = unix.Unmount(target, unix.MNT_DETACH)
	}
	if err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("umount %s: %w", target, err)
	}

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		m.logger.Debug("mount point not removed", "mount_path", target, "error", err)
	}
	return nil
}

func (m *SystemMounter) LiveMounts(ctx context.Context) (map[string]string, error) {
	f, err := os.Open(m.mountTable)
	if err != nil {
		return nil, fmt.Errorf("opening mount table: %w", err)
	}
	defer f.Close()

	return ParseMounts(f)
}

var _ devcat.Mounter = (*SystemMounter)(nil)
