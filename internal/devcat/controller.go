package devcat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"devcat/internal/model"
	"devcat/internal/syncutil"
)

// DeviceState is the mount controller's view of a device.
type DeviceState int

const (
	StateUnknown DeviceState = iota
	StateDetected
	StateMounting
	StateMounted
	StateMountFailed
	StateUnmounting
	StateDetached
)

func (s DeviceState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateDetected:
		return "detected"
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateMountFailed:
		return "mount_failed"
	case StateUnmounting:
		return "unmounting"
	case StateDetached:
		return "detached"
	default:
		return fmt.Sprintf("DeviceState(%d)", int(s))
	}
}

// transitions lists the legal moves. A device is only Mounted once its first
// scan after mounting has been committed.
var transitions = map[DeviceState][]DeviceState{
	StateUnknown:     {StateDetected},
	StateDetected:    {StateDetected, StateMounting, StateUnmounting},
	StateMounting:    {StateMounted, StateMountFailed, StateUnmounting},
	StateMounted:     {StateDetected, StateMounting, StateUnmounting},
	StateMountFailed: {StateDetected, StateUnmounting},
	StateUnmounting:  {StateUnmounting, StateDetached},
	StateDetached:    {StateDetected},
}

func canTransition(from, to DeviceState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Controller drives the per-device mount state machine. Callers serialize
// work per device; the controller only guards its own state table.
type Controller struct {
	registry    *Registry
	mounter     Mounter
	storageRoot string
	logger      Logger

	mu      syncutil.Mutex
	states  map[string]DeviceState
	ejected map[string]bool
}

// NewController creates a Controller that mounts volumes under storageRoot.
func NewController(registry *Registry, mounter Mounter, storageRoot string, logger Logger) *Controller {
	return &Controller{
		registry:    registry,
		mounter:     mounter,
		storageRoot: storageRoot,
		logger:      logger,
		states:      make(map[string]DeviceState),
		ejected:     make(map[string]bool),
	}
}

// State returns the current state for an identity.
func (c *Controller) State(id Identity) DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[id.Key()]
}

func (c *Controller) transition(id Identity, to DeviceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.states[id.Key()]
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrIllegalTransition, from, to, id)
	}
	c.states[id.Key()] = to
	c.logger.Debug("device state", "device", id.String(), "from", from.String(), "to", to.String())
	return nil
}

// Ejected reports whether the device was taken down by an administrative
// eject and has not been detected again since.
func (c *Controller) Ejected(id Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ejected[id.Key()]
}

// Detect records an observation in the registry and moves the device to
// Detected. A detached device that comes back, possibly on a new devnode,
// reuses its registry row.
func (c *Controller) Detect(ctx context.Context, devnode, uuid string) (*model.Device, error) {
	device, err := c.registry.Observe(ctx, devnode, uuid)
	if err != nil {
		return nil, err
	}

	id := IdentityOf(device)
	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.states[id.Key()]
	if from == StateMounting || from == StateUnmounting {
		// Left over from a cancelled attempt. Callers serialize per
		// device, so nothing else is driving this state.
		c.logger.Debug("resetting interrupted device", "device", id.String(), "from", from.String())
	} else if !canTransition(from, StateDetected) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrIllegalTransition, from, StateDetected, id)
	}
	c.states[id.Key()] = StateDetected
	delete(c.ejected, id.Key())

	return device, nil
}

// Mount mounts a detected device and returns its mount path. A devnode that
// is already mounted for this volume is adopted where it is; a mount left
// behind by a previous volume on the devnode is taken down first. On failure
// the registry records the failed attempt, the device moves to MountFailed
// and a *MountError is returned.
//
// A successful Mount leaves the device in Mounting; Joined completes the
// transition once the first scan is committed.
func (c *Controller) Mount(ctx context.Context, device *model.Device) (string, error) {
	id := IdentityOf(device)
	if err := c.transition(id, StateMounting); err != nil {
		return "", err
	}

	live, err := c.mounter.LiveMounts(ctx)
	if err != nil {
		return "", c.failMount(ctx, device, "", fmt.Errorf("reading live mounts: %w", err))
	}

	target, adopted := live[device.Devnode]
	if adopted {
		owned, err := c.owns(ctx, device, target)
		if err != nil {
			return "", c.failMount(ctx, device, "", err)
		}
		if !owned {
			if err := c.evict(ctx, device, target); err != nil {
				return "", c.failMount(ctx, device, target, err)
			}
			delete(live, device.Devnode)
			adopted = false
		}
	}
	if adopted {
		c.logger.Info("adopting existing mount", "devnode", device.Devnode, "mount_path", target)
	} else {
		target = c.mountTarget(device, live)
		if err := c.mounter.Mount(ctx, device.Devnode, target); err != nil {
			return "", c.failMount(ctx, device, target, err)
		}
		c.logger.Info("device mounted", "devnode", device.Devnode, "uuid", device.UUID, "mount_path", target)
	}

	if err := c.registry.MarkMounted(ctx, device, target); err != nil {
		return "", err
	}
	return target, nil
}

// evict unmounts a previous volume's mount of the devnode now holding device
// and retires the rows of the volumes that were on it.
func (c *Controller) evict(ctx context.Context, device *model.Device, stale string) error {
	c.logger.Warn("devnode still mounted for a previous volume", "devnode", device.Devnode, "mount_path", stale)
	if err := c.mounter.Unmount(ctx, stale); err != nil {
		return fmt.Errorf("unmounting stale mount %s: %w", stale, err)
	}

	devices, err := c.registry.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if d.ID == device.ID || d.Devnode != device.Devnode {
			continue
		}
		if err := c.registry.MarkRemoved(ctx, d); err != nil {
			return err
		}
		c.Forget(IdentityOf(d))
		c.logger.Info("device replaced on devnode", "devnode", d.Devnode, "device", IdentityOf(d).String(), "by", IdentityOf(device).String())
	}
	return nil
}

// owns reports whether a live mount of the device's devnode at path belongs
// to this volume: its own target, its recorded mount path, or a path no other
// volume can claim. Storage root entries named after another UUID, and paths
// recorded by another active device, are not ours.
func (c *Controller) owns(ctx context.Context, device *model.Device, path string) (bool, error) {
	if path == device.MountPath {
		return true, nil
	}
	if filepath.Dir(path) == filepath.Clean(c.storageRoot) {
		base := filepath.Base(path)
		if device.UUID != "" {
			return base == device.UUID, nil
		}
		if _, ok := diskSlot(base); !ok {
			return false, nil
		}
	}

	devices, err := c.registry.ListActive(ctx)
	if err != nil {
		return false, fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if d.ID != device.ID && d.MountPath == path {
			return false, nil
		}
	}
	return true, nil
}

// heldByOther reports whether another active device is recorded as mounted
// at target from holder.
func (c *Controller) heldByOther(ctx context.Context, device *model.Device, holder, target string) (bool, error) {
	devices, err := c.registry.ListActive(ctx)
	if err != nil {
		return false, fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if d.ID != device.ID && d.Devnode == holder && d.MountPath == target {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) failMount(ctx context.Context, device *model.Device, target string, cause error) error {
	mountErr := &MountError{Devnode: device.Devnode, Target: target, Err: cause}
	if err := c.transition(IdentityOf(device), StateMountFailed); err != nil {
		return errors.Join(mountErr, err)
	}
	if err := c.registry.MarkMountFailed(context.WithoutCancel(ctx), device); err != nil {
		return errors.Join(mountErr, err)
	}
	return mountErr
}

// Joined moves a device whose scan has been committed to Mounted.
func (c *Controller) Joined(device *model.Device) error {
	return c.transition(IdentityOf(device), StateMounted)
}

// Interrupted records that in-flight work for a device was cancelled before
// it could be committed. The device is left Unmounting, not Mounted.
func (c *Controller) Interrupted(device *model.Device) error {
	return c.transition(IdentityOf(device), StateUnmounting)
}

// Unmount takes a device down. When removed is true the device is gone and
// the registry flags it removed; otherwise this is an administrative eject
// and only the mount path is cleared.
func (c *Controller) Unmount(ctx context.Context, device *model.Device, removed bool) error {
	id := IdentityOf(device)
	if s := c.State(id); s == StateUnknown || s == StateDetached {
		// Not seen by this process yet, or ejected and now unplugged.
		if err := c.transition(id, StateDetected); err != nil {
			return err
		}
	}
	if err := c.transition(id, StateUnmounting); err != nil {
		return err
	}

	target := device.MountPath
	live, err := c.mounter.LiveMounts(ctx)
	if err != nil {
		return fmt.Errorf("reading live mounts: %w", err)
	}
	if p, ok := live[device.Devnode]; ok && p != target {
		owned, err := c.owns(ctx, device, p)
		if err != nil {
			return err
		}
		if owned {
			target = p
		}
	}

	holder, mounted := mountedBy(live, target)
	if mounted && holder != device.Devnode {
		// The path may since have been taken by whatever is on holder.
		taken, err := c.heldByOther(ctx, device, holder, target)
		if err != nil {
			return err
		}
		mounted = !taken
	}
	if mounted {
		if err := c.mounter.Unmount(ctx, target); err != nil {
			if !removed {
				return fmt.Errorf("unmounting %s: %w", target, err)
			}
			// The device is gone; a lazy unmount failure is not fatal.
			c.logger.Warn("unmount after removal failed", "mount_path", target, "error", err)
		} else {
			c.logger.Info("device unmounted", "devnode", device.Devnode, "mount_path", target)
		}
	}

	if removed {
		if err := c.registry.MarkRemoved(ctx, device); err != nil {
			return err
		}
	} else {
		if err := c.registry.MarkEjected(ctx, device); err != nil {
			return err
		}
	}
	if err := c.transition(id, StateDetached); err != nil {
		return err
	}

	c.mu.Lock()
	if removed {
		delete(c.ejected, id.Key())
	} else {
		c.ejected[id.Key()] = true
	}
	c.mu.Unlock()
	return nil
}

// Forget drops the in-memory state for an identity.
func (c *Controller) Forget(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, id.Key())
	delete(c.ejected, id.Key())
}

// LiveMounts exposes the mounter's view of the kernel mount table.
func (c *Controller) LiveMounts(ctx context.Context) (map[string]string, error) {
	return c.mounter.LiveMounts(ctx)
}

// mountTarget picks storageRoot/<uuid>, or the first storageRoot/diskN that
// nothing is mounted on for volumes without a UUID.
func (c *Controller) mountTarget(device *model.Device, live map[string]string) string {
	if device.UUID != "" {
		return filepath.Join(c.storageRoot, device.UUID)
	}

	used := make(map[int]bool)
	for _, p := range live {
		if filepath.Dir(p) != filepath.Clean(c.storageRoot) {
			continue
		}
		if i, ok := diskSlot(filepath.Base(p)); ok {
			used[i] = true
		}
	}
	for i := 0; ; i++ {
		if !used[i] {
			return filepath.Join(c.storageRoot, "disk"+strconv.Itoa(i))
		}
	}
}

// diskSlot parses a diskN mount directory name.
func diskSlot(name string) (int, bool) {
	n, ok := strings.CutPrefix(name, "disk")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(n)
	return i, err == nil && i >= 0
}

// mountedBy returns the devnode mounted at target.
func mountedBy(live map[string]string, target string) (string, bool) {
	if target == "" {
		return "", false
	}
	for devnode, p := range live {
		if p == target {
			return devnode, true
		}
	}
	return "", false
}
