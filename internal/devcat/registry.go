package devcat

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"devcat/internal/model"
)

// Registry is the durable record of every device ever seen.
// Every method writes through to the database before returning.
type Registry struct {
	database Database
	clock    clockwork.Clock
	logger   Logger
}

// NewRegistry creates a Registry backed by database.
func NewRegistry(database Database, clock clockwork.Clock, logger Logger) *Registry {
	return &Registry{
		database: database,
		clock:    clock,
		logger:   logger,
	}
}

// Observe resolves a sighting of (devnode, uuid) to a registry row, creating
// one if the volume is new. Lookup is by UUID when one is given and by devnode
// otherwise; see byDevnode. A matched row has its devnode and last_seen refreshed and is
// revived if it was flagged removed.
//
// Returns a *ConflictError when the UUID belongs to a live row that is
// currently mounted from a different devnode.
func (r *Registry) Observe(ctx context.Context, devnode, uuid string) (*model.Device, error) {
	if devnode == "" {
		return nil, fmt.Errorf("observing device: empty devnode")
	}
	now := r.clock.Now()

	var existing *model.Device
	var err error
	if uuid != "" {
		existing, err = r.database.FindDeviceByUUID(ctx, uuid)
		if err != nil {
			return nil, fmt.Errorf("looking up device by uuid: %w", err)
		}
		if existing != nil && !existing.Removed && existing.Devnode != devnode && existing.Mounted() {
			return nil, &ConflictError{
				UUID:      uuid,
				Devnode:   devnode,
				ClaimedBy: existing.Devnode,
				MountPath: existing.MountPath,
			}
		}
	} else {
		existing, err = r.byDevnode(ctx, devnode)
		if err != nil {
			return nil, err
		}
	}

	if existing == nil {
		device, err := r.database.CreateDevice(ctx, devnode, uuid, now)
		if err != nil {
			return nil, fmt.Errorf("creating device: %w", err)
		}
		r.logger.Info("device registered", "id", device.ID, "devnode", devnode, "uuid", uuid)
		return device, nil
	}

	device, err := r.database.ObserveDevice(ctx, existing.ID, devnode, now)
	if err != nil {
		return nil, fmt.Errorf("updating device: %w", err)
	}
	if existing.Removed {
		r.logger.Info("device reinserted", "id", device.ID, "devnode", devnode, "previous_devnode", existing.Devnode, "uuid", uuid)
	}
	return device, nil
}

// MarkMounted records a successful mount at mountPath.
// The joined flag is set separately, in the same transaction that applies
// the device's first completed scan.
func (r *Registry) MarkMounted(ctx context.Context, device *model.Device, mountPath string) error {
	if err := r.database.SetDeviceMounted(ctx, device.ID, mountPath, r.clock.Now()); err != nil {
		return fmt.Errorf("marking device mounted: %w", err)
	}
	device.MountSuccess = true
	device.MountPath = mountPath
	return nil
}

// MarkMountFailed records a failed mount attempt.
func (r *Registry) MarkMountFailed(ctx context.Context, device *model.Device) error {
	if err := r.database.SetDeviceMountFailed(ctx, device.ID, r.clock.Now()); err != nil {
		return fmt.Errorf("marking device mount failed: %w", err)
	}
	device.MountSuccess = false
	device.MountPath = ""
	return nil
}

// ClearMount records that a device believed mounted is not. Used when the
// kernel mount table disagrees with the registry after a restart.
func (r *Registry) ClearMount(ctx context.Context, device *model.Device) error {
	if err := r.database.SetDeviceMountFailed(ctx, device.ID, device.LastSeen); err != nil {
		return fmt.Errorf("clearing device mount: %w", err)
	}
	device.MountSuccess = false
	device.MountPath = ""
	return nil
}

// MarkEjected clears the mount path after an administrative unmount.
func (r *Registry) MarkEjected(ctx context.Context, device *model.Device) error {
	if err := r.database.SetDeviceEjected(ctx, device.ID, r.clock.Now()); err != nil {
		return fmt.Errorf("marking device ejected: %w", err)
	}
	device.MountPath = ""
	return nil
}

// MarkRemoved flags the device as gone. The UUID is kept so the volume is
// recognised when it comes back.
func (r *Registry) MarkRemoved(ctx context.Context, device *model.Device) error {
	if err := r.database.SetDeviceRemoved(ctx, device.ID, r.clock.Now()); err != nil {
		return fmt.Errorf("marking device removed: %w", err)
	}
	device.Removed = true
	device.MountSuccess = false
	device.MountPath = ""
	return nil
}

// Lookup finds the row for an identity without recording a sighting.
func (r *Registry) Lookup(ctx context.Context, id Identity) (*model.Device, error) {
	if id.UUID != "" {
		return r.database.FindDeviceByUUID(ctx, id.UUID)
	}
	return r.byDevnode(ctx, id.Devnode)
}

// byDevnode prefers a row without a UUID on devnode and falls back to the
// newest active row seen there.
func (r *Registry) byDevnode(ctx context.Context, devnode string) (*model.Device, error) {
	d, err := r.database.FindDeviceByDevnode(ctx, devnode)
	if err != nil {
		return nil, fmt.Errorf("looking up device by devnode: %w", err)
	}
	if d != nil {
		return d, nil
	}
	d, err = r.database.FindActiveDeviceByDevnode(ctx, devnode)
	if err != nil {
		return nil, fmt.Errorf("looking up device by devnode: %w", err)
	}
	return d, nil
}

// ListActive returns the devices that are not flagged removed.
func (r *Registry) ListActive(ctx context.Context) ([]*model.Device, error) {
	return r.database.ListDevices(ctx, false)
}

// ListAll returns every device ever seen.
func (r *Registry) ListAll(ctx context.Context) ([]*model.Device, error) {
	return r.database.ListDevices(ctx, true)
}
