package devcat

import (
	"context"
	"time"

	"devcat/internal/model"
)

// Database provides the metadata store used by the registry and the
// coordinator. Lookups return (nil, nil) when nothing matches.
// Constraint violations are returned as *StorageError.
type Database interface {
	// Device operations

	// FindDeviceByID returns a registry row by id.
	FindDeviceByID(ctx context.Context, id int64) (*model.Device, error)

	// FindDeviceByUUID returns the row claiming uuid, removed or not.
	FindDeviceByUUID(ctx context.Context, uuid string) (*model.Device, error)

	// FindDeviceByDevnode returns the newest row for devnode that has no UUID.
	FindDeviceByDevnode(ctx context.Context, devnode string) (*model.Device, error)

	// FindActiveDeviceByDevnode returns the newest non-removed row last seen
	// on devnode, with or without a UUID.
	FindActiveDeviceByDevnode(ctx context.Context, devnode string) (*model.Device, error)

	// CreateDevice inserts a new registry row.
	CreateDevice(ctx context.Context, devnode, uuid string, seen time.Time) (*model.Device, error)

	// ObserveDevice records a sighting: updates devnode and last_seen and
	// clears the removed flag.
	ObserveDevice(ctx context.Context, id int64, devnode string, seen time.Time) (*model.Device, error)

	// SetDeviceMounted records a successful mount at mountPath.
	SetDeviceMounted(ctx context.Context, id int64, mountPath string, seen time.Time) error

	// SetDeviceMountFailed records a failed mount attempt.
	SetDeviceMountFailed(ctx context.Context, id int64, seen time.Time) error

	// SetDeviceEjected clears the mount path after an administrative unmount.
	SetDeviceEjected(ctx context.Context, id int64, seen time.Time) error

	// SetDeviceRemoved flags the device as gone and clears its mount.
	SetDeviceRemoved(ctx context.Context, id int64, seen time.Time) error

	// ListDevices returns registry rows ordered by id.
	ListDevices(ctx context.Context, includeRemoved bool) ([]*model.Device, error)

	// File operations

	// FindActiveFilesUnder returns non-deleted files whose path is under
	// mountPath + "/", ordered by path.
	FindActiveFilesUnder(ctx context.Context, mountPath string) ([]*model.File, error)

	// FindFilesByPath returns every row ever recorded for path, oldest first.
	FindFilesByPath(ctx context.Context, path string) ([]*model.File, error)

	// Scan operations

	// StartScan opens a scan marker in the running state.
	StartScan(ctx context.Context, deviceID int64, mountPath string, at time.Time) (*model.Scan, error)

	// FinishScan closes a scan marker without touching files.
	FinishScan(ctx context.Context, scanID int64, status string, at time.Time) error

	// CommitScan applies a diff, closes the scan marker as completed and
	// marks the device joined, all in one transaction.
	CommitScan(ctx context.Context, commit *ScanCommit) error

	// LatestScan returns the newest scan marker for a device.
	LatestScan(ctx context.Context, deviceID int64) (*model.Scan, error)

	// LatestCompletedScan returns the newest completed scan for a device.
	LatestCompletedScan(ctx context.Context, deviceID int64) (*model.Scan, error)

	// ListScans returns the newest scans first.
	ListScans(ctx context.Context, limit int) ([]*model.Scan, error)

	// FailRunningScans closes every scan left in the running state.
	FailRunningScans(ctx context.Context, at time.Time) (int64, error)

	// MaxScanID returns the highest scan id, or 0.
	MaxScanID(ctx context.Context) (int64, error)

	// Close closes the database connection.
	Close() error
}

// ScanCommit is everything a completed scan writes.
type ScanCommit struct {
	ScanID     int64
	DeviceID   int64
	Inserts    []*model.File
	Deletes    []int64 // file row ids to soft-delete
	Revised    int     // inserts that replace a deleted row at the same path
	FinishedAt time.Time
}
