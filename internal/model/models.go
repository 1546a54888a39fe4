package model

import "time"

// Scan statuses stored in scans.status.
const (
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
	ScanCancelled = "cancelled"
)

// Device represents a block device that has been observed at least once.
// Rows are never deleted; a device that disappears is flagged Removed.
type Device struct {
	ID           int64
	Devnode      string    // e.g. /dev/sdb1, reusable by the kernel
	UUID         string    // filesystem UUID, empty when the volume has none
	Removed      bool      // device disappeared
	Joined       bool      // completed at least one mount+scan cycle
	MountSuccess bool      // outcome of the most recent mount attempt
	MountPath    string    // empty unless currently mounted
	LastSeen     time.Time // second precision
}

// Mounted reports whether the registry believes the device is mounted.
func (d *Device) Mounted() bool {
	return d.MountSuccess && d.MountPath != ""
}

// File represents one observed revision of a file on a device.
// Keys are never reused; a changed file gets a new row and a new key.
type File struct {
	ID          int64
	Key         string
	Filename    string
	ContentType string // empty when unknown
	Size        int64
	Path        string // absolute path under the device's mount path
	CreatedAt   time.Time
	Deleted     bool
}

// Scan records one reconciliation attempt of a device's contents.
type Scan struct {
	ID           int64
	DeviceID     int64
	MountPath    string
	StartedAt    time.Time
	FinishedAt   *time.Time // nil while running
	Status       string
	FilesAdded   int64
	FilesRemoved int64
	FilesRevised int64
}

// Completed reports whether the scan finished and its diff was applied.
func (s *Scan) Completed() bool {
	return s.Status == ScanCompleted
}
