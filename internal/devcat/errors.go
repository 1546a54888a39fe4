package devcat

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned by the mount controller when an operation
// is not valid in the device's current state.
var ErrIllegalTransition = errors.New("illegal state transition")

var (
	// ErrSnapshotNotFound is returned by a Vault asked for an item it never
	// stored.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotOutdated is returned by a Vault asked to store a version
	// older than the one it holds. Another host, or a restored copy of this
	// one, has moved the catalog on.
	ErrSnapshotOutdated = errors.New("vault holds a newer snapshot")
)

// ConflictError reports a UUID claimed by a registry row that is mounted from
// a different devnode. It is surfaced to the operator and never resolved
// automatically.
type ConflictError struct {
	UUID      string
	Devnode   string // devnode of the new observation
	ClaimedBy string // devnode of the mounted registry row
	MountPath string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("uuid %s observed on %s is already mounted from %s at %s", e.UUID, e.Devnode, e.ClaimedBy, e.MountPath)
}

// MountError reports a failed mount attempt. The device stays eligible for a
// retry on its next detection.
type MountError struct {
	Devnode string
	Target  string
	Err     error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mounting %s at %s: %v", e.Devnode, e.Target, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

// ScanError aborts a reconciliation. File rows are left as they were.
type ScanError struct {
	MountPath string
	Err       error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scanning %s: %v", e.MountPath, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// StorageError reports a constraint violation in the metadata store, such as
// a duplicate file key. It means a bug or a race and fails the attempt.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
