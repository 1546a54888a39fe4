// Package devcat keeps a catalog of the files stored on removable volumes.
//
// Block devices come and go. Each observation is routed through a per-device
// serial queue, the device is mounted under the storage root, its contents
// are walked and the files table is reconciled against what was found. File
// rows are never updated in place: new paths and changed sizes get new rows
// with new keys, and missing paths are soft-deleted.
package devcat

import (
	"fmt"
	"sync/atomic"
	"time"

	"devcat/internal/model"
)

// Identity names a physical volume. The UUID is preferred; a devnode is only
// used for volumes whose filesystem carries no UUID.
type Identity struct {
	UUID    string
	Devnode string
}

// IdentityOf returns the identity of a registry row.
func IdentityOf(d *model.Device) Identity {
	return Identity{UUID: d.UUID, Devnode: d.Devnode}
}

// Key returns the string used to serialize work per volume.
func (i Identity) Key() string {
	if i.UUID != "" {
		return "uuid:" + i.UUID
	}
	return "devnode:" + i.Devnode
}

func (i Identity) String() string {
	if i.UUID != "" {
		return fmt.Sprintf("%s (%s)", i.UUID, i.Devnode)
	}
	return i.Devnode
}

// EventKind is the kind of a device event.
type EventKind int

const (
	// EventAdded reports that a device is present.
	EventAdded EventKind = iota + 1
	// EventRemoved reports that a device has disappeared.
	EventRemoved
	// EventEject asks for an administrative unmount of a present device.
	EventEject
	// EventRescan asks for a fresh scan of a mounted device.
	EventRescan
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventEject:
		return "eject"
	case EventRescan:
		return "rescan"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a single device notification. Seq orders events from all
// producers; an event whose Seq is not newer than the last accepted one for
// the same volume is discarded as stale.
type Event struct {
	Kind    EventKind
	Devnode string
	UUID    string
	Seq     uint64
	At      time.Time
}

// Identity returns the volume this event is about.
func (e Event) Identity() Identity {
	return Identity{UUID: e.UUID, Devnode: e.Devnode}
}

// Sequencer hands out monotonically increasing event sequence numbers.
// One Sequencer is shared by every event producer in a process.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number. The first value is 1.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}
