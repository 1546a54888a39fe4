package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"devcat/internal/database"
	"devcat/internal/devcat"
	"devcat/internal/fs"
	"devcat/internal/hotplug"
	"devcat/internal/model"
	"devcat/internal/mount"
)

// StorageRoot is where Engine mounts volumes.
const StorageRoot = "/mnt/storage_pool"

// Engine is a complete reconciliation engine running against an in-memory
// database and simulated block devices.
type Engine struct {
	DB          *database.SQLiteDatabase
	Fs          afero.Fs
	Mounter     *mount.MemoryMounter
	Clock       *clockwork.FakeClock
	IDs         *StubIDGenerator
	Seq         *devcat.Sequencer
	Source      *hotplug.ManualSource
	Registry    *devcat.Registry
	Controller  *devcat.Controller
	Indexer     *devcat.Indexer
	Coordinator *devcat.Coordinator
}

// NewEngine wires an Engine. The coordinator is closed when the test ends.
func NewEngine(t *testing.T, opts devcat.CoordinatorOptions) *Engine {
	t.Helper()

	e := &Engine{
		DB:    NewTestDatabase(t),
		Fs:    afero.NewMemMapFs(),
		Clock: NewFakeClock(),
		IDs:   NewStubIDGenerator(),
		Seq:   &devcat.Sequencer{},
	}
	logger := devcat.NewNopLogger()

	e.Mounter = mount.NewMemoryMounter(e.Fs)
	e.Source = hotplug.NewManualSource(e.Seq)
	e.Registry = devcat.NewRegistry(e.DB, e.Clock, logger)
	e.Controller = devcat.NewController(e.Registry, e.Mounter, StorageRoot, logger)
	e.Indexer = devcat.NewIndexer(fs.NewWalker(e.Fs, nil, false, logger), logger)
	e.Coordinator = devcat.NewCoordinator(e.DB, e.Controller, e.Indexer, e.Seq, e.IDs, e.Clock, logger, opts)

	t.Cleanup(e.Coordinator.Close)
	return e
}

// Insert puts a medium holding files (relative path -> content) in devnode.
func (e *Engine) Insert(devnode string, files map[string]string) {
	media := make(map[string][]byte, len(files))
	for rel, content := range files {
		media[rel] = []byte(content)
	}
	e.Mounter.Insert(devnode, media)
}

// Added submits an Added event and waits for the coordinator to go idle.
func (e *Engine) Added(devnode, uuid string) {
	e.Coordinator.Submit(devcat.Event{Kind: devcat.EventAdded, Devnode: devnode, UUID: uuid})
	e.Coordinator.Wait()
}

// Removed submits a Removed event and waits for the coordinator to go idle.
func (e *Engine) Removed(devnode, uuid string) {
	e.Coordinator.Submit(devcat.Event{Kind: devcat.EventRemoved, Devnode: devnode, UUID: uuid})
	e.Coordinator.Wait()
}

// MountPath returns where a volume with uuid is mounted by Engine.
func MountPath(uuid string) string {
	return filepath.Join(StorageRoot, uuid)
}

// ActiveFiles returns the non-deleted rows under mountPath.
func (e *Engine) ActiveFiles(t *testing.T, mountPath string) []*model.File {
	t.Helper()
	files, err := e.DB.FindActiveFilesUnder(context.Background(), mountPath)
	if err != nil {
		t.Fatalf("FindActiveFilesUnder() error = %v", err)
	}
	return files
}

// Device returns the registry row for id, failing the test if there is none.
func (e *Engine) Device(t *testing.T, id devcat.Identity) *model.Device {
	t.Helper()
	d, err := e.Registry.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if d == nil {
		t.Fatalf("no device for %s", id)
	}
	return d
}
