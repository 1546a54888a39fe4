package app

import (
	"devcat/internal/devcat"
	"devcat/internal/fs"
)

type engine struct {
	seq         *devcat.Sequencer
	registry    *devcat.Registry
	coordinator *devcat.Coordinator
}

// newEngine wires a reconciliation engine over the app's database and
// mounter. The caller must close the coordinator.
func (a *App) newEngine() *engine {
	seq := &devcat.Sequencer{}
	registry := devcat.NewRegistry(a.db, a.clock, a.log)
	controller := devcat.NewController(registry, a.mounter, a.cfg.Mount.StorageRoot, a.log)
	walker := fs.NewWalker(a.fs, a.cfg.Indexer.Ignore, a.cfg.Indexer.SniffContentType, a.log)
	indexer := devcat.NewIndexer(walker, a.log)

	coordinator := devcat.NewCoordinator(a.db, controller, indexer, seq, devcat.UUIDGenerator{}, a.clock, a.log, devcat.CoordinatorOptions{
		Workers:       a.cfg.Coordinator.Workers,
		RetryInterval: a.cfg.Coordinator.RetryInterval.Std(),
	})

	return &engine{
		seq:         seq,
		registry:    registry,
		coordinator: coordinator,
	}
}
