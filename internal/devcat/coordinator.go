package devcat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"devcat/internal/model"
	"devcat/internal/syncutil"
)

// CoordinatorOptions tunes the coordinator.
type CoordinatorOptions struct {
	// Workers bounds how many devices may mount or scan at once.
	Workers int
	// RetryInterval is the minimum time between mount attempts for a device
	// whose last mount failed.
	RetryInterval time.Duration
}

// Coordinator runs reconciliations. Events for one volume are applied one at
// a time, in sequence order; different volumes proceed concurrently.
type Coordinator struct {
	registry   *Registry
	controller *Controller
	indexer    *Indexer
	database   Database
	idgen      IDGenerator
	clock      clockwork.Clock
	logger     Logger
	seq        *Sequencer

	retryInterval time.Duration
	slots         chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       syncutil.Mutex
	closed   bool
	queues   map[string]*deviceQueue
	lastSeq  map[string]uint64
	lanes    map[string][]*turn  // devnode -> events waiting on it, oldest first
	aliases  map[string]Identity // devnode -> last volume added on it
	limiters map[string]*rate.Limiter
}

// NewCoordinator wires the engine together.
func NewCoordinator(database Database, controller *Controller, indexer *Indexer, seq *Sequencer, idgen IDGenerator, clock clockwork.Clock, logger Logger, opts CoordinatorOptions) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		registry:      controller.registry,
		controller:    controller,
		indexer:       indexer,
		database:      database,
		idgen:         idgen,
		clock:         clock,
		logger:        logger,
		seq:           seq,
		retryInterval: opts.RetryInterval,
		slots:         make(chan struct{}, opts.Workers),
		ctx:           ctx,
		cancel:        cancel,
		queues:        make(map[string]*deviceQueue),
		lastSeq:       make(map[string]uint64),
		lanes:         make(map[string][]*turn),
		aliases:       make(map[string]Identity),
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Run submits events from source until ctx is done or the source closes
// its channel.
func (c *Coordinator) Run(ctx context.Context, source Source) error {
	events := source.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Submit(ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventAdded:
		return c.handleAdded(ctx, ev)
	case EventRemoved:
		return c.handleRemoved(ctx, ev, true)
	case EventEject:
		return c.handleRemoved(ctx, ev, false)
	case EventRescan:
		return c.handleRescan(ctx, ev)
	default:
		return fmt.Errorf("unknown event kind %v", ev.Kind)
	}
}

func (c *Coordinator) handleAdded(ctx context.Context, ev Event) error {
	id := ev.Identity()
	if c.controller.State(id) == StateMountFailed && !c.retryAllowed(id) {
		c.logger.Info("mount retry deferred", "device", id.String(), "retry_interval", c.retryInterval)
		if _, err := c.registry.Observe(ctx, ev.Devnode, ev.UUID); err != nil {
			return err
		}
		return nil
	}

	device, err := c.controller.Detect(ctx, ev.Devnode, ev.UUID)
	if err != nil {
		return err
	}

	if err := c.acquire(ctx); err != nil {
		return errors.Join(err, c.controller.Interrupted(device))
	}
	defer c.release()

	mountPath, err := c.controller.Mount(ctx, device)
	if err != nil {
		var mountErr *MountError
		if errors.As(err, &mountErr) && !errors.Is(err, context.Canceled) {
			c.noteMountFailure(id)
		}
		return err
	}

	return c.reconcileFiles(ctx, device, mountPath, true)
}

func (c *Coordinator) handleRemoved(ctx context.Context, ev Event, removed bool) error {
	device, err := c.registry.Lookup(ctx, ev.Identity())
	if err != nil {
		return fmt.Errorf("looking up device: %w", err)
	}
	if device == nil {
		c.logger.Debug("event for unknown device ignored", "devnode", ev.Devnode, "uuid", ev.UUID, "kind", ev.Kind.String())
		return nil
	}
	if ev.Devnode != "" && device.Devnode != ev.Devnode {
		// The volume has since been seen on another devnode.
		c.logger.Debug("event for previous devnode ignored", "devnode", ev.Devnode, "current_devnode", device.Devnode, "kind", ev.Kind.String())
		return nil
	}
	if device.Removed {
		return nil
	}
	if err := c.controller.Unmount(ctx, device, removed); err != nil {
		return err
	}
	if removed {
		c.dropLimiter(IdentityOf(device))
	}
	return nil
}

func (c *Coordinator) handleRescan(ctx context.Context, ev Event) error {
	device, err := c.registry.Lookup(ctx, ev.Identity())
	if err != nil {
		return fmt.Errorf("looking up device: %w", err)
	}
	if device == nil || device.Removed {
		return fmt.Errorf("rescan: unknown device %s", ev.Identity())
	}
	if c.controller.State(IdentityOf(device)) != StateMounted || !device.Mounted() {
		return fmt.Errorf("rescan: device %s is not mounted", IdentityOf(device))
	}

	if err := c.acquire(ctx); err != nil {
		return errors.Join(err, c.controller.Interrupted(device))
	}
	defer c.release()

	return c.reconcileFiles(ctx, device, device.MountPath, false)
}

// reconcileFiles scans a mounted device and applies the diff. The scan marker
// is opened before the walk and closed in the same transaction as the diff,
// so a crash in between leaves a running marker for recovery to find.
func (c *Coordinator) reconcileFiles(ctx context.Context, device *model.Device, mountPath string, joining bool) error {
	scan, err := c.database.StartScan(ctx, device.ID, mountPath, c.clock.Now())
	if err != nil {
		return c.abandon(ctx, device, nil, fmt.Errorf("opening scan: %w", err), joining)
	}

	commit, err := c.buildCommit(ctx, device, scan)
	if err == nil {
		err = c.database.CommitScan(ctx, commit)
	}
	if err != nil {
		return c.abandon(ctx, device, scan, err, joining)
	}

	if joining {
		if err := c.controller.Joined(device); err != nil {
			return err
		}
		c.dropLimiter(IdentityOf(device))
	}
	device.Joined = true

	c.logger.Info("scan committed",
		"device", IdentityOf(device).String(),
		"mount_path", mountPath,
		"scan_id", scan.ID,
		"added", len(commit.Inserts)-commit.Revised,
		"removed", len(commit.Deletes)-commit.Revised,
		"revised", commit.Revised,
	)
	return nil
}

func (c *Coordinator) buildCommit(ctx context.Context, device *model.Device, scan *model.Scan) (*ScanCommit, error) {
	active, err := c.database.FindActiveFilesUnder(ctx, scan.MountPath)
	if err != nil {
		return nil, fmt.Errorf("loading active files: %w", err)
	}
	stale, err := c.staleFiles(ctx, device, scan.MountPath)
	if err != nil {
		return nil, err
	}
	active = append(active, stale...)

	var observed []FileObservation
	for obs, err := range c.indexer.Scan(ctx, scan.MountPath) {
		if err != nil {
			return nil, err
		}
		observed = append(observed, obs)
	}

	plan := Plan(observed, active)
	commit := &ScanCommit{
		ScanID:     scan.ID,
		DeviceID:   device.ID,
		Revised:    plan.Revised,
		FinishedAt: c.clock.Now(),
	}
	for _, obs := range plan.Inserts {
		commit.Inserts = append(commit.Inserts, &model.File{
			Key:         c.idgen.New(),
			Filename:    obs.Filename,
			ContentType: obs.ContentType,
			Size:        obs.Size,
			Path:        obs.Path,
			CreatedAt:   scan.StartedAt,
		})
	}
	for _, f := range plan.Deletes {
		commit.Deletes = append(commit.Deletes, f.ID)
	}
	return commit, nil
}

// staleFiles returns the active rows recorded under the device's previous
// mount path when it has moved, unless another live device now owns that
// path. They take part in the diff and are retired by it.
func (c *Coordinator) staleFiles(ctx context.Context, device *model.Device, mountPath string) ([]*model.File, error) {
	last, err := c.database.LatestCompletedScan(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("loading previous scan: %w", err)
	}
	if last == nil || last.MountPath == mountPath {
		return nil, nil
	}

	devices, err := c.registry.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if d.ID != device.ID && d.MountPath == last.MountPath {
			return nil, nil
		}
	}

	files, err := c.database.FindActiveFilesUnder(ctx, last.MountPath)
	if err != nil {
		return nil, fmt.Errorf("loading files under previous mount path: %w", err)
	}
	if len(files) > 0 {
		c.logger.Info("retiring files from previous mount path", "device", IdentityOf(device).String(), "previous_mount_path", last.MountPath, "count", len(files))
	}
	return files, nil
}

// abandon closes a scan that will not be committed. File rows are untouched.
func (c *Coordinator) abandon(ctx context.Context, device *model.Device, scan *model.Scan, cause error, joining bool) error {
	status := model.ScanFailed
	cancelled := errors.Is(cause, context.Canceled)
	if cancelled {
		status = model.ScanCancelled
	}

	errs := []error{cause}
	if scan != nil {
		if err := c.database.FinishScan(context.WithoutCancel(ctx), scan.ID, status, c.clock.Now()); err != nil {
			errs = append(errs, fmt.Errorf("closing scan %d: %w", scan.ID, err))
		}
	}

	switch {
	case cancelled:
		errs = append(errs, c.controller.Interrupted(device))
	case joining:
		errs = append(errs, c.controller.transition(IdentityOf(device), StateMountFailed))
		c.noteMountFailure(IdentityOf(device))
	}
	return errors.Join(errs...)
}

func (c *Coordinator) limiter(id Identity) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[id.Key()]
	if !ok {
		limit := rate.Inf
		if c.retryInterval > 0 {
			limit = rate.Every(c.retryInterval)
		}
		l = rate.NewLimiter(limit, 1)
		c.limiters[id.Key()] = l
	}
	return l
}

func (c *Coordinator) dropLimiter(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limiters, id.Key())
}

// noteMountFailure spends the device's retry token so the next attempt waits
// a full retry interval.
func (c *Coordinator) noteMountFailure(id Identity) {
	c.limiter(id).AllowN(c.clock.Now(), 1)
}

func (c *Coordinator) retryAllowed(id Identity) bool {
	return c.limiter(id).AllowN(c.clock.Now(), 1)
}

func (c *Coordinator) report(key string, ev Event, err error) {
	var (
		conflictErr *ConflictError
		mountErr    *MountError
		scanErr     *ScanError
		storageErr  *StorageError
	)
	switch {
	case err == nil:
		c.logger.Debug("event handled", "device", key, "kind", ev.Kind.String(), "seq", ev.Seq)
	case errors.Is(err, context.Canceled):
		c.logger.Info("reconciliation cancelled", "device", key, "kind", ev.Kind.String(), "seq", ev.Seq)
	case errors.As(err, &conflictErr):
		c.logger.Error("device identity conflict", "uuid", conflictErr.UUID, "devnode", conflictErr.Devnode, "claimed_by", conflictErr.ClaimedBy, "mount_path", conflictErr.MountPath)
	case errors.As(err, &storageErr):
		c.logger.Error("storage error during reconciliation", "device", key, "op", storageErr.Op, "error", err)
	case errors.As(err, &mountErr):
		c.logger.Warn("mount failed", "device", key, "devnode", mountErr.Devnode, "target", mountErr.Target, "error", mountErr.Err)
	case errors.As(err, &scanErr):
		c.logger.Warn("scan failed", "device", key, "mount_path", scanErr.MountPath, "error", scanErr.Err)
	default:
		c.logger.Error("reconciliation failed", "device", key, "kind", ev.Kind.String(), "error", err)
	}
}
