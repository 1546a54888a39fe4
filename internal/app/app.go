package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"devcat/internal/config"
	"devcat/internal/database"
	"devcat/internal/devcat"
	"devcat/internal/encryption"
	"devcat/internal/hotplug"
	"devcat/internal/model"
	"devcat/internal/mount"
	"devcat/internal/vault"
)

// CatalogName is the vault metadata item holding catalog snapshots.
const CatalogName = "catalog"

// App is the application layer between the CLI and the reconciliation
// engine. It constructs all dependencies from config and manages the
// database lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	vault     devcat.Vault // nil when no vault is configured
	encryptor devcat.Encryptor
	fs        afero.Fs
	mounter   devcat.Mounter
	clock     clockwork.Clock

	logger   *slog.Logger
	log      devcat.Logger
	closeLog func() error
	runID    string

	// byUUIDDir resolves the UUID of a devnode given without one.
	byUUIDDir string
	lock      *fileLock // held by Run, Reconcile and Eject until Close

	// dirty is set once the catalog may have changed; Close then uploads
	// a snapshot.
	dirty bool
}

// New creates a fully wired App from the given config. The caller must
// call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	return newApp(ctx, cfg, clockwork.NewRealClock(), os.Stderr)
}

func newApp(ctx context.Context, cfg *config.Config, clock clockwork.Clock, stderr io.Writer) (*App, error) {
	runID := clock.Now().UTC().Format("20060102T150405Z")
	logger, closeLog, err := newLogger(cfg, runID, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		log:       &slogAdapter{l: logger},
		closeLog:  closeLog,
		runID:     runID,
		byUUIDDir: hotplug.DefaultByUUIDDir,
	}

	if err := a.open(ctx); err != nil {
		_ = a.closeLog()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	if len(a.cfg.Vaults) > 0 {
		v, err := vault.NewVaultFromConfig(ctx, a.cfg.Vaults[0])
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v
	}

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	a.fs = afero.NewOsFs()
	if a.cfg.Mount.Type == "memory" {
		a.fs = afero.NewMemMapFs()
	}
	m, err := mount.NewMounterFromConfig(a.cfg.Mount, a.fs, a.log)
	if err != nil {
		return fmt.Errorf("creating mounter: %w", err)
	}
	a.mounter = m

	db, err := database.NewDatabaseFromConfig(a.cfg.Database, a.cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return fmt.Errorf("database schema out of date: %w", err)
	}

	if a.vault != nil {
		// A newer snapshot in the vault means this catalog is stale.
		remoteVersion, err := a.vault.GetMetadataVersion(ctx, a.cfg.HostID, CatalogName)
		if err != nil {
			db.Close()
			return fmt.Errorf("checking remote catalog version: %w", err)
		}
		localMax, err := db.MaxScanID(ctx)
		if err != nil {
			db.Close()
			return fmt.Errorf("checking local catalog version: %w", err)
		}
		if remoteVersion > localMax {
			db.Close()
			return fmt.Errorf("local catalog is behind the vault (local=%d, remote=%d): restore with 'devcat catalog restore' or re-initialize", localMax, remoteVersion)
		}
	}

	a.db = db
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Devices returns registry rows, including removed devices when all is set.
func (a *App) Devices(ctx context.Context, all bool) ([]*model.Device, error) {
	return a.db.ListDevices(ctx, all)
}

// History returns the most recent scans, newest first.
func (a *App) History(ctx context.Context, limit int) ([]*model.Scan, error) {
	return a.db.ListScans(ctx, limit)
}

// Run runs the daemon until ctx is done: it reconciles the registry with
// the devices present at startup, then follows device events and the
// periodic scheduler.
func (a *App) Run(ctx context.Context) error {
	if err := a.exclusive(); err != nil {
		return err
	}
	e := a.newEngine()
	defer e.coordinator.Close()

	source, err := hotplug.NewSourceFromConfig(a.cfg.Hotplug, e.seq, a.clock, a.log)
	if err != nil {
		return fmt.Errorf("creating device source: %w", err)
	}

	present, err := source.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	a.dirty = true
	if _, err := e.coordinator.Recover(ctx, present); err != nil {
		return fmt.Errorf("recovering: %w", err)
	}

	if err := source.Start(ctx); err != nil {
		return fmt.Errorf("starting device source: %w", err)
	}
	defer source.Stop()

	a.logger.Info("daemon started",
		"host_id", a.cfg.HostID,
		"hotplug", a.cfg.Hotplug.Type,
		"storage_root", a.cfg.Mount.StorageRoot,
		"present", len(present),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.coordinator.Run(gctx, source); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("device source closed")
		}
		return nil
	})
	g.Go(func() error {
		return e.coordinator.RunScheduler(gctx, source, a.cfg.Coordinator.ScanInterval.Std(), a.cfg.Coordinator.RescanMounted)
	})

	err = g.Wait()
	a.logger.Info("daemon stopping")
	return err
}

// Reconcile mounts and scans one device now, as if it had just been
// plugged in. It is meant for hosts without a hotplug source, or for use
// while the daemon is stopped.
func (a *App) Reconcile(ctx context.Context, devnode, uuid string) (*model.Device, error) {
	if err := a.exclusive(); err != nil {
		return nil, err
	}
	uuid, err := a.resolveUUID(devnode, uuid)
	if err != nil {
		return nil, err
	}

	e := a.newEngine()
	defer e.coordinator.Close()

	a.dirty = true
	e.coordinator.Submit(devcat.Event{Kind: devcat.EventAdded, Devnode: devnode, UUID: uuid})
	e.coordinator.Wait()

	device, err := e.registry.Lookup(ctx, devcat.Identity{UUID: uuid, Devnode: devnode})
	if err != nil {
		return nil, err
	}
	if device == nil || device.Devnode != devnode || !device.Mounted() {
		return device, fmt.Errorf("%s was not reconciled, see %s for details", devnode, LogFileName)
	}
	scan, err := a.db.LatestScan(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	if scan == nil || !scan.Completed() {
		return device, fmt.Errorf("scan of %s did not complete, see %s for details", devnode, LogFileName)
	}
	return device, nil
}

// Eject unmounts a device without flagging it removed.
func (a *App) Eject(ctx context.Context, devnode, uuid string) error {
	if err := a.exclusive(); err != nil {
		return err
	}
	uuid, err := a.resolveUUID(devnode, uuid)
	if err != nil {
		return err
	}

	e := a.newEngine()
	defer e.coordinator.Close()

	id := devcat.Identity{UUID: uuid, Devnode: devnode}
	device, err := e.registry.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if device == nil || device.Removed {
		return fmt.Errorf("unknown device %s", id)
	}
	id = devcat.IdentityOf(device)

	a.dirty = true
	e.coordinator.Eject(id)
	e.coordinator.Wait()

	device, err = e.registry.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if device.MountPath != "" {
		return fmt.Errorf("%s is still mounted at %s, see %s for details", devnode, device.MountPath, LogFileName)
	}
	return nil
}

// resolveUUID returns uuid, or the UUID udev links to devnode when uuid is
// empty. A devnode without a link keeps an empty UUID.
func (a *App) resolveUUID(devnode, uuid string) (string, error) {
	if uuid != "" {
		return uuid, nil
	}
	found, err := hotplug.LookupUUID(a.byUUIDDir, devnode)
	if err != nil {
		return "", fmt.Errorf("resolving uuid of %s: %w", devnode, err)
	}
	if found != "" {
		a.logger.Debug("resolved device uuid", "devnode", devnode, "uuid", found)
	}
	return found, nil
}

// Close closes all resources. If the catalog may have changed and a vault
// is configured, a snapshot is uploaded first.
func (a *App) Close() error {
	var errs []error

	if a.dirty && a.vault != nil {
		if _, err := a.BackupCatalog(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if a.lock != nil {
		if err := a.lock.release(); err != nil {
			errs = append(errs, err)
		}
		a.lock = nil
	}
	if err := a.closeLog(); err != nil {
		errs = append(errs, fmt.Errorf("closing log: %w", err))
	}
	return errors.Join(errs...)
}
