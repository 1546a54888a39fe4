package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"devcat/internal/config"
	"devcat/internal/database"
	"devcat/internal/mount"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig("test-host", dir)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Mount.Type = "memory"
	cfg.Hotplug.Type = "none"
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	cfg.Vaults = []config.VaultConfig{{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(dir, "vault")}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, clock clockwork.Clock) *App {
	t.Helper()
	a, err := newApp(context.Background(), cfg, clock, io.Discard)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	return a
}

func memoryMounter(t *testing.T, a *App) *mount.MemoryMounter {
	t.Helper()
	m, ok := a.mounter.(*mount.MemoryMounter)
	if !ok {
		t.Fatalf("mounter is %T, want *mount.MemoryMounter", a.mounter)
	}
	return m
}

func TestApp_ReconcileBackupRestore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a := newTestApp(t, cfg, clockwork.NewFakeClockAt(testTime))

	memoryMounter(t, a).Insert("/dev/sdb1", map[string][]byte{"photo.jpg": make([]byte, 100)})

	device, err := a.Reconcile(ctx, "/dev/sdb1", "abc-1")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if device.MountPath != "/mnt/storage_pool/abc-1" || !device.Joined {
		t.Errorf("Reconcile() device = %+v", device)
	}

	devices, err := a.Devices(ctx, false)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Devices() = %d, want 1", len(devices))
	}
	scans, err := a.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(scans) != 1 || !scans[0].Completed() {
		t.Fatalf("History() = %+v, want one completed scan", scans)
	}

	// Close uploads a snapshot because the catalog changed.
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored.db")
	version, err := RestoreCatalog(ctx, cfg, dest, "")
	if err != nil {
		t.Fatalf("RestoreCatalog() error = %v", err)
	}
	if version != scans[0].ID {
		t.Errorf("RestoreCatalog() version = %d, want %d", version, scans[0].ID)
	}

	restored, err := database.NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening restored catalog: %v", err)
	}
	defer restored.Close()
	files, err := restored.FindActiveFilesUnder(ctx, "/mnt/storage_pool/abc-1")
	if err != nil {
		t.Fatalf("FindActiveFilesUnder() error = %v", err)
	}
	if len(files) != 1 || files[0].Filename != "photo.jpg" {
		t.Errorf("restored files = %+v", files)
	}

	if _, err := RestoreCatalog(ctx, cfg, dest, ""); err == nil {
		t.Error("RestoreCatalog() should refuse to overwrite an existing file")
	}

	// A fresh, empty catalog is behind the vault.
	_, err = newApp(ctx, cfg, clockwork.NewFakeClockAt(testTime), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "behind") {
		t.Errorf("newApp() error = %v, want catalog behind vault", err)
	}
}

func TestApp_ReconcileMountFailure(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), clockwork.NewFakeClockAt(testTime))
	defer a.Close()

	m := memoryMounter(t, a)
	m.Insert("/dev/sdb1", nil)
	m.Fail("/dev/sdb1", errors.New("wrong fs type"))

	if _, err := a.Reconcile(ctx, "/dev/sdb1", "abc-1"); err == nil {
		t.Fatal("Reconcile() expected error for failed mount")
	}
}

func TestApp_Eject(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), clockwork.NewFakeClockAt(testTime))
	defer a.Close()

	memoryMounter(t, a).Insert("/dev/sdb1", map[string][]byte{"a.txt": []byte("a")})
	if _, err := a.Reconcile(ctx, "/dev/sdb1", "abc-1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if err := a.Eject(ctx, "/dev/sdb1", "abc-1"); err != nil {
		t.Fatalf("Eject() error = %v", err)
	}
	devices, err := a.Devices(ctx, false)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].MountPath != "" {
		t.Errorf("Devices() after Eject = %+v", devices)
	}

	if err := a.Eject(ctx, "/dev/sdz1", "nope"); err == nil {
		t.Error("Eject() expected error for unknown device")
	}
}

func TestApp_RunRecoversAndStops(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	clock := clockwork.NewFakeClockAt(testTime)
	a := newTestApp(t, cfg, clock)
	defer a.Close()

	memoryMounter(t, a).Insert("/dev/sdb1", map[string][]byte{"a.txt": []byte("a")})
	if _, err := a.Reconcile(ctx, "/dev/sdb1", "abc-1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx) }()

	// The scheduler's ticker is the last thing Run sets up.
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("Run() did not start: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}

	// No hotplug source reported the device, but it is still mounted.
	devices, err := a.Devices(ctx, true)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].Removed || devices[0].MountPath != "/mnt/storage_pool/abc-1" {
		t.Errorf("Devices() after Run = %+v, want the device kept mounted", devices)
	}
}

func TestApp_RunFlagsUnmountedDevicesRemoved(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(testTime)
	a := newTestApp(t, testConfig(t), clock)
	defer a.Close()

	memoryMounter(t, a).Insert("/dev/sdb1", map[string][]byte{"a.txt": []byte("a")})
	if _, err := a.Reconcile(ctx, "/dev/sdb1", "abc-1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if err := a.Eject(ctx, "/dev/sdb1", "abc-1"); err != nil {
		t.Fatalf("Eject() error = %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("Run() did not start: %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	devices, err := a.Devices(ctx, true)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 || !devices[0].Removed {
		t.Errorf("Devices() after Run = %+v, want the device removed", devices)
	}
}

func TestApp_DevnodeWithoutUUID(t *testing.T) {
	ctx := context.Background()

	t.Run("reconcile resolves the uuid from by-uuid links", func(t *testing.T) {
		a := newTestApp(t, testConfig(t), clockwork.NewFakeClockAt(testTime))
		defer a.Close()
		a.byUUIDDir = t.TempDir()
		if err := os.Symlink("/dev/sdb1", filepath.Join(a.byUUIDDir, "abc-1")); err != nil {
			t.Fatalf("Symlink() error = %v", err)
		}

		memoryMounter(t, a).Insert("/dev/sdb1", map[string][]byte{"a.txt": []byte("a")})
		device, err := a.Reconcile(ctx, "/dev/sdb1", "")
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if device.UUID != "abc-1" || device.MountPath != "/mnt/storage_pool/abc-1" {
			t.Errorf("Reconcile() without uuid = %+v, want abc-1 at its own mount", device)
		}

		again, err := a.Reconcile(ctx, "/dev/sdb1", "")
		if err != nil {
			t.Fatalf("Reconcile() again error = %v", err)
		}
		if again.ID != device.ID {
			t.Errorf("Reconcile() again used row %d, want %d", again.ID, device.ID)
		}
		devices, err := a.Devices(ctx, true)
		if err != nil {
			t.Fatalf("Devices() error = %v", err)
		}
		if len(devices) != 1 {
			t.Errorf("Devices() = %d rows, want 1", len(devices))
		}
	})

	t.Run("eject falls back to the volume on the devnode", func(t *testing.T) {
		a := newTestApp(t, testConfig(t), clockwork.NewFakeClockAt(testTime))
		defer a.Close()
		a.byUUIDDir = t.TempDir()

		memoryMounter(t, a).Insert("/dev/sdb1", map[string][]byte{"a.txt": []byte("a")})
		if _, err := a.Reconcile(ctx, "/dev/sdb1", "abc-1"); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if err := a.Eject(ctx, "/dev/sdb1", ""); err != nil {
			t.Fatalf("Eject() without uuid error = %v", err)
		}
		devices, err := a.Devices(ctx, false)
		if err != nil {
			t.Fatalf("Devices() error = %v", err)
		}
		if len(devices) != 1 || devices[0].MountPath != "" || devices[0].Removed {
			t.Errorf("Devices() after Eject = %+v, want one ejected device", devices)
		}
	})
}

func TestApp_ExclusiveLock(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Vaults = nil

	first := newTestApp(t, cfg, clockwork.NewFakeClockAt(testTime))
	memoryMounter(t, first).Insert("/dev/sdb1", nil)
	if _, err := first.Reconcile(ctx, "/dev/sdb1", "abc-1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	second := newTestApp(t, cfg, clockwork.NewFakeClockAt(testTime))
	defer second.Close()
	memoryMounter(t, second).Insert("/dev/sdb1", nil)
	if _, err := second.Reconcile(ctx, "/dev/sdb1", "abc-1"); !errors.Is(err, ErrLocked) {
		t.Errorf("Reconcile() while locked error = %v, want ErrLocked", err)
	}
	if err := second.Eject(ctx, "/dev/sdb1", "abc-1"); !errors.Is(err, ErrLocked) {
		t.Errorf("Eject() while locked error = %v, want ErrLocked", err)
	}
	if err := second.Run(ctx); !errors.Is(err, ErrLocked) {
		t.Errorf("Run() while locked error = %v, want ErrLocked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := second.Reconcile(ctx, "/dev/sdb1", "abc-1"); err != nil {
		t.Errorf("Reconcile() after the lock was released error = %v", err)
	}
}

func TestApp_BackupWithoutVault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vaults = nil
	a := newTestApp(t, cfg, clockwork.NewFakeClockAt(testTime))
	defer a.Close()

	if _, err := a.BackupCatalog(context.Background()); !errors.Is(err, ErrNoVault) {
		t.Errorf("BackupCatalog() error = %v, want ErrNoVault", err)
	}
}
