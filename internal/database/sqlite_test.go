package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"devcat/internal/devcat"
	"devcat/internal/model"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if _, err := db.db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func mustCreateDevice(t *testing.T, db *SQLiteDatabase, devnode, uuid string) *model.Device {
	t.Helper()
	d, err := db.CreateDevice(context.Background(), devnode, uuid, testTime)
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	return d
}

func file(key, path string, size int64) *model.File {
	return &model.File{
		Key:       key,
		Filename:  filepath.Base(path),
		Size:      size,
		Path:      path,
		CreatedAt: testTime,
	}
}

func mustCommit(t *testing.T, db *SQLiteDatabase, deviceID int64, mountPath string, inserts []*model.File, deletes []int64) *model.Scan {
	t.Helper()
	ctx := context.Background()
	scan, err := db.StartScan(ctx, deviceID, mountPath, testTime)
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	err = db.CommitScan(ctx, &devcat.ScanCommit{
		ScanID:     scan.ID,
		DeviceID:   deviceID,
		Inserts:    inserts,
		Deletes:    deletes,
		FinishedAt: testTime.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("CommitScan() error = %v", err)
	}
	return scan
}

func TestSQLiteDatabase_Devices(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when device not found", func(t *testing.T) {
		db := newTestDB(t)

		d, err := db.FindDeviceByUUID(ctx, "missing")
		if err != nil {
			t.Fatalf("FindDeviceByUUID() error = %v", err)
		}
		if d != nil {
			t.Errorf("FindDeviceByUUID() = %v, want nil", d)
		}

		d, err = db.FindDeviceByDevnode(ctx, "/dev/sdz1")
		if err != nil {
			t.Fatalf("FindDeviceByDevnode() error = %v", err)
		}
		if d != nil {
			t.Errorf("FindDeviceByDevnode() = %v, want nil", d)
		}
	})

	t.Run("creates device with defaults", func(t *testing.T) {
		db := newTestDB(t)

		d := mustCreateDevice(t, db, "/dev/sdb1", "1234-ABCD")
		if d.ID == 0 {
			t.Error("ID = 0, want assigned id")
		}
		if d.Removed || d.Joined || d.MountSuccess || d.MountPath != "" {
			t.Errorf("new device = %+v, want flags cleared", d)
		}
		if !d.LastSeen.Equal(testTime) {
			t.Errorf("LastSeen = %v, want %v", d.LastSeen, testTime)
		}

		found, err := db.FindDeviceByUUID(ctx, "1234-ABCD")
		if err != nil {
			t.Fatalf("FindDeviceByUUID() error = %v", err)
		}
		if found == nil || found.ID != d.ID {
			t.Errorf("FindDeviceByUUID() = %v, want id %d", found, d.ID)
		}
	})

	t.Run("devnode lookup ignores devices with a uuid", func(t *testing.T) {
		db := newTestDB(t)

		mustCreateDevice(t, db, "/dev/sdb1", "1234-ABCD")
		d, err := db.FindDeviceByDevnode(ctx, "/dev/sdb1")
		if err != nil {
			t.Fatalf("FindDeviceByDevnode() error = %v", err)
		}
		if d != nil {
			t.Errorf("FindDeviceByDevnode() = %v, want nil", d)
		}

		bare := mustCreateDevice(t, db, "/dev/sdb1", "")
		d, err = db.FindDeviceByDevnode(ctx, "/dev/sdb1")
		if err != nil {
			t.Fatalf("FindDeviceByDevnode() error = %v", err)
		}
		if d == nil || d.ID != bare.ID {
			t.Errorf("FindDeviceByDevnode() = %v, want id %d", d, bare.ID)
		}
	})

	t.Run("active devnode lookup returns the newest live row", func(t *testing.T) {
		db := newTestDB(t)

		old := mustCreateDevice(t, db, "/dev/sdb1", "OLD")
		if err := db.SetDeviceRemoved(ctx, old.ID, testTime); err != nil {
			t.Fatalf("SetDeviceRemoved() error = %v", err)
		}
		d, err := db.FindActiveDeviceByDevnode(ctx, "/dev/sdb1")
		if err != nil {
			t.Fatalf("FindActiveDeviceByDevnode() error = %v", err)
		}
		if d != nil {
			t.Errorf("FindActiveDeviceByDevnode() = %v, want nil for a removed row", d)
		}

		first := mustCreateDevice(t, db, "/dev/sdb1", "FIRST")
		second := mustCreateDevice(t, db, "/dev/sdb1", "SECOND")
		d, err = db.FindActiveDeviceByDevnode(ctx, "/dev/sdb1")
		if err != nil {
			t.Fatalf("FindActiveDeviceByDevnode() error = %v", err)
		}
		if d == nil || d.ID != second.ID {
			t.Errorf("FindActiveDeviceByDevnode() = %v, want id %d (not %d)", d, second.ID, first.ID)
		}
	})

	t.Run("duplicate uuid is a storage error", func(t *testing.T) {
		db := newTestDB(t)

		mustCreateDevice(t, db, "/dev/sdb1", "1234-ABCD")
		_, err := db.CreateDevice(ctx, "/dev/sdc1", "1234-ABCD", testTime)
		var storageErr *devcat.StorageError
		if !errors.As(err, &storageErr) {
			t.Fatalf("CreateDevice() error = %v, want *devcat.StorageError", err)
		}
	})

	t.Run("mount lifecycle", func(t *testing.T) {
		db := newTestDB(t)
		d := mustCreateDevice(t, db, "/dev/sdb1", "1234-ABCD")

		if err := db.SetDeviceMounted(ctx, d.ID, "/srv/devcat/1234-ABCD", testTime); err != nil {
			t.Fatalf("SetDeviceMounted() error = %v", err)
		}
		got, _ := db.FindDeviceByID(ctx, d.ID)
		if !got.MountSuccess || got.MountPath != "/srv/devcat/1234-ABCD" {
			t.Errorf("after mount = %+v", got)
		}

		if err := db.SetDeviceEjected(ctx, d.ID, testTime); err != nil {
			t.Fatalf("SetDeviceEjected() error = %v", err)
		}
		got, _ = db.FindDeviceByID(ctx, d.ID)
		if got.MountPath != "" || got.Removed {
			t.Errorf("after eject = %+v, want mount path cleared and not removed", got)
		}

		if err := db.SetDeviceRemoved(ctx, d.ID, testTime.Add(time.Hour)); err != nil {
			t.Fatalf("SetDeviceRemoved() error = %v", err)
		}
		got, _ = db.FindDeviceByID(ctx, d.ID)
		if !got.Removed || got.MountSuccess || got.UUID != "1234-ABCD" {
			t.Errorf("after removal = %+v, want removed with uuid kept", got)
		}

		revived, err := db.ObserveDevice(ctx, d.ID, "/dev/sdc1", testTime.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("ObserveDevice() error = %v", err)
		}
		if revived.Removed || revived.Devnode != "/dev/sdc1" {
			t.Errorf("after observe = %+v, want revived on /dev/sdc1", revived)
		}
	})

	t.Run("lists active devices", func(t *testing.T) {
		db := newTestDB(t)
		a := mustCreateDevice(t, db, "/dev/sdb1", "A")
		b := mustCreateDevice(t, db, "/dev/sdc1", "B")
		if err := db.SetDeviceRemoved(ctx, a.ID, testTime); err != nil {
			t.Fatalf("SetDeviceRemoved() error = %v", err)
		}

		active, err := db.ListDevices(ctx, false)
		if err != nil {
			t.Fatalf("ListDevices() error = %v", err)
		}
		if len(active) != 1 || active[0].ID != b.ID {
			t.Errorf("ListDevices(false) = %v, want only %d", active, b.ID)
		}

		all, err := db.ListDevices(ctx, true)
		if err != nil {
			t.Fatalf("ListDevices() error = %v", err)
		}
		if len(all) != 2 {
			t.Errorf("ListDevices(true) = %d devices, want 2", len(all))
		}
	})
}

func TestSQLiteDatabase_FindActiveFilesUnder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	d := mustCreateDevice(t, db, "/dev/sdb1", "A")

	mustCommit(t, db, d.ID, "/srv/a", []*model.File{
		file("k1", "/srv/a/x.txt", 1),
		file("k2", "/srv/a/sub/y.txt", 2),
		file("k3", "/srv/ab/z.txt", 3),
		file("k4", "/srv/a.txt", 4),
		file("k5", "/srv/a-other/w.txt", 5),
	}, nil)

	files, err := db.FindActiveFilesUnder(ctx, "/srv/a")
	if err != nil {
		t.Fatalf("FindActiveFilesUnder() error = %v", err)
	}

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	want := []string{"/srv/a/sub/y.txt", "/srv/a/x.txt"}
	if len(paths) != len(want) {
		t.Fatalf("FindActiveFilesUnder() = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("FindActiveFilesUnder()[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestSQLiteDatabase_CommitScan(t *testing.T) {
	ctx := context.Background()

	t.Run("applies diff and completes scan", func(t *testing.T) {
		db := newTestDB(t)
		d := mustCreateDevice(t, db, "/dev/sdb1", "A")

		first := mustCommit(t, db, d.ID, "/srv/a", []*model.File{
			file("k1", "/srv/a/x.txt", 1),
			file("k2", "/srv/a/y.txt", 2),
		}, nil)

		files, _ := db.FindActiveFilesUnder(ctx, "/srv/a")
		if len(files) != 2 {
			t.Fatalf("active files = %d, want 2", len(files))
		}

		// y.txt changed size: retire k2, insert k3.
		scan, err := db.StartScan(ctx, d.ID, "/srv/a", testTime)
		if err != nil {
			t.Fatalf("StartScan() error = %v", err)
		}
		err = db.CommitScan(ctx, &devcat.ScanCommit{
			ScanID:     scan.ID,
			DeviceID:   d.ID,
			Inserts:    []*model.File{file("k3", "/srv/a/y.txt", 20)},
			Deletes:    []int64{files[1].ID},
			Revised:    1,
			FinishedAt: testTime,
		})
		if err != nil {
			t.Fatalf("CommitScan() error = %v", err)
		}

		history, err := db.FindFilesByPath(ctx, "/srv/a/y.txt")
		if err != nil {
			t.Fatalf("FindFilesByPath() error = %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("FindFilesByPath() = %d rows, want 2", len(history))
		}
		if !history[0].Deleted || history[0].Key != "k2" {
			t.Errorf("old row = %+v, want k2 deleted", history[0])
		}
		if history[1].Deleted || history[1].Key != "k3" || history[1].Size != 20 {
			t.Errorf("new row = %+v, want active k3 of size 20", history[1])
		}

		latest, err := db.LatestScan(ctx, d.ID)
		if err != nil {
			t.Fatalf("LatestScan() error = %v", err)
		}
		if latest.ID != scan.ID || !latest.Completed() || latest.FilesRevised != 1 || latest.FilesAdded != 0 || latest.FilesRemoved != 0 {
			t.Errorf("LatestScan() = %+v", latest)
		}
		if latest.ID <= first.ID {
			t.Errorf("scan ids not increasing: %d then %d", first.ID, latest.ID)
		}

		got, _ := db.FindDeviceByID(ctx, d.ID)
		if !got.Joined {
			t.Error("device not marked joined after committed scan")
		}
	})

	t.Run("duplicate key rolls back everything", func(t *testing.T) {
		db := newTestDB(t)
		d := mustCreateDevice(t, db, "/dev/sdb1", "A")
		mustCommit(t, db, d.ID, "/srv/a", []*model.File{file("k1", "/srv/a/x.txt", 1)}, nil)
		active, _ := db.FindActiveFilesUnder(ctx, "/srv/a")

		scan, err := db.StartScan(ctx, d.ID, "/srv/a", testTime)
		if err != nil {
			t.Fatalf("StartScan() error = %v", err)
		}
		err = db.CommitScan(ctx, &devcat.ScanCommit{
			ScanID:   scan.ID,
			DeviceID: d.ID,
			Inserts: []*model.File{
				file("k2", "/srv/a/y.txt", 1),
				file("k1", "/srv/a/z.txt", 1),
			},
			Deletes:    []int64{active[0].ID},
			FinishedAt: testTime,
		})
		var storageErr *devcat.StorageError
		if !errors.As(err, &storageErr) {
			t.Fatalf("CommitScan() error = %v, want *devcat.StorageError", err)
		}

		files, _ := db.FindActiveFilesUnder(ctx, "/srv/a")
		if len(files) != 1 || files[0].Key != "k1" {
			t.Errorf("active files after failed commit = %v, want only k1", files)
		}
		latest, _ := db.LatestScan(ctx, d.ID)
		if latest.Status != model.ScanRunning {
			t.Errorf("scan status = %q, want running", latest.Status)
		}
	})

	t.Run("deleting an inactive row fails", func(t *testing.T) {
		db := newTestDB(t)
		d := mustCreateDevice(t, db, "/dev/sdb1", "A")
		scan, _ := db.StartScan(ctx, d.ID, "/srv/a", testTime)

		err := db.CommitScan(ctx, &devcat.ScanCommit{
			ScanID:     scan.ID,
			DeviceID:   d.ID,
			Deletes:    []int64{42},
			FinishedAt: testTime,
		})
		var storageErr *devcat.StorageError
		if !errors.As(err, &storageErr) {
			t.Fatalf("CommitScan() error = %v, want *devcat.StorageError", err)
		}
	})
}

func TestSQLiteDatabase_Scans(t *testing.T) {
	ctx := context.Background()

	t.Run("fails running scans", func(t *testing.T) {
		db := newTestDB(t)
		d := mustCreateDevice(t, db, "/dev/sdb1", "A")
		mustCommit(t, db, d.ID, "/srv/a", nil, nil)
		if _, err := db.StartScan(ctx, d.ID, "/srv/a", testTime); err != nil {
			t.Fatalf("StartScan() error = %v", err)
		}

		n, err := db.FailRunningScans(ctx, testTime)
		if err != nil {
			t.Fatalf("FailRunningScans() error = %v", err)
		}
		if n != 1 {
			t.Errorf("FailRunningScans() = %d, want 1", n)
		}

		latest, _ := db.LatestScan(ctx, d.ID)
		if latest.Status != model.ScanFailed || latest.FinishedAt == nil {
			t.Errorf("LatestScan() = %+v, want failed with finish time", latest)
		}
		completed, _ := db.LatestCompletedScan(ctx, d.ID)
		if completed == nil || completed.ID == latest.ID {
			t.Errorf("LatestCompletedScan() = %+v, want the earlier committed scan", completed)
		}
	})

	t.Run("finish scan as cancelled", func(t *testing.T) {
		db := newTestDB(t)
		d := mustCreateDevice(t, db, "/dev/sdb1", "A")
		scan, _ := db.StartScan(ctx, d.ID, "/srv/a", testTime)

		if err := db.FinishScan(ctx, scan.ID, model.ScanCancelled, testTime); err != nil {
			t.Fatalf("FinishScan() error = %v", err)
		}
		latest, _ := db.LatestScan(ctx, d.ID)
		if latest.Status != model.ScanCancelled {
			t.Errorf("Status = %q, want cancelled", latest.Status)
		}
		completed, _ := db.LatestCompletedScan(ctx, d.ID)
		if completed != nil {
			t.Errorf("LatestCompletedScan() = %+v, want nil", completed)
		}
	})

	t.Run("lists newest first and reports max id", func(t *testing.T) {
		db := newTestDB(t)
		d := mustCreateDevice(t, db, "/dev/sdb1", "A")

		maxID, err := db.MaxScanID(ctx)
		if err != nil {
			t.Fatalf("MaxScanID() error = %v", err)
		}
		if maxID != 0 {
			t.Errorf("MaxScanID() = %d, want 0", maxID)
		}

		for range 3 {
			mustCommit(t, db, d.ID, "/srv/a", nil, nil)
		}
		scans, err := db.ListScans(ctx, 2)
		if err != nil {
			t.Fatalf("ListScans() error = %v", err)
		}
		if len(scans) != 2 || scans[0].ID <= scans[1].ID {
			t.Errorf("ListScans() = %v, want two scans newest first", scans)
		}

		maxID, _ = db.MaxScanID(ctx)
		if maxID != scans[0].ID {
			t.Errorf("MaxScanID() = %d, want %d", maxID, scans[0].ID)
		}
	})
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	d := mustCreateDevice(t, db, "/dev/sdb1", "A")
	mustCommit(t, db, d.ID, "/srv/a", []*model.File{file("k1", "/srv/a/x.txt", 1)}, nil)

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copied, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	defer copied.Close()

	files, err := copied.FindActiveFilesUnder(ctx, "/srv/a")
	if err != nil {
		t.Fatalf("FindActiveFilesUnder() error = %v", err)
	}
	if len(files) != 1 || files[0].Key != "k1" {
		t.Errorf("backup files = %v, want k1", files)
	}
}
