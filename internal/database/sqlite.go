package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"devcat/internal/database/migrations"
	"devcat/internal/database/sqlc"
	"devcat/internal/devcat"
	"devcat/internal/model"
)

// SQLiteDatabase implements the devcat.Database interface using SQLite.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *sqlc.Queries
	path    string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:      db,
		queries: sqlc.New(db),
		path:    path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:      db,
		queries: sqlc.New(db),
	}
}

// OpenConnection opens and configures a SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// PRAGMAs are per connection, and every connection to ":memory:" is a
	// separate database. SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// wrap classifies err for op. Constraint violations become *devcat.StorageError.
func wrap(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &devcat.StorageError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toDevice(d sqlc.Device) *model.Device {
	return &model.Device{
		ID:           d.ID,
		Devnode:      d.Devnode,
		UUID:         d.Uuid.String,
		Removed:      d.Removed != 0,
		Joined:       d.Joined != 0,
		MountSuccess: d.MountSuccess != 0,
		MountPath:    d.MountPath.String,
		LastSeen:     fromUnix(d.LastSeen),
	}
}

func toDevices(rows []sqlc.Device) []*model.Device {
	result := make([]*model.Device, len(rows))
	for i := range rows {
		result[i] = toDevice(rows[i])
	}
	return result
}

func toFile(f sqlc.File) *model.File {
	return &model.File{
		ID:          f.ID,
		Key:         f.Key,
		Filename:    f.Filename,
		ContentType: f.ContentType.String,
		Size:        f.Size,
		Path:        f.Path,
		CreatedAt:   fromUnix(f.CreatedAt),
		Deleted:     f.Deleted != 0,
	}
}

func toFiles(rows []sqlc.File) []*model.File {
	result := make([]*model.File, len(rows))
	for i := range rows {
		result[i] = toFile(rows[i])
	}
	return result
}

func toScan(s sqlc.Scan) *model.Scan {
	scan := &model.Scan{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		MountPath:    s.MountPath,
		StartedAt:    fromUnix(s.StartedAt),
		Status:       s.Status,
		FilesAdded:   s.FilesAdded,
		FilesRemoved: s.FilesRemoved,
		FilesRevised: s.FilesRevised,
	}
	if s.FinishedAt.Valid {
		t := fromUnix(s.FinishedAt.Int64)
		scan.FinishedAt = &t
	}
	return scan
}

// Device operations

func (s *SQLiteDatabase) FindDeviceByID(ctx context.Context, id int64) (*model.Device, error) {
	d, err := s.queries.GetDeviceByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding device by id: %w", err)
	}
	return toDevice(d), nil
}

func (s *SQLiteDatabase) FindDeviceByUUID(ctx context.Context, uuid string) (*model.Device, error) {
	if uuid == "" {
		return nil, nil
	}
	d, err := s.queries.GetDeviceByUUID(ctx, nullString(uuid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding device by uuid: %w", err)
	}
	return toDevice(d), nil
}

func (s *SQLiteDatabase) FindDeviceByDevnode(ctx context.Context, devnode string) (*model.Device, error) {
	d, err := s.queries.GetDeviceByDevnodeWithoutUUID(ctx, devnode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding device by devnode: %w", err)
	}
	return toDevice(d), nil
}

func (s *SQLiteDatabase) FindActiveDeviceByDevnode(ctx context.Context, devnode string) (*model.Device, error) {
	d, err := s.queries.GetActiveDeviceByDevnode(ctx, devnode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding active device by devnode: %w", err)
	}
	return toDevice(d), nil
}

func (s *SQLiteDatabase) CreateDevice(ctx context.Context, devnode, uuid string, seen time.Time) (*model.Device, error) {
	d, err := s.queries.InsertDevice(ctx, sqlc.InsertDeviceParams{
		Devnode:  devnode,
		Uuid:     nullString(uuid),
		LastSeen: unix(seen),
	})
	if err != nil {
		return nil, wrap("creating device", err)
	}
	return toDevice(d), nil
}

func (s *SQLiteDatabase) ObserveDevice(ctx context.Context, id int64, devnode string, seen time.Time) (*model.Device, error) {
	d, err := s.queries.UpdateDeviceObserved(ctx, sqlc.UpdateDeviceObservedParams{
		Devnode:  devnode,
		LastSeen: unix(seen),
		ID:       id,
	})
	if err != nil {
		return nil, wrap("observing device", err)
	}
	return toDevice(d), nil
}

func (s *SQLiteDatabase) SetDeviceMounted(ctx context.Context, id int64, mountPath string, seen time.Time) error {
	err := s.queries.UpdateDeviceMounted(ctx, sqlc.UpdateDeviceMountedParams{
		MountPath: nullString(mountPath),
		LastSeen:  unix(seen),
		ID:        id,
	})
	if err != nil {
		return wrap("recording mount", err)
	}
	return nil
}

func (s *SQLiteDatabase) SetDeviceMountFailed(ctx context.Context, id int64, seen time.Time) error {
	err := s.queries.UpdateDeviceMountFailed(ctx, sqlc.UpdateDeviceMountFailedParams{
		LastSeen: unix(seen),
		ID:       id,
	})
	if err != nil {
		return wrap("recording mount failure", err)
	}
	return nil
}

func (s *SQLiteDatabase) SetDeviceEjected(ctx context.Context, id int64, seen time.Time) error {
	err := s.queries.UpdateDeviceEjected(ctx, sqlc.UpdateDeviceEjectedParams{
		LastSeen: unix(seen),
		ID:       id,
	})
	if err != nil {
		return wrap("recording eject", err)
	}
	return nil
}

func (s *SQLiteDatabase) SetDeviceRemoved(ctx context.Context, id int64, seen time.Time) error {
	err := s.queries.UpdateDeviceRemoved(ctx, sqlc.UpdateDeviceRemovedParams{
		LastSeen: unix(seen),
		ID:       id,
	})
	if err != nil {
		return wrap("recording removal", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListDevices(ctx context.Context, includeRemoved bool) ([]*model.Device, error) {
	var rows []sqlc.Device
	var err error
	if includeRemoved {
		rows, err = s.queries.ListDevices(ctx)
	} else {
		rows, err = s.queries.ListActiveDevices(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return toDevices(rows), nil
}

// File operations

func (s *SQLiteDatabase) FindActiveFilesUnder(ctx context.Context, mountPath string) ([]*model.File, error) {
	// '0' sorts immediately after '/', so [prefix/, prefix0) holds exactly
	// the paths under prefix/ and can use the path index.
	rows, err := s.queries.ListActiveFilesInRange(ctx, sqlc.ListActiveFilesInRangeParams{
		Low:  mountPath + "/",
		High: mountPath + "0",
	})
	if err != nil {
		return nil, fmt.Errorf("finding active files: %w", err)
	}
	return toFiles(rows), nil
}

func (s *SQLiteDatabase) FindFilesByPath(ctx context.Context, path string) ([]*model.File, error) {
	rows, err := s.queries.ListFilesByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("finding files by path: %w", err)
	}
	return toFiles(rows), nil
}

// CountActiveFiles returns the number of files that are not soft-deleted.
func (s *SQLiteDatabase) CountActiveFiles(ctx context.Context) (int64, error) {
	n, err := s.queries.CountActiveFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return n, nil
}

// Scan operations

func (s *SQLiteDatabase) StartScan(ctx context.Context, deviceID int64, mountPath string, at time.Time) (*model.Scan, error) {
	scan, err := s.queries.InsertScan(ctx, sqlc.InsertScanParams{
		DeviceID:  deviceID,
		MountPath: mountPath,
		StartedAt: unix(at),
	})
	if err != nil {
		return nil, wrap("starting scan", err)
	}
	return toScan(scan), nil
}

func (s *SQLiteDatabase) FinishScan(ctx context.Context, scanID int64, status string, at time.Time) error {
	err := s.queries.FinishScan(ctx, sqlc.FinishScanParams{
		FinishedAt: sql.NullInt64{Int64: unix(at), Valid: true},
		Status:     status,
		ID:         scanID,
	})
	if err != nil {
		return wrap("finishing scan", err)
	}
	return nil
}

// CommitScan applies a scan's diff in a single transaction: soft-deletes,
// inserts, the completed scan marker and the device's joined flag. Either
// all of it lands or none of it does.
func (s *SQLiteDatabase) CommitScan(ctx context.Context, commit *devcat.ScanCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	for _, id := range commit.Deletes {
		n, err := qtx.SoftDeleteFile(ctx, id)
		if err != nil {
			return wrap("soft-deleting file", err)
		}
		if n == 0 {
			return &devcat.StorageError{Op: "soft-deleting file", Err: fmt.Errorf("file %d is not active", id)}
		}
	}

	for _, f := range commit.Inserts {
		row, err := qtx.InsertFile(ctx, sqlc.InsertFileParams{
			Key:         f.Key,
			Filename:    f.Filename,
			ContentType: nullString(f.ContentType),
			Size:        f.Size,
			Path:        f.Path,
			CreatedAt:   unix(f.CreatedAt),
		})
		if err != nil {
			return wrap(fmt.Sprintf("inserting file %s", f.Path), err)
		}
		f.ID = row.ID
	}

	err = qtx.FinishScan(ctx, sqlc.FinishScanParams{
		FinishedAt:   sql.NullInt64{Int64: unix(commit.FinishedAt), Valid: true},
		Status:       model.ScanCompleted,
		FilesAdded:   int64(len(commit.Inserts) - commit.Revised),
		FilesRemoved: int64(len(commit.Deletes) - commit.Revised),
		FilesRevised: int64(commit.Revised),
		ID:           commit.ScanID,
	})
	if err != nil {
		return wrap("completing scan", err)
	}

	if err := qtx.UpdateDeviceJoined(ctx, commit.DeviceID); err != nil {
		return wrap("marking device joined", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) LatestScan(ctx context.Context, deviceID int64) (*model.Scan, error) {
	scan, err := s.queries.GetLatestScanForDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding latest scan: %w", err)
	}
	return toScan(scan), nil
}

func (s *SQLiteDatabase) LatestCompletedScan(ctx context.Context, deviceID int64) (*model.Scan, error) {
	scan, err := s.queries.GetLatestCompletedScanForDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding latest completed scan: %w", err)
	}
	return toScan(scan), nil
}

func (s *SQLiteDatabase) ListScans(ctx context.Context, limit int) ([]*model.Scan, error) {
	rows, err := s.queries.ListScans(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}

	result := make([]*model.Scan, len(rows))
	for i := range rows {
		result[i] = toScan(rows[i])
	}
	return result, nil
}

func (s *SQLiteDatabase) FailRunningScans(ctx context.Context, at time.Time) (int64, error) {
	n, err := s.queries.FailRunningScans(ctx, sql.NullInt64{Int64: unix(at), Valid: true})
	if err != nil {
		return 0, fmt.Errorf("failing running scans: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) MaxScanID(ctx context.Context) (int64, error) {
	id, err := s.queries.GetMaxScanID(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting max scan ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema up to date and returns the versions before and
// after.
func (s *SQLiteDatabase) Migrate() (from, to uint, err error) {
	return migrations.Up(s.db)
}

// CheckMigrations returns an error wrapping one of the migrations sentinels
// unless the schema matches this binary.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements devcat.Database interface
var _ devcat.Database = (*SQLiteDatabase)(nil)
