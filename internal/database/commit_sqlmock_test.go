package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devcat/internal/devcat"
	"devcat/internal/model"
)

func newMockDB(t *testing.T) (*SQLiteDatabase, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewSQLiteDatabaseFromDB(sqlDB), mock
}

func TestCommitScan_ConstraintViolationRollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE files\s+SET deleted = 1`).
		WithArgs(int64(7)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint})
	mock.ExpectRollback()

	err := db.CommitScan(context.Background(), &devcat.ScanCommit{
		ScanID:   1,
		DeviceID: 1,
		Deletes:  []int64{7},
	})

	var storageErr *devcat.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "soft-deleting file", storageErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitScan_CommitFailure(t *testing.T) {
	db, mock := newMockDB(t)
	commitErr := errors.New("disk I/O error")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE files\s+SET deleted = 1`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scans\s+SET finished_at`).
		WithArgs(sqlmock.AnyArg(), model.ScanCompleted, int64(0), int64(1), int64(0), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE devices\s+SET joined = 1`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(commitErr)

	err := db.CommitScan(context.Background(), &devcat.ScanCommit{
		ScanID:   3,
		DeviceID: 2,
		Deletes:  []int64{7},
	})

	require.ErrorIs(t, err, commitErr)
	var storageErr *devcat.StorageError
	assert.False(t, errors.As(err, &storageErr), "commit failure is not a constraint violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitScan_BeginFailure(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	err := db.CommitScan(context.Background(), &devcat.ScanCommit{ScanID: 1, DeviceID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}
