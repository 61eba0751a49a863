package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ds, err := NewDatastoreFromConn(db)
	require.NoError(t, err)
	return NewRepositoryWithDatastore(ds), mock
}

func TestQueueRepository_Insert(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("INSERT INTO `data_queue`").
		WillReturnResult(sqlmock.NewResult(7, 1))

	id, err := repo.Queue.Insert(context.Background(), []byte(`{"kind":"telemetry"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepository_ClaimBatch(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `data_queue` WHERE claimed = \\? ORDER BY id ASC LIMIT .* FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "claimed", "created_at", "claimed_at"}).
			AddRow(1, []byte(`{"a":1}`), false, created, nil).
			AddRow(2, []byte(`{"a":2}`), false, created, nil))
	mock.ExpectExec("UPDATE `data_queue` SET .*WHERE id IN \\(\\?,\\?\\)").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	items, err := repo.Queue.ClaimBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
	assert.JSONEq(t, `{"a":2}`, string(items[1].Payload))
	assert.True(t, items[0].Claimed)
	assert.NotNil(t, items[0].ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepository_ClaimBatchEmptyCommitsWithoutUpdate(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "claimed", "created_at", "claimed_at"}))
	mock.ExpectCommit()

	items, err := repo.Queue.ClaimBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepository_ClaimBatchRollsBackOnUpdateFailure(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "claimed", "created_at", "claimed_at"}).
			AddRow(3, []byte(`{}`), false, time.Now(), nil))
	mock.ExpectExec("UPDATE `data_queue`").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	items, err := repo.Queue.ClaimBatch(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mark 1 items claimed")
	assert.Nil(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepository_Counts(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `data_queue` WHERE claimed = \\?").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `data_queue` WHERE claimed = \\?").
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	unclaimed, err := repo.Queue.CountUnclaimed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), unclaimed)

	claimed, err := repo.Queue.CountClaimed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepository_DeleteClaimedBefore(t *testing.T) {
	repo, mock := newMockRepository(t)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM `data_queue` WHERE claimed = \\? AND claimed_at < \\?").
		WithArgs(true, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.Queue.DeleteClaimedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
