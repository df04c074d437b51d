package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/asyncmgr"
	"github.com/relaygate/core/message"
)

func TestStore_New_WrapsExistingDBForInsert(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := New(mockDB)

	task := asyncmgr.Task{
		ID:        "task-1",
		Status:    asyncmgr.StatusPending,
		Config:    message.CallConfig{Model: "gpt-4o"},
		CreatedAt: time.Unix(1000, 0),
	}

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(task.ID, string(task.Status), sqlmock.AnyArg(), float64(1000), task.Progress).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Insert(context.Background(), task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_New_InsertPropagatesDriverError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := New(mockDB)
	mock.ExpectExec("INSERT INTO tasks").WillReturnError(assertErr("constraint violation"))

	err = store.Insert(context.Background(), asyncmgr.Task{ID: "task-1"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_New_GetUnknownIDReturnsNotFound(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := New(mockDB)
	mock.ExpectQuery("SELECT task_id, status, config").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = store.Get(context.Background(), "missing")
	var notFound *asyncmgr.ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
