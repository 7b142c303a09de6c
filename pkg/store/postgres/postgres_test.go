package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/antcode/antcode/pkg/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Store{db: sqlx.NewDb(db, "pgx")}, mock
}

func TestCreateTaskUpsertsByID(t *testing.T) {
	store, mock := newMockStore(t)

	task := &types.Task{ID: "task-1", Active: true, NextRunTime: time.Now()}

	mock.ExpectExec(`INSERT INTO antcode_tasks`).
		WithArgs(task.ID, sqlmock.AnyArg(), sqlmock.AnyArg(), task.Active).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateTask(task)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskReturnsNotFoundError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT data FROM antcode_tasks WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sqlmock.ErrCancelled)

	_, err := store.GetTask("missing")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTaskRunsByRuntimeStatusUnmarshalsRows(t *testing.T) {
	store, mock := newMockStore(t)

	run := &types.TaskRun{ID: "run-1", TaskID: "task-1", RuntimeStatus: types.RuntimeSuccess}
	data, err := json.Marshal(run)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"data"}).AddRow(data)
	mock.ExpectQuery(`SELECT data FROM antcode_task_runs WHERE runtime_status = \$1`).
		WithArgs(string(types.RuntimeSuccess)).
		WillReturnRows(rows)

	runs, err := store.ListTaskRunsByRuntimeStatus(types.RuntimeSuccess)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "run-1", runs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeInstallKeyRejectsAlreadyConsumed(t *testing.T) {
	store, mock := newMockStore(t)

	ik := &types.InstallKey{Key: "key-1", Consumed: true}
	data, err := json.Marshal(ik)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM antcode_install_keys WHERE key = \$1`).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))

	err = store.ConsumeInstallKey("key-1", "worker-1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
