// Package postgres implements store.Store against Postgres via sqlx and the
// pgx stdlib driver, for Masters that want a shared metadata store instead of
// the embedded BoltDB default.
package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/antcode/antcode/pkg/types"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" sql driver
)

// Store implements store.Store on top of a Postgres database. Entities are
// kept as JSONB payloads behind an ID primary key, the same Put-by-ID shape as
// the BoltDB store, so the two implementations share identical semantics.
type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS antcode_tasks (id TEXT PRIMARY KEY, data JSONB NOT NULL, next_run_time TIMESTAMPTZ NOT NULL, active BOOLEAN NOT NULL);
CREATE TABLE IF NOT EXISTS antcode_task_runs (id TEXT PRIMARY KEY, task_id TEXT NOT NULL, worker_id TEXT NOT NULL DEFAULT '', runtime_status TEXT NOT NULL, data JSONB NOT NULL);
CREATE TABLE IF NOT EXISTS antcode_workers (id TEXT PRIMARY KEY, data JSONB NOT NULL);
CREATE TABLE IF NOT EXISTS antcode_install_keys (key TEXT PRIMARY KEY, data JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS idx_task_runs_task_id ON antcode_task_runs(task_id);
CREATE INDEX IF NOT EXISTS idx_task_runs_worker_id ON antcode_task_runs(worker_id);
CREATE INDEX IF NOT EXISTS idx_task_runs_runtime_status ON antcode_task_runs(runtime_status);
`

// New opens a Postgres-backed store and ensures its schema exists.
func New(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateTask(task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO antcode_tasks (id, data, next_run_time, active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = $2, next_run_time = $3, active = $4`,
		task.ID, data, task.NextRunTime, task.Active)
	return err
}

func (s *Store) GetTask(id string) (*types.Task, error) {
	var data []byte
	if err := s.db.Get(&data, `SELECT data FROM antcode_tasks WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("task not found: %s: %w", id, err)
	}
	var task types.Task
	return &task, json.Unmarshal(data, &task)
}

func (s *Store) ListTasks() ([]*types.Task, error) {
	var rows [][]byte
	if err := s.db.Select(&rows, `SELECT data FROM antcode_tasks`); err != nil {
		return nil, err
	}
	return unmarshalAll[types.Task](rows)
}

func (s *Store) ListDueTasks(now int64) ([]*types.Task, error) {
	var rows [][]byte
	if err := s.db.Select(&rows, `SELECT data FROM antcode_tasks WHERE active = true AND next_run_time <= $1`, time.Unix(now, 0)); err != nil {
		return nil, err
	}
	return unmarshalAll[types.Task](rows)
}

func (s *Store) UpdateTask(task *types.Task) error { return s.CreateTask(task) }

func (s *Store) DeleteTask(id string) error {
	_, err := s.db.Exec(`DELETE FROM antcode_tasks WHERE id = $1`, id)
	return err
}

func (s *Store) IncrementTaskCounters(id string, success bool) error {
	task, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if success {
		task.SuccessCount++
	} else {
		task.FailureCount++
	}
	task.UpdatedAt = time.Now()
	return s.UpdateTask(task)
}

func (s *Store) CreateTaskRun(run *types.TaskRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO antcode_task_runs (id, task_id, worker_id, runtime_status, data) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET task_id = $2, worker_id = $3, runtime_status = $4, data = $5`,
		run.ID, run.TaskID, run.WorkerID, string(run.RuntimeStatus), data)
	return err
}

func (s *Store) GetTaskRun(id string) (*types.TaskRun, error) {
	var data []byte
	if err := s.db.Get(&data, `SELECT data FROM antcode_task_runs WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("task run not found: %s: %w", id, err)
	}
	var run types.TaskRun
	return &run, json.Unmarshal(data, &run)
}

func (s *Store) ListTaskRuns() ([]*types.TaskRun, error) {
	var rows [][]byte
	if err := s.db.Select(&rows, `SELECT data FROM antcode_task_runs`); err != nil {
		return nil, err
	}
	return unmarshalAll[types.TaskRun](rows)
}

func (s *Store) ListTaskRunsByTask(taskID string) ([]*types.TaskRun, error) {
	var rows [][]byte
	if err := s.db.Select(&rows, `SELECT data FROM antcode_task_runs WHERE task_id = $1`, taskID); err != nil {
		return nil, err
	}
	return unmarshalAll[types.TaskRun](rows)
}

func (s *Store) ListTaskRunsByWorker(workerID string) ([]*types.TaskRun, error) {
	var rows [][]byte
	if err := s.db.Select(&rows, `SELECT data FROM antcode_task_runs WHERE worker_id = $1`, workerID); err != nil {
		return nil, err
	}
	return unmarshalAll[types.TaskRun](rows)
}

func (s *Store) ListTaskRunsByRuntimeStatus(status types.RuntimeStatus) ([]*types.TaskRun, error) {
	var rows [][]byte
	if err := s.db.Select(&rows, `SELECT data FROM antcode_task_runs WHERE runtime_status = $1`, string(status)); err != nil {
		return nil, err
	}
	return unmarshalAll[types.TaskRun](rows)
}

func (s *Store) UpdateTaskRun(run *types.TaskRun) error { return s.CreateTaskRun(run) }

func (s *Store) DeleteTaskRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM antcode_task_runs WHERE id = $1`, id)
	return err
}

func (s *Store) CreateWorker(worker *types.Worker) error {
	data, err := json.Marshal(worker)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO antcode_workers (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = $2`, worker.ID, data)
	return err
}

func (s *Store) GetWorker(id string) (*types.Worker, error) {
	var data []byte
	if err := s.db.Get(&data, `SELECT data FROM antcode_workers WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("worker not found: %s: %w", id, err)
	}
	var worker types.Worker
	return &worker, json.Unmarshal(data, &worker)
}

func (s *Store) ListWorkers() ([]*types.Worker, error) {
	var rows [][]byte
	if err := s.db.Select(&rows, `SELECT data FROM antcode_workers`); err != nil {
		return nil, err
	}
	return unmarshalAll[types.Worker](rows)
}

func (s *Store) UpdateWorker(worker *types.Worker) error { return s.CreateWorker(worker) }

func (s *Store) DeleteWorker(id string) error {
	_, err := s.db.Exec(`DELETE FROM antcode_workers WHERE id = $1`, id)
	return err
}

func (s *Store) CreateInstallKey(key *types.InstallKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO antcode_install_keys (key, data) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET data = $2`, key.Key, data)
	return err
}

func (s *Store) GetInstallKey(key string) (*types.InstallKey, error) {
	var data []byte
	if err := s.db.Get(&data, `SELECT data FROM antcode_install_keys WHERE key = $1`, key); err != nil {
		return nil, fmt.Errorf("install key not found: %w", err)
	}
	var ik types.InstallKey
	return &ik, json.Unmarshal(data, &ik)
}

func (s *Store) ConsumeInstallKey(key, workerID string) error {
	ik, err := s.GetInstallKey(key)
	if err != nil {
		return err
	}
	if ik.Consumed {
		return fmt.Errorf("install key already consumed")
	}
	ik.Consumed = true
	ik.ConsumedByID = workerID
	data, err := json.Marshal(ik)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE antcode_install_keys SET data = $2 WHERE key = $1`, key, data)
	return err
}

func unmarshalAll[T any](rows [][]byte) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		var v T
		if err := json.Unmarshal(row, &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}
