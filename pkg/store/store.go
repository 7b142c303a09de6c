// Package store defines the metadata store interface — the single source of
// truth for Tasks, TaskRuns, Workers, and InstallKeys — with two
// implementations: an embedded BoltDB store and a Postgres store.
package store

import "github.com/antcode/antcode/pkg/types"

// Store is the metadata store contract. Implementations must make CreateX/
// UpdateX idempotent (upsert) and must never hold a back-reference between
// entities — relationships are resolved by ID lookup only.
type Store interface {
	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListDueTasks(now int64) ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error
	IncrementTaskCounters(id string, success bool) error

	// TaskRuns
	CreateTaskRun(run *types.TaskRun) error
	GetTaskRun(id string) (*types.TaskRun, error)
	ListTaskRuns() ([]*types.TaskRun, error)
	ListTaskRunsByTask(taskID string) ([]*types.TaskRun, error)
	ListTaskRunsByWorker(workerID string) ([]*types.TaskRun, error)
	ListTaskRunsByRuntimeStatus(status types.RuntimeStatus) ([]*types.TaskRun, error)
	UpdateTaskRun(run *types.TaskRun) error
	DeleteTaskRun(id string) error

	// Workers
	CreateWorker(worker *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	DeleteWorker(id string) error

	// Install keys
	CreateInstallKey(key *types.InstallKey) error
	GetInstallKey(key string) (*types.InstallKey, error)
	ConsumeInstallKey(key, workerID string) error

	Close() error
}
