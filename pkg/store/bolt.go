package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/antcode/antcode/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks       = []byte("tasks")
	bucketTaskRuns    = []byte("task_runs")
	bucketWorkers     = []byte("workers")
	bucketInstallKeys = []byte("install_keys")
)

// BoltStore implements Store using an embedded BoltDB file. It is the default
// for single-Master deployments, mirroring the teacher's dataDir/warren.db
// layout.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the metadata database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "antcode.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketTaskRuns, bucketWorkers, bucketInstallKeys} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// Tasks

func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task not found: %s", id)
		}
		return json.Unmarshal(data, &task)
	})
	return &task, err
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListDueTasks(now int64) ([]*types.Task, error) {
	all, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	nowT := time.Unix(now, 0)
	var due []*types.Task
	for _, t := range all {
		if t.Active && !t.NextRunTime.After(nowT) {
			due = append(due, t)
		}
	}
	return due, nil
}

func (s *BoltStore) UpdateTask(task *types.Task) error { return s.CreateTask(task) }

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// IncrementTaskCounters is the sole writer of Task.SuccessCount/FailureCount,
// per the canonical-writer decision resolving the spec's open question.
func (s *BoltStore) IncrementTaskCounters(id string, success bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task not found: %s", id)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		if success {
			task.SuccessCount++
		} else {
			task.FailureCount++
		}
		task.UpdatedAt = time.Now()
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

// TaskRuns

func (s *BoltStore) CreateTaskRun(run *types.TaskRun) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTaskRuns).Put([]byte(run.ID), data)
	})
}

func (s *BoltStore) GetTaskRun(id string) (*types.TaskRun, error) {
	var run types.TaskRun
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTaskRuns).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task run not found: %s", id)
		}
		return json.Unmarshal(data, &run)
	})
	return &run, err
}

func (s *BoltStore) ListTaskRuns() ([]*types.TaskRun, error) {
	var runs []*types.TaskRun
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaskRuns).ForEach(func(k, v []byte) error {
			var run types.TaskRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) ListTaskRunsByTask(taskID string) ([]*types.TaskRun, error) {
	all, err := s.ListTaskRuns()
	if err != nil {
		return nil, err
	}
	var out []*types.TaskRun
	for _, r := range all {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *BoltStore) ListTaskRunsByWorker(workerID string) ([]*types.TaskRun, error) {
	all, err := s.ListTaskRuns()
	if err != nil {
		return nil, err
	}
	var out []*types.TaskRun
	for _, r := range all {
		if r.WorkerID == workerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *BoltStore) ListTaskRunsByRuntimeStatus(status types.RuntimeStatus) ([]*types.TaskRun, error) {
	all, err := s.ListTaskRuns()
	if err != nil {
		return nil, err
	}
	var out []*types.TaskRun
	for _, r := range all {
		if r.RuntimeStatus == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateTaskRun(run *types.TaskRun) error { return s.CreateTaskRun(run) }

func (s *BoltStore) DeleteTaskRun(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaskRuns).Delete([]byte(id))
	})
}

// Workers

func (s *BoltStore) CreateWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(worker)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkers).Put([]byte(worker.ID), data)
	})
}

func (s *BoltStore) GetWorker(id string) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("worker not found: %s", id)
		}
		return json.Unmarshal(data, &worker)
	})
	return &worker, err
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) UpdateWorker(worker *types.Worker) error { return s.CreateWorker(worker) }

func (s *BoltStore) DeleteWorker(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(id))
	})
}

// Install keys

func (s *BoltStore) CreateInstallKey(key *types.InstallKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(key)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketInstallKeys).Put([]byte(key.Key), data)
	})
}

func (s *BoltStore) GetInstallKey(key string) (*types.InstallKey, error) {
	var ik types.InstallKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstallKeys).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("install key not found")
		}
		return json.Unmarshal(data, &ik)
	})
	return &ik, err
}

func (s *BoltStore) ConsumeInstallKey(key, workerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstallKeys)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("install key not found")
		}
		var ik types.InstallKey
		if err := json.Unmarshal(data, &ik); err != nil {
			return err
		}
		if ik.Consumed {
			return fmt.Errorf("install key already consumed")
		}
		ik.Consumed = true
		ik.ConsumedByID = workerID
		out, err := json.Marshal(&ik)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), out)
	})
}
