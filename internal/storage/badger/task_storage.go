package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/models"
)

// TaskStorage persists crawl tasks in badgerhold
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTaskStorage creates a new task storage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) *TaskStorage {
	return &TaskStorage{db: db, logger: logger}
}

// CreateTask inserts a new task. The task id must be unused.
func (s *TaskStorage) CreateTask(ctx context.Context, task *models.CrawlTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid crawl task: %w", err)
	}

	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := s.db.Store().Insert(task.TaskID, task); err != nil {
		if err == badgerhold.ErrKeyExists {
			return models.IllegalStateError("task %s already exists", task.TaskID)
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}

	s.logger.Debug().
		Str("task_id", task.TaskID).
		Str("user_id", task.UserID).
		Str("url", task.URL).
		Msg("Crawl task created")

	return nil
}

// GetTask retrieves a task by id
func (s *TaskStorage) GetTask(ctx context.Context, taskID string) (*models.CrawlTask, error) {
	var task models.CrawlTask
	err := s.db.Store().Get(taskID, &task)
	if err == badgerhold.ErrNotFound {
		return nil, models.NotFoundError("task", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return &task, nil
}

// GetTaskForUser retrieves a task only if owned by userID. Foreign tasks
// read as not found.
func (s *TaskStorage) GetTaskForUser(ctx context.Context, taskID, userID string) (*models.CrawlTask, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, models.NotFoundError("task", taskID)
	}
	return task, nil
}

// ListTasksByUser returns the user's tasks, newest first
func (s *TaskStorage) ListTasksByUser(ctx context.Context, userID string, limit, offset int) ([]*models.CrawlTask, error) {
	var tasks []*models.CrawlTask
	query := badgerhold.Where("UserID").Eq(userID).Index("UserID")
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks for user %s: %w", userID, err)
	}

	sortTasksNewestFirst(tasks)

	if offset >= len(tasks) {
		return []*models.CrawlTask{}, nil
	}
	tasks = tasks[offset:]
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// ListTasksByStatus returns all tasks in the given status
func (s *TaskStorage) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.CrawlTask, error) {
	var tasks []*models.CrawlTask
	query := badgerhold.Where("Status").Eq(status).Index("Status")
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks by status %s: %w", status, err)
	}
	return tasks, nil
}

// DeleteTask removes a task record
func (s *TaskStorage) DeleteTask(ctx context.Context, taskID string) error {
	err := s.db.Store().Delete(taskID, &models.CrawlTask{})
	if err == badgerhold.ErrNotFound {
		return models.NotFoundError("task", taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}
	return nil
}

// updateTask runs fn in a Badger transaction, retrying when concurrent
// writers make the optimistic transaction abort with ErrConflict. Semantic
// failures (CAS mismatch, terminal task) are not conflicts and return
// immediately.
func (s *TaskStorage) updateTask(fn func(txn *badgerdb.Txn) error) error {
	const maxAttempts = 10

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.db.Store().Badger().Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return fmt.Errorf("task update kept conflicting: %w", err)
}

// CompareAndSetStatus performs the transition inside one Badger transaction.
// The patch runs on the freshly loaded task after the status check and before
// the write, so terminal tasks can never be modified through this path.
func (s *TaskStorage) CompareAndSetStatus(ctx context.Context, taskID string, expected, next models.TaskStatus, patch func(*models.CrawlTask)) error {
	store := s.db.Store()

	err := s.updateTask(func(txn *badgerdb.Txn) error {
		var task models.CrawlTask
		if err := store.TxGet(txn, taskID, &task); err != nil {
			if err == badgerhold.ErrNotFound {
				return models.NotFoundError("task", taskID)
			}
			return fmt.Errorf("failed to load task %s: %w", taskID, err)
		}

		if task.Status != expected {
			return fmt.Errorf("%w: task %s is %s, expected %s", models.ErrCASConflict, taskID, task.Status, expected)
		}

		task.Status = next
		now := time.Now()
		task.UpdatedAt = now
		if next == models.TaskStatusRunning && task.StartedAt == nil {
			task.StartedAt = &now
		}
		if next.IsTerminal() {
			task.CompletedAt = &now
		}
		if patch != nil {
			patch(&task)
		}

		return store.TxUpsert(txn, taskID, &task)
	})

	if err == nil {
		s.logger.Debug().
			Str("task_id", taskID).
			Str("from", string(expected)).
			Str("to", string(next)).
			Msg("Task status transition")
	}

	return err
}

// UpdateProgress applies a counter patch without touching status. Terminal
// tasks reject further progress writes.
func (s *TaskStorage) UpdateProgress(ctx context.Context, taskID string, patch func(*models.CrawlProgress)) error {
	store := s.db.Store()

	return s.updateTask(func(txn *badgerdb.Txn) error {
		var task models.CrawlTask
		if err := store.TxGet(txn, taskID, &task); err != nil {
			if err == badgerhold.ErrNotFound {
				return models.NotFoundError("task", taskID)
			}
			return fmt.Errorf("failed to load task %s: %w", taskID, err)
		}

		if task.Status.IsTerminal() {
			return models.IllegalStateError("task %s is terminal, progress is frozen", taskID)
		}

		patch(&task.Progress)
		task.UpdatedAt = time.Now()

		return store.TxUpsert(txn, taskID, &task)
	})
}

// Heartbeat records worker liveness for a running task
func (s *TaskStorage) Heartbeat(ctx context.Context, taskID string) error {
	store := s.db.Store()

	return s.updateTask(func(txn *badgerdb.Txn) error {
		var task models.CrawlTask
		if err := store.TxGet(txn, taskID, &task); err != nil {
			if err == badgerhold.ErrNotFound {
				return models.NotFoundError("task", taskID)
			}
			return err
		}
		if task.Status != models.TaskStatusRunning {
			return nil
		}
		now := time.Now()
		task.HeartbeatAt = &now
		return store.TxUpsert(txn, taskID, &task)
	})
}

func sortTasksNewestFirst(tasks []*models.CrawlTask) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}
