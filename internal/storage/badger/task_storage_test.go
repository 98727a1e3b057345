package badger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(common.GetLogger(), &common.BadgerConfig{
		Path: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestTask(id, userID string) *models.CrawlTask {
	return &models.CrawlTask{
		TaskID:   id,
		UserID:   userID,
		URL:      "https://example.com",
		Limits:   models.DefaultLimits(),
		Timeouts: models.DefaultTimeouts(),
		Status:   models.TaskStatusPending,
	}
}

func TestTaskLifecycleTransitions(t *testing.T) {
	db := newTestDB(t)
	storage := NewTaskStorage(db, common.GetLogger())
	ctx := context.Background()

	task := newTestTask("task_1", "user_a")
	require.NoError(t, storage.CreateTask(ctx, task))

	err := storage.CompareAndSetStatus(ctx, "task_1", models.TaskStatusPending, models.TaskStatusRunning, nil)
	require.NoError(t, err)

	got, err := storage.GetTask(ctx, "task_1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	err = storage.CompareAndSetStatus(ctx, "task_1", models.TaskStatusRunning, models.TaskStatusCompleted, nil)
	require.NoError(t, err)

	got, err = storage.GetTask(ctx, "task_1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestCompareAndSetConflict(t *testing.T) {
	db := newTestDB(t)
	storage := NewTaskStorage(db, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateTask(ctx, newTestTask("task_2", "user_a")))
	require.NoError(t, storage.CompareAndSetStatus(ctx, "task_2", models.TaskStatusPending, models.TaskStatusCancelled, nil))

	// A worker arriving after cancellation must lose the race.
	err := storage.CompareAndSetStatus(ctx, "task_2", models.TaskStatusPending, models.TaskStatusRunning, nil)
	assert.True(t, errors.Is(err, models.ErrCASConflict))

	got, err := storage.GetTask(ctx, "task_2")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
}

func TestTerminalTaskProgressFrozen(t *testing.T) {
	db := newTestDB(t)
	storage := NewTaskStorage(db, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateTask(ctx, newTestTask("task_3", "user_a")))
	require.NoError(t, storage.CompareAndSetStatus(ctx, "task_3", models.TaskStatusPending, models.TaskStatusRunning, nil))

	err := storage.UpdateProgress(ctx, "task_3", func(p *models.CrawlProgress) {
		p.PagesVisited++
	})
	require.NoError(t, err)

	require.NoError(t, storage.CompareAndSetStatus(ctx, "task_3", models.TaskStatusRunning, models.TaskStatusFailed, nil))

	err = storage.UpdateProgress(ctx, "task_3", func(p *models.CrawlProgress) {
		p.PagesVisited++
	})
	assert.True(t, errors.Is(err, models.ErrIllegalState))

	got, err := storage.GetTask(ctx, "task_3")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Progress.PagesVisited)
}

func TestConcurrentProgressUpdatesAllLand(t *testing.T) {
	db := newTestDB(t)
	storage := NewTaskStorage(db, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateTask(ctx, newTestTask("task_c1", "user_a")))
	require.NoError(t, storage.CompareAndSetStatus(ctx, "task_c1", models.TaskStatusPending, models.TaskStatusRunning, nil))

	// Parallel document goroutines report progress against the same record.
	// Conflicting transactions must retry, not drop counts.
	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- storage.UpdateProgress(ctx, "task_c1", func(p *models.CrawlProgress) {
				p.DocumentsDownloaded++
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := storage.GetTask(ctx, "task_c1")
	require.NoError(t, err)
	assert.Equal(t, writers, got.Progress.DocumentsDownloaded)
}

func TestOwnershipReadsAsNotFound(t *testing.T) {
	db := newTestDB(t)
	storage := NewTaskStorage(db, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateTask(ctx, newTestTask("task_4", "user_a")))

	_, err := storage.GetTaskForUser(ctx, "task_4", "user_b")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = storage.GetTaskForUser(ctx, "task_4", "user_a")
	assert.NoError(t, err)
}

func TestListTasksByUserOrderAndPaging(t *testing.T) {
	db := newTestDB(t)
	storage := NewTaskStorage(db, common.GetLogger())
	ctx := context.Background()

	for _, id := range []string{"task_a", "task_b", "task_c"} {
		require.NoError(t, storage.CreateTask(ctx, newTestTask(id, "user_a")))
	}
	require.NoError(t, storage.CreateTask(ctx, newTestTask("task_other", "user_b")))

	tasks, err := storage.ListTasksByUser(ctx, "user_a", 2, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = storage.ListTasksByUser(ctx, "user_a", 10, 2)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
