package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Reaper fails RUNNING tasks whose worker stopped heartbeating. It runs on a
// cron schedule, every minute by default.
type Reaper struct {
	tasks     interfaces.TaskStorage
	logger    arbor.ILogger
	threshold time.Duration
	schedule  string
	cron      *cron.Cron
}

// NewReaper creates a reaper with the given staleness threshold.
func NewReaper(tasks interfaces.TaskStorage, threshold time.Duration, schedule string, logger arbor.ILogger) *Reaper {
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	if schedule == "" {
		schedule = "* * * * *"
	}
	return &Reaper{
		tasks:     tasks,
		logger:    logger,
		threshold: threshold,
		schedule:  schedule,
	}
}

// Start registers the cron entry and begins reaping.
func (r *Reaper) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if n := r.ReapOnce(context.Background()); n > 0 {
			r.logger.Warn().Int("reaped", n).Msg("Failed stale crawl tasks")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule stale-task reaper: %w", err)
	}
	r.cron.Start()
	r.logger.Info().Str("schedule", r.schedule).Dur("threshold", r.threshold).Msg("Stale-task reaper started")
	return nil
}

// Stop halts the cron scheduler.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// ReapOnce scans RUNNING tasks and fails the ones without a recent heartbeat.
// Returns the number of tasks moved to FAILED.
func (r *Reaper) ReapOnce(ctx context.Context) int {
	running, err := r.tasks.ListTasksByStatus(ctx, models.TaskStatusRunning)
	if err != nil {
		r.logger.Error().Err(err).Msg("Reaper failed to list running tasks")
		return 0
	}

	cutoff := time.Now().Add(-r.threshold)
	reaped := 0

	for _, task := range running {
		last := task.UpdatedAt
		if task.HeartbeatAt != nil {
			last = *task.HeartbeatAt
		} else if task.StartedAt != nil {
			last = *task.StartedAt
		}
		if last.After(cutoff) {
			continue
		}

		err := r.tasks.CompareAndSetStatus(ctx, task.TaskID, models.TaskStatusRunning, models.TaskStatusFailed, func(t *models.CrawlTask) {
			t.StatusError = "worker lost: no heartbeat received"
		})
		if err != nil {
			if !errors.Is(err, models.ErrCASConflict) {
				r.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Reaper CAS failed")
			}
			continue
		}
		reaped++
		r.logger.Warn().Str("task_id", task.TaskID).Str("last_heartbeat", last.Format(time.RFC3339)).Msg("Reaped stale task")
	}

	return reaped
}
