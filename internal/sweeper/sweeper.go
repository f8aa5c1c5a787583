// Package sweeper implements the retention sweeper (C6): a
// cron-scheduled pass that bounds storage by deleting old delivery
// attempts and terminal tasks in small batches, safe to run
// concurrently with the delivery workers.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/store"
	"github.com/robfig/cron/v3"
)

const batchSize = 500

// Metrics is the capability set the sweeper reports deletions
// through. Satisfied by internal/metrics.Recorder.
type Metrics interface {
	RecordSwept(kind string, count int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordSwept(string, int64) {}

type Sweeper struct {
	taskStore     store.TaskStore
	retentionAge  time.Duration
	logger        *slog.Logger
	metrics       Metrics
	cron          *cron.Cron
}

func New(taskStore store.TaskStore, retentionAge time.Duration, logger *slog.Logger, metrics Metrics) *Sweeper {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Sweeper{
		taskStore:    taskStore,
		retentionAge: retentionAge,
		logger:       logger,
		metrics:      metrics,
		cron:         cron.New(),
	}
}

// Start schedules the sweep to run every interval and returns
// immediately. Call Stop to halt it.
func (s *Sweeper) Start(interval time.Duration) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.Run(context.Background())
	})
	if err != nil {
		return fmt.Errorf("scheduling sweeper: %w", err)
	}
	s.cron.Start()
	s.logger.Info("retention sweeper scheduled", "interval", interval, "retention_age", s.retentionAge)
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Run executes one sweep pass: delivery attempts first, then terminal
// tasks (whose cascade would otherwise remove attempts ahead of the
// attempt-age cutoff).
func (s *Sweeper) Run(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retentionAge)

	attemptsDeleted, err := s.deleteInBatches(ctx, func(ctx context.Context) (int64, error) {
		return s.taskStore.DeleteAttemptsBefore(ctx, cutoff, batchSize)
	})
	if err != nil {
		s.logger.Error("failed sweeping delivery attempts", "error", err)
	} else {
		s.metrics.RecordSwept("attempts", attemptsDeleted)
	}

	tasksDeleted, err := s.deleteInBatches(ctx, func(ctx context.Context) (int64, error) {
		return s.taskStore.DeleteTerminalTasksBefore(ctx, cutoff, batchSize)
	})
	if err != nil {
		s.logger.Error("failed sweeping terminal tasks", "error", err)
	} else {
		s.metrics.RecordSwept("tasks", tasksDeleted)
	}

	s.logger.Info("retention sweep complete",
		"attempts_deleted", attemptsDeleted, "tasks_deleted", tasksDeleted, "cutoff", cutoff)
}

func (s *Sweeper) deleteInBatches(ctx context.Context, delete func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		n, err := delete(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if n < batchSize {
			return total, nil
		}
	}
}
