// Package rescue implements the orphan-rescue sweep described in the
// concurrency model: a periodic scan that republishes pending or
// processing tasks with no recent activity, covering the crash window
// between a task's DB commit and its broker publish, and between its
// processing transition and attempt completion.
package rescue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/queue"
	"github.com/Eldrago12/webhook-delivery-service/internal/store"
	"github.com/robfig/cron/v3"
)

const batchSize = 200

type Rescuer struct {
	taskStore  store.TaskStore
	queue      *queue.Queue
	staleAfter time.Duration
	logger     *slog.Logger
	cron       *cron.Cron
}

func New(taskStore store.TaskStore, q *queue.Queue, staleAfter time.Duration, logger *slog.Logger) *Rescuer {
	return &Rescuer{
		taskStore:  taskStore,
		queue:      q,
		staleAfter: staleAfter,
		logger:     logger,
		cron:       cron.New(),
	}
}

func (r *Rescuer) Start(interval time.Duration) error {
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		r.Run(context.Background())
	})
	if err != nil {
		return fmt.Errorf("scheduling orphan rescue: %w", err)
	}
	r.cron.Start()
	r.logger.Info("orphan rescue scheduled", "interval", interval, "stale_after", r.staleAfter)
	return nil
}

func (r *Rescuer) Stop() {
	<-r.cron.Stop().Done()
}

// Run republishes every task that has been pending or processing
// without activity for longer than staleAfter.
func (r *Rescuer) Run(ctx context.Context) {
	before := time.Now().UTC().Add(-r.staleAfter)

	orphans, err := r.taskStore.ListOrphans(ctx, before, batchSize)
	if err != nil {
		r.logger.Error("failed listing orphaned tasks", "error", err)
		return
	}

	for _, task := range orphans {
		if err := r.taskStore.RequeueOrphan(ctx, task.ID); err != nil {
			r.logger.Error("failed to reset orphaned task to pending", "task_id", task.ID, "error", err)
			continue
		}
		if err := r.queue.Publish(ctx, task.ID); err != nil {
			r.logger.Error("failed to republish orphaned task", "task_id", task.ID, "error", err)
			continue
		}
		r.logger.Warn("republished orphaned task", "task_id", task.ID, "status", task.Status)
	}

	if len(orphans) > 0 {
		r.logger.Info("orphan rescue pass complete", "rescued", len(orphans))
	}
}
