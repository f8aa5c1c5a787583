package queue

import (
	"context"
	"log/slog"
	"time"
)

// Submitter accepts a claimed task ID for delivery. Implemented by the
// worker pool.
type Submitter interface {
	Submit(taskID string)
}

// Metrics is the capability set the dispatcher reports queue depth
// through. Satisfied by internal/metrics.Recorder.
type Metrics interface {
	SetQueueDepth(depth int64)
}

type noopMetrics struct{}

func (noopMetrics) SetQueueDepth(int64) {}

// Dispatcher continuously polls the queue and hands ready task IDs to
// a Submitter. It runs until the context is cancelled.
type Dispatcher struct {
	queue        *Queue
	submitter    Submitter
	logger       *slog.Logger
	metrics      Metrics
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(q *Queue, submitter Submitter, logger *slog.Logger, metrics Metrics) *Dispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Dispatcher{
		queue:        q,
		submitter:    submitter,
		logger:       logger,
		metrics:      metrics,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	taskIDs, err := d.queue.ClaimReady(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to poll delivery queue", "error", err)
		return
	}

	for _, id := range taskIDs {
		d.submitter.Submit(id)
	}

	depth, err := d.queue.Depth(ctx)
	if err != nil {
		d.logger.Error("failed to read delivery queue depth", "error", err)
		return
	}
	d.metrics.SetQueueDepth(depth)
}
