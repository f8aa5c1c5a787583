// Package worker implements the delivery worker (C5): a fixed pool of
// goroutines that claim queued tasks, resolve the subscription's
// target, execute the outbound HTTP POST, and record the classified
// outcome through a single store transaction.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/cache"
	"github.com/Eldrago12/webhook-delivery-service/internal/config"
	"github.com/Eldrago12/webhook-delivery-service/internal/domain"
	"github.com/Eldrago12/webhook-delivery-service/internal/queue"
	"github.com/Eldrago12/webhook-delivery-service/internal/store"
)

// Metrics is the capability set the worker reports delivery outcomes
// through. Satisfied by internal/metrics.Recorder.
type Metrics interface {
	RecordDelivered(outcome string)
	RecordRetryScheduled()
}

type noopMetrics struct{}

func (noopMetrics) RecordDelivered(string)  {}
func (noopMetrics) RecordRetryScheduled()   {}

// Deliverer resolves one queued task to completion: HTTP POST to the
// subscription's target, then a single UpdateTaskAfterAttempt (or
// MarkTerminal) call that applies the retry state machine.
type Deliverer struct {
	httpClient  *http.Client
	subStore    store.SubscriptionStore
	taskStore   store.TaskStore
	cache       *cache.SubscriptionCache
	queue       *queue.Queue
	backoff     store.BackoffFunc
	maxRetries  int
	cacheExpiry time.Duration
	logger      *slog.Logger
	metrics     Metrics
}

func NewDeliverer(
	subStore store.SubscriptionStore,
	taskStore store.TaskStore,
	subCache *cache.SubscriptionCache,
	q *queue.Queue,
	cfg *config.Config,
	logger *slog.Logger,
	metrics Metrics,
) *Deliverer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Deliverer{
		httpClient:  &http.Client{Timeout: cfg.DeliveryTimeout},
		subStore:    subStore,
		taskStore:   taskStore,
		cache:       subCache,
		queue:       q,
		backoff:     NewBackoff(cfg),
		maxRetries:  cfg.MaxRetries,
		cacheExpiry: cfg.CacheExpiry,
		logger:      logger,
		metrics:     metrics,
	}
}

// Deliver claims, resolves, and records the outcome of one queued task.
// It never returns an error to the caller: every failure path is
// either logged or reflected in the task's own state.
func (d *Deliverer) Deliver(ctx context.Context, taskID string) {
	ok, err := d.taskStore.ClaimForProcessing(ctx, taskID)
	if err != nil {
		d.logger.Error("failed to claim task", "task_id", taskID, "error", err)
		return
	}
	if !ok {
		// Already claimed by another worker, already terminal, or a
		// redelivered duplicate that lost the race. Safe to drop.
		d.logger.Debug("task not claimable, skipping", "task_id", taskID)
		return
	}

	task, err := d.taskStore.LoadTask(ctx, taskID)
	if err != nil {
		d.logger.Error("failed to load claimed task", "task_id", taskID, "error", err)
		return
	}

	entry, err := d.resolveSubscription(ctx, task.SubscriptionID)
	if err != nil {
		d.logger.Error("subscription unresolvable, giving up on task",
			"task_id", taskID, "subscription_id", task.SubscriptionID, "error", err)
		if _, err := d.taskStore.MarkTerminal(ctx, taskID, err.Error()); err != nil {
			d.logger.Error("failed to mark task terminal", "task_id", taskID, "error", err)
		}
		d.metrics.RecordDelivered(domain.OutcomePermanentlyFailed)
		return
	}

	status, attemptErr := d.attempt(ctx, task.ID, entry.TargetURL, task.Payload)
	if attemptErr != nil {
		d.recordOutcome(ctx, task, status, strPtr(attemptErr.Error()), false)
		return
	}

	d.recordOutcome(ctx, task, status, nil, true)
}

// resolveSubscription looks up the subscription's delivery-relevant
// fields through the cache, falling back to the store on a miss and
// repopulating the cache afterward.
func (d *Deliverer) resolveSubscription(ctx context.Context, subscriptionID string) (*cache.Entry, error) {
	if entry, ok := d.cache.Get(ctx, subscriptionID); ok {
		return entry, nil
	}

	sub, err := d.subStore.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return nil, errors.New("subscription no longer exists")
	}

	entry := cache.Entry{
		TargetURL:       sub.TargetURL,
		Secret:          sub.Secret,
		EventTypeFilter: sub.EventTypeFilter,
	}
	d.cache.Put(ctx, subscriptionID, entry, d.cacheExpiry)
	return &entry, nil
}

// attempt executes the outbound HTTP POST. The returned status is
// non-nil whenever a response was received at all, even a non-2xx one;
// err is non-nil whenever the attempt counts as a failure.
func (d *Deliverer) attempt(ctx context.Context, taskID, targetURL string, payload []byte) (*int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", taskID)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return &status, nil
	}
	return &status, fmt.Errorf("target returned status %d", status)
}

func (d *Deliverer) recordOutcome(ctx context.Context, task *domain.DeliveryTask, status *int, errDetails *string, success bool) {
	updated, err := d.taskStore.UpdateTaskAfterAttempt(ctx, task.ID, status, errDetails, success, d.maxRetries, d.backoff)
	if err != nil {
		d.logger.Error("failed to record delivery attempt", "task_id", task.ID, "error", err)
		return
	}

	switch updated.Status {
	case domain.TaskSucceeded:
		d.metrics.RecordDelivered(domain.OutcomeSuccess)
		d.logger.Info("delivery succeeded", "task_id", task.ID, "subscription_id", task.SubscriptionID, "attempts", updated.AttemptsCount)
	case domain.TaskFailed:
		d.metrics.RecordDelivered(domain.OutcomePermanentlyFailed)
		d.logger.Error("delivery permanently failed", "task_id", task.ID, "subscription_id", task.SubscriptionID, "attempts", updated.AttemptsCount)
	case domain.TaskRetrying:
		d.metrics.RecordDelivered(domain.OutcomeFailedAttempt)
		d.metrics.RecordRetryScheduled()
		countdown := time.Until(*updated.NextAttemptAt)
		if err := d.queue.PublishDelayed(ctx, task.ID, countdown); err != nil {
			d.logger.Error("failed to requeue retry", "task_id", task.ID, "error", err)
		}
		d.logger.Warn("delivery failed, retry scheduled",
			"task_id", task.ID, "subscription_id", task.SubscriptionID,
			"attempts", updated.AttemptsCount, "next_attempt_at", updated.NextAttemptAt)
	}
}

// RecoverFatal handles a panic recovered from Deliver. Per the fatal
// path in the retry design, an internal failure before the outcome
// transaction commits still must leave a permanently_failed attempt
// and a failed task; if even that write fails, the panic is re-raised
// rather than swallowed. The queue does not redeliver on its own (the
// member was removed at claim time); the task is left in processing,
// where the orphan-rescue sweep republishes it.
func (d *Deliverer) RecoverFatal(ctx context.Context, taskID string, recovered any) {
	if _, err := d.taskStore.MarkTerminal(ctx, taskID, fmt.Sprintf("internal error: %v", recovered)); err != nil {
		d.logger.Error("failed to log fatal delivery error, re-raising for redelivery", "task_id", taskID, "error", err)
		panic(recovered)
	}
	d.metrics.RecordDelivered(domain.OutcomePermanentlyFailed)
}

func strPtr(s string) *string { return &s }
