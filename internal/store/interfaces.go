package store

import (
	"context"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/domain"
)

// SubscriptionStore is the capability set for subscription persistence.
// Defined as an interface (per the polymorphic-store design) so tests
// can substitute an in-memory fake without a real database.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) (bool, error)
}

// AttemptRecord carries the result of one delivery attempt, written
// together with the task mutation inside a single transaction.
type AttemptRecord struct {
	Outcome      string
	HTTPStatus   *int
	ErrorDetails *string
}

// BackoffFunc computes the delay before the next attempt, given the
// attempts_count that will result from the attempt being recorded.
type BackoffFunc func(attemptsCount int) time.Duration

// TaskStore is the capability set for delivery task persistence. All
// writes that affect a task's retry state go through these methods;
// no caller composes raw SQL against delivery_tasks/delivery_attempts
// outside this package.
type TaskStore interface {
	CreateTask(ctx context.Context, subscriptionID string, payload []byte) (*domain.DeliveryTask, error)
	LoadTask(ctx context.Context, id string) (*domain.DeliveryTask, error)

	// ClaimForProcessing transitions status from pending/retrying to
	// processing, using the update row-count as the single-owner lease
	// described in the concurrency model. ok=false means another worker
	// (or a redelivered duplicate) already claimed the task, or it is
	// already terminal.
	ClaimForProcessing(ctx context.Context, id string) (ok bool, err error)

	// UpdateTaskAfterAttempt appends a new DeliveryAttempt and applies
	// the resulting task mutation in a single transaction. success=true
	// records outcome=success; otherwise the store itself applies the
	// outcome rule: attempts_count>=maxRetries upgrades the attempt to
	// permanently_failed and finalizes the task as failed, otherwise the
	// task moves to retrying with next_attempt_at from backoff.
	UpdateTaskAfterAttempt(ctx context.Context, taskID string, httpStatus *int, errorDetails *string, success bool, maxRetries int, backoff BackoffFunc) (*domain.DeliveryTask, error)

	// MarkTerminal force-finalizes a task (e.g. missing subscription)
	// with a synthetic permanently_failed attempt, used by the worker's
	// give-up paths that never reach an HTTP attempt.
	MarkTerminal(ctx context.Context, taskID string, errorDetails string) (*domain.DeliveryTask, error)

	GetTaskWithAttempts(ctx context.Context, taskID string) (*domain.TaskWithAttempts, error)
	ListRecentAttemptsForSubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error)

	// ListOrphans returns pending/processing tasks with no activity
	// since before, for the orphan-rescue sweep.
	ListOrphans(ctx context.Context, before time.Time, limit int) ([]domain.DeliveryTask, error)

	// RequeueOrphan resets a stuck pending/processing task to pending
	// so the next claim-and-publish cycle can pick it up.
	RequeueOrphan(ctx context.Context, id string) error

	DeleteAttemptsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}
