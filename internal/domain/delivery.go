package domain

import (
	"encoding/json"
	"time"
)

// Task status values. Terminal states (Succeeded, Failed) are absorbing:
// once set, the worker never mutates status, attempts_count, or
// next_attempt_at again for that task.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskRetrying   = "retrying"
	TaskSucceeded  = "succeeded"
	TaskFailed     = "failed"
)

// Attempt outcome values.
const (
	OutcomeSuccess           = "success"
	OutcomeFailedAttempt     = "failed_attempt"
	OutcomePermanentlyFailed = "permanently_failed"
)

// DeliveryTask is one event queued for delivery to one subscription.
type DeliveryTask struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
	AttemptsCount  int             `json:"attempts_count"`
	LastHTTPStatus *int            `json:"last_http_status,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
}

// Terminal reports whether the task has reached an absorbing status.
func (t *DeliveryTask) Terminal() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}

// DeliveryAttempt is the persistent record of a single outbound HTTP POST
// and its outcome. Append-only: never mutated after commit.
type DeliveryAttempt struct {
	ID             string    `json:"id"`
	DeliveryTaskID string    `json:"delivery_task_id"`
	AttemptNumber  int       `json:"attempt_number"`
	Timestamp      time.Time `json:"timestamp"`
	Outcome        string    `json:"outcome"`
	HTTPStatus     *int      `json:"http_status,omitempty"`
	ErrorDetails   *string   `json:"error_details,omitempty"`
}

// TaskWithAttempts is the status-query projection for a single task.
type TaskWithAttempts struct {
	DeliveryTask
	Attempts []DeliveryAttempt `json:"attempts"`
}
