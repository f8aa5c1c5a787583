package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) CreateTask(ctx context.Context, subscriptionID string, payload []byte) (*domain.DeliveryTask, error) {
	id := uuid.New().String()

	var t domain.DeliveryTask
	err := s.pool.QueryRow(ctx, `
		INSERT INTO delivery_tasks (id, subscription_id, payload, status, attempts_count)
		VALUES ($1, $2, $3, 'pending', 0)
		RETURNING id, subscription_id, payload, status, created_at, last_attempt_at,
		          next_attempt_at, attempts_count, last_http_status, last_error
	`, id, subscriptionID, payload).Scan(
		&t.ID, &t.SubscriptionID, &t.Payload, &t.Status, &t.CreatedAt,
		&t.LastAttemptAt, &t.NextAttemptAt, &t.AttemptsCount, &t.LastHTTPStatus, &t.LastError,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting delivery task: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) LoadTask(ctx context.Context, id string) (*domain.DeliveryTask, error) {
	var t domain.DeliveryTask
	err := s.pool.QueryRow(ctx, `
		SELECT id, subscription_id, payload, status, created_at, last_attempt_at,
		       next_attempt_at, attempts_count, last_http_status, last_error
		FROM delivery_tasks WHERE id = $1
	`, id).Scan(
		&t.ID, &t.SubscriptionID, &t.Payload, &t.Status, &t.CreatedAt,
		&t.LastAttemptAt, &t.NextAttemptAt, &t.AttemptsCount, &t.LastHTTPStatus, &t.LastError,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery task: %w", err)
	}
	return &t, nil
}

// ClaimForProcessing is the conditional-UPDATE lease: it transitions
// status to processing only when the prior status was pending or
// retrying. The affected row count is the only signal needed — a
// redelivered duplicate or a second worker racing for the same task
// sees ok=false and discards.
func (s *PostgresStore) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_tasks SET status = 'processing'
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`, id)
	if err != nil {
		return false, fmt.Errorf("claiming delivery task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateTaskAfterAttempt(ctx context.Context, taskID string, httpStatus *int, errorDetails *string, success bool, maxRetries int, backoff BackoffFunc) (*domain.DeliveryTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var attemptsCount int
	if err := tx.QueryRow(ctx, `SELECT attempts_count FROM delivery_tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&attemptsCount); err != nil {
		return nil, fmt.Errorf("locking delivery task: %w", err)
	}
	attemptsCount++

	outcome := domain.OutcomeFailedAttempt
	status := domain.TaskRetrying
	var nextAttemptAt *time.Time

	switch {
	case success:
		outcome = domain.OutcomeSuccess
		status = domain.TaskSucceeded
	case attemptsCount >= maxRetries:
		outcome = domain.OutcomePermanentlyFailed
		status = domain.TaskFailed
	default:
		delay := backoff(attemptsCount)
		at := time.Now().UTC().Add(delay)
		nextAttemptAt = &at
	}

	now := time.Now().UTC()

	attemptID := uuid.New().String()
	if _, err := tx.Exec(ctx, `
		INSERT INTO delivery_attempts (id, delivery_task_id, attempt_number, timestamp, outcome, http_status, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attemptID, taskID, attemptsCount, now, outcome, httpStatus, errorDetails); err != nil {
		return nil, fmt.Errorf("inserting delivery attempt: %w", err)
	}

	var t domain.DeliveryTask
	if err := tx.QueryRow(ctx, `
		UPDATE delivery_tasks
		SET attempts_count = $2, status = $3, last_attempt_at = $4, next_attempt_at = $5,
		    last_http_status = $6, last_error = $7
		WHERE id = $1
		RETURNING id, subscription_id, payload, status, created_at, last_attempt_at,
		          next_attempt_at, attempts_count, last_http_status, last_error
	`, taskID, attemptsCount, status, now, nextAttemptAt, httpStatus, errorDetails).Scan(
		&t.ID, &t.SubscriptionID, &t.Payload, &t.Status, &t.CreatedAt,
		&t.LastAttemptAt, &t.NextAttemptAt, &t.AttemptsCount, &t.LastHTTPStatus, &t.LastError,
	); err != nil {
		return nil, fmt.Errorf("updating delivery task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing attempt transaction: %w", err)
	}

	return &t, nil
}

// MarkTerminal finalizes a task as failed with a synthetic
// permanently_failed attempt, for give-up paths that never reach an
// HTTP attempt (missing subscription, missing target_url, internal
// panic recovered before the ordinary transaction committed).
func (s *PostgresStore) MarkTerminal(ctx context.Context, taskID string, errorDetails string) (*domain.DeliveryTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var attemptsCount int
	if err := tx.QueryRow(ctx, `SELECT attempts_count FROM delivery_tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&attemptsCount); err != nil {
		return nil, fmt.Errorf("locking delivery task: %w", err)
	}
	attemptsCount++
	now := time.Now().UTC()
	errDetails := errorDetails

	attemptID := uuid.New().String()
	if _, err := tx.Exec(ctx, `
		INSERT INTO delivery_attempts (id, delivery_task_id, attempt_number, timestamp, outcome, error_details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, attemptID, taskID, attemptsCount, now, domain.OutcomePermanentlyFailed, errDetails); err != nil {
		return nil, fmt.Errorf("inserting terminal attempt: %w", err)
	}

	var t domain.DeliveryTask
	if err := tx.QueryRow(ctx, `
		UPDATE delivery_tasks
		SET attempts_count = $2, status = 'failed', last_attempt_at = $3, next_attempt_at = NULL, last_error = $4
		WHERE id = $1
		RETURNING id, subscription_id, payload, status, created_at, last_attempt_at,
		          next_attempt_at, attempts_count, last_http_status, last_error
	`, taskID, attemptsCount, now, errDetails).Scan(
		&t.ID, &t.SubscriptionID, &t.Payload, &t.Status, &t.CreatedAt,
		&t.LastAttemptAt, &t.NextAttemptAt, &t.AttemptsCount, &t.LastHTTPStatus, &t.LastError,
	); err != nil {
		return nil, fmt.Errorf("finalizing delivery task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing terminal transaction: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) GetTaskWithAttempts(ctx context.Context, taskID string) (*domain.TaskWithAttempts, error) {
	task, err := s.LoadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, delivery_task_id, attempt_number, timestamp, outcome, http_status, error_details
		FROM delivery_attempts
		WHERE delivery_task_id = $1
		ORDER BY attempt_number ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.DeliveryAttempt{}
	for rows.Next() {
		var a domain.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.DeliveryTaskID, &a.AttemptNumber, &a.Timestamp, &a.Outcome, &a.HTTPStatus, &a.ErrorDetails); err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	return &domain.TaskWithAttempts{DeliveryTask: *task, Attempts: attempts}, nil
}

func (s *PostgresStore) ListRecentAttemptsForSubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.delivery_task_id, a.attempt_number, a.timestamp, a.outcome, a.http_status, a.error_details
		FROM delivery_attempts a
		JOIN delivery_tasks t ON t.id = a.delivery_task_id
		WHERE t.subscription_id = $1
		ORDER BY a.timestamp DESC
		LIMIT $2
	`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying subscription attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.DeliveryAttempt{}
	for rows.Next() {
		var a domain.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.DeliveryTaskID, &a.AttemptNumber, &a.Timestamp, &a.Outcome, &a.HTTPStatus, &a.ErrorDetails); err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// ListOrphans finds tasks stuck in pending/processing with no recent
// activity, for the orphan-rescue sweep covering the crash windows
// between task commit and queue publish, and between the processing
// transition and attempt completion.
func (s *PostgresStore) ListOrphans(ctx context.Context, before time.Time, limit int) ([]domain.DeliveryTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, payload, status, created_at, last_attempt_at,
		       next_attempt_at, attempts_count, last_http_status, last_error
		FROM delivery_tasks
		WHERE status IN ('pending', 'processing')
		  AND COALESCE(last_attempt_at, created_at) < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("querying orphan tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.DeliveryTask{}
	for rows.Next() {
		var t domain.DeliveryTask
		if err := rows.Scan(&t.ID, &t.SubscriptionID, &t.Payload, &t.Status, &t.CreatedAt,
			&t.LastAttemptAt, &t.NextAttemptAt, &t.AttemptsCount, &t.LastHTTPStatus, &t.LastError); err != nil {
			return nil, fmt.Errorf("scanning orphan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// RequeueOrphan resets a stuck task back to pending so the normal
// ClaimForProcessing lease can pick it up again after republish. Only
// pending/processing tasks are reset; a task that has since reached a
// terminal or retrying state is left untouched.
func (s *PostgresStore) RequeueOrphan(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE delivery_tasks SET status = 'pending'
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id)
	if err != nil {
		return fmt.Errorf("requeuing orphan task %s: %w", id, err)
	}
	return nil
}

// DeleteAttemptsBefore and DeleteTerminalTasksBefore run in bounded
// batches so the retention sweeper never holds a long-running
// transaction against a hot table.
func (s *PostgresStore) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM delivery_attempts
		WHERE id IN (
			SELECT id FROM delivery_attempts WHERE timestamp < $1 LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("deleting old delivery attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM delivery_tasks
		WHERE id IN (
			SELECT id FROM delivery_tasks
			WHERE status IN ('succeeded', 'failed') AND last_attempt_at < $1
			LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("deleting terminal delivery tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}
