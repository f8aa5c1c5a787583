package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Eldrago12/webhook-delivery-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	id := uuid.New().String()

	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, target_url, secret, event_type_filter)
		VALUES ($1, $2, $3, $4)
		RETURNING id, target_url, COALESCE(secret, ''), event_type_filter, created_at, updated_at
	`, id, req.TargetURL, req.Secret, req.EventTypeFilter).Scan(
		&sub.ID, &sub.TargetURL, &sub.Secret, &sub.EventTypeFilter, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT id, target_url, COALESCE(secret, ''), event_type_filter, created_at, updated_at
		FROM subscriptions WHERE id = $1
	`, id).Scan(
		&sub.ID, &sub.TargetURL, &sub.Secret, &sub.EventTypeFilter, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_url, COALESCE(secret, ''), event_type_filter, created_at, updated_at
		FROM subscriptions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(&sub.ID, &sub.TargetURL, &sub.Secret, &sub.EventTypeFilter, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	return subs, nil
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.TargetURL != nil {
		setClauses = append(setClauses, fmt.Sprintf("target_url = $%d", argIdx))
		args = append(args, *req.TargetURL)
		argIdx++
	}
	if req.Secret != nil {
		setClauses = append(setClauses, fmt.Sprintf("secret = $%d", argIdx))
		args = append(args, *req.Secret)
		argIdx++
	}
	if req.EventTypeFilter != nil {
		setClauses = append(setClauses, fmt.Sprintf("event_type_filter = $%d", argIdx))
		args = append(args, *req.EventTypeFilter)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetSubscription(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE subscriptions SET %s
		WHERE id = $%d
		RETURNING id, target_url, COALESCE(secret, ''), event_type_filter, created_at, updated_at
	`, strings.Join(setClauses, ", "), argIdx)
	args = append(args, id)

	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sub.ID, &sub.TargetURL, &sub.Secret, &sub.EventTypeFilter, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription. Cascades to its tasks and
// their attempts via the FK's ON DELETE CASCADE.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
