// Package cache implements the subscription cache (C1): a bounded-TTL
// Redis lookup that shields the hot ingestion and delivery paths from
// the database. It is never a correctness authority — a miss or a
// corrupted entry always falls back to the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is the cached shape of a subscription's delivery-relevant
// fields, intentionally narrower than domain.Subscription.
type Entry struct {
	TargetURL       string  `json:"target_url"`
	Secret          string  `json:"secret"`
	EventTypeFilter *string `json:"event_type_filter"`
}

// SubscriptionCache maps subscription_id -> Entry with a configurable TTL.
type SubscriptionCache struct {
	client *redis.Client
	logger *slog.Logger
}

func New(client *redis.Client, logger *slog.Logger) *SubscriptionCache {
	return &SubscriptionCache{client: client, logger: logger}
}

func key(subscriptionID string) string {
	return fmt.Sprintf("subscription:%s", subscriptionID)
}

// Get returns the cached entry and true on a hit. A corrupted
// (unparseable) entry is treated as a miss and invalidated, per the
// cache coherence contract.
func (c *SubscriptionCache) Get(ctx context.Context, subscriptionID string) (*Entry, bool) {
	raw, err := c.client.Get(ctx, key(subscriptionID)).Result()
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("corrupted subscription cache entry, invalidating",
			"subscription_id", subscriptionID, "error", err)
		c.Invalidate(ctx, subscriptionID)
		return nil, false
	}

	return &entry, true
}

// Put overwrites the cached entry with the given TTL. Called
// write-through from subscription create/update, after the database
// commit.
func (c *SubscriptionCache) Put(ctx context.Context, subscriptionID string, entry Entry, ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("failed to marshal subscription cache entry", "error", err)
		return
	}
	if err := c.client.Set(ctx, key(subscriptionID), data, ttl).Err(); err != nil {
		c.logger.Error("failed to write subscription cache entry", "error", err, "subscription_id", subscriptionID)
	}
}

// Invalidate removes the cached entry. Called from subscription delete
// and defensively on corrupted entries.
func (c *SubscriptionCache) Invalidate(ctx context.Context, subscriptionID string) {
	if err := c.client.Del(ctx, key(subscriptionID)).Err(); err != nil {
		c.logger.Error("failed to invalidate subscription cache entry", "error", err, "subscription_id", subscriptionID)
	}
}
