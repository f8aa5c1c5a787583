// Package queue implements the job queue (C4): a durable FIFO plus
// delayed channel between ingestion and the delivery workers, backed
// by a Redis sorted set keyed by ready-time. Delivery is at-least-once;
// duplicate delivery is tolerated because the worker's claim step is
// idempotent.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key is the sorted-set name backing the ingest-to-delivery channel.
const Key = "delivery_queue"

// Queue publishes task IDs for delivery, immediately or after a delay.
type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Publish enqueues a task ID for immediate delivery.
func (q *Queue) Publish(ctx context.Context, taskID string) error {
	return q.publishAt(ctx, taskID, time.Now())
}

// PublishDelayed withholds the task ID from consumers for at least
// countdown before it becomes claimable.
func (q *Queue) PublishDelayed(ctx context.Context, taskID string, countdown time.Duration) error {
	return q.publishAt(ctx, taskID, time.Now().Add(countdown))
}

func (q *Queue) publishAt(ctx context.Context, taskID string, readyAt time.Time) error {
	err := q.client.ZAdd(ctx, Key, redis.Z{
		Score:  float64(readyAt.UnixMicro()),
		Member: taskID,
	}).Err()
	if err != nil {
		return fmt.Errorf("publishing task %s: %w", taskID, err)
	}
	return nil
}

// Depth returns the number of task IDs currently waiting (ready or not
// yet due) in the queue.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, Key).Result()
}

// ClaimReady removes up to count task IDs whose ready-time has passed
// and returns them. The batch is not atomic as a whole: each member is
// removed by its own ZRem, and that removal doubles as the
// broker's redelivery guard: if two dispatcher instances race for the
// same member, only one ZRem succeeds.
func (q *Queue) ClaimReady(ctx context.Context, count int64) ([]string, error) {
	now := float64(time.Now().UnixMicro())

	results, err := q.client.ZRangeByScoreWithScores(ctx, Key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling delivery queue: %w", err)
	}

	claimed := make([]string, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}

		removed, err := q.client.ZRem(ctx, Key, member).Result()
		if err != nil {
			return claimed, fmt.Errorf("claiming task %s: %w", member, err)
		}
		if removed == 0 {
			// Another dispatcher already claimed this member.
			continue
		}

		claimed = append(claimed, member)
	}

	return claimed, nil
}
