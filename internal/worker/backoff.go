package worker

import (
	"math"
	"time"

	"github.com/Eldrago12/webhook-delivery-service/internal/config"
)

// NewBackoff builds the bounded exponential backoff schedule:
// delay(n) = min(base * factor^(n-1), max), where n is the
// attempts_count that will result from the attempt being recorded.
func NewBackoff(cfg *config.Config) func(attemptsCount int) time.Duration {
	base := cfg.RetryBaseDelay
	factor := float64(cfg.RetryFactor)
	max := cfg.MaxRetryDelay

	return func(attemptsCount int) time.Duration {
		if attemptsCount < 1 {
			attemptsCount = 1
		}
		delay := time.Duration(float64(base) * math.Pow(factor, float64(attemptsCount-1)))
		if delay > max {
			return max
		}
		return delay
	}
}
