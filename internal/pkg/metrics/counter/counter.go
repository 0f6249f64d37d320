package counter

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusdeck/nimbusdeck/internal/pkg/cache"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/database"
)

const metricsKey = "telemetry:counters"

// AddWebhookEvent increments the pending counter for a processed webhook event type.
func AddWebhookEvent(eventType string) error {
	return incr("webhook:" + sanitize(eventType))
}

// AddRateLimitHit increments the pending counter for a rejected request under a policy.
func AddRateLimitHit(policy string) error {
	return incr("ratelimit:" + sanitize(policy))
}

// AddErrorReport increments the pending counter for a received error report category.
func AddErrorReport(category string) error {
	return incr("errors:" + sanitize(category))
}

func incr(metric string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, metricsKey, metric, 1).Err()
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}

// FlushAll drains the Redis counter hash and applies batched increments to
// the stat_counters table. Uses RENAME to a temporary key for atomic drain
// without losing in-flight increments.
func FlushAll() error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", metricsKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", metricsKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("counter: database unavailable")
	}

	date := time.Now().Format("2006-01-02")
	for metric, raw := range data {
		inc, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || inc == 0 {
			continue
		}
		err = db.Exec(
			"INSERT INTO stat_counters (date, metric, count, created_at, updated_at) VALUES (?, ?, ?, NOW(), NOW()) "+
				"ON DUPLICATE KEY UPDATE count = count + VALUES(count), updated_at = NOW()",
			date, metric, inc,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// StartFlushLoop flushes counters on a fixed interval until the returned
// stop function is called.
func StartFlushLoop(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := FlushAll(); err != nil {
					log.Printf("telemetry flush failed: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
