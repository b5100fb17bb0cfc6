package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/mokuro-online/internal/logger"
	"github.com/marmos91/mokuro-online/internal/telemetry"
)

// deleteOldestBatch is the batch size used by the max-size eviction
// pass: repeatedly pick the 10 rows with smallest updated timestamp.
const deleteOldestBatch = 10

// sweep runs the three-stage eviction algorithm after a mutating
// operation: expire, then threshold, then max-size. Errors are logged
// and swallowed — eviction is advisory housekeeping, not a request-path
// failure (momentary overshoot by one in-flight insert is allowed, and
// a failed sweep simply means the next mutation tries again).
func (c *Cache) sweep(ctx context.Context) {
	ctx, span := telemetry.StartCacheSpan(ctx, "evict")
	defer span.End()

	now := time.Now()

	if n, err := c.backend.DeleteExpired(ctx, now); err != nil {
		logger.Error("cache eviction: delete expired failed", logger.KeyError, err.Error())
	} else if n > 0 {
		logger.Debug("cache eviction: expired rows removed", "count", n)
		c.metrics.RecordEviction("expired", int(n))
		span.AddEvent("expired", trace.WithAttributes(telemetry.CacheStage("expired")))
	}

	if c.cfg.Threshold > 0 {
		count, err := c.backend.Count(ctx)
		if err != nil {
			logger.Error("cache eviction: count failed", logger.KeyError, err.Error())
		} else if count > c.cfg.Threshold {
			excess := int(count - c.cfg.Threshold)
			keys, _, err := c.backend.DeleteOldest(ctx, excess)
			if err != nil {
				logger.Error("cache eviction: threshold sweep failed", logger.KeyError, err.Error())
			} else if len(keys) > 0 {
				logger.Debug("cache eviction: threshold exceeded", "removed", len(keys), logger.Evicted(len(keys)))
				c.metrics.RecordEviction("threshold", len(keys))
				span.AddEvent("threshold", trace.WithAttributes(telemetry.CacheStage("threshold")))
			}
		}
	}

	if c.cfg.MaxSize > 0 {
		total, err := c.backend.TotalBytes(ctx)
		if err != nil {
			logger.Error("cache eviction: total bytes failed", logger.KeyError, err.Error())
			return
		}
		evicted := 0
		for total > c.cfg.MaxSize {
			keys, freed, err := c.backend.DeleteOldest(ctx, deleteOldestBatch)
			if err != nil {
				logger.Error("cache eviction: size sweep failed", logger.KeyError, err.Error())
				return
			}
			if len(keys) == 0 {
				break
			}
			total -= freed
			evicted += len(keys)
		}
		if evicted > 0 {
			logger.Debug("cache eviction: max size exceeded", logger.Evicted(evicted), logger.CacheSize(total))
			c.metrics.RecordEviction("size", evicted)
			span.AddEvent("size", trace.WithAttributes(telemetry.CacheStage("size")))
		}
	}

	if count, err := c.backend.Count(ctx); err == nil {
		if total, err := c.backend.TotalBytes(ctx); err == nil {
			c.metrics.SetCacheSize(count, total)
		}
	}
}
