package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the OCR coordination
// service. Use these consistently so log aggregation/querying stays uniform
// across the cache, coalescer, executor, and HTTP layers.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// HTTP / request
	KeyRequestID = "request_id"
	KeyMethod    = "method"
	KeyPath      = "path"
	KeyStatus    = "status"
	KeyRemoteIP  = "remote_addr"

	// Domain
	KeyHash        = "hash"
	KeyDisplayName = "display_name"
	KeyStagedPath  = "staged_path"
	KeyCategory    = "category"

	// Cache layer
	KeyCacheHit      = "cache_hit"
	KeyCacheBackend  = "cache_backend"
	KeyCacheSize     = "cache_size"
	KeyCacheCapacity = "cache_capacity"
	KeyEvicted       = "evicted"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyBytes      = "bytes"
	KeyWorkers    = "workers"
)

// RequestIDStr returns a slog.Attr for the HTTP request id.
func RequestIDStr(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Hash returns a slog.Attr for a page hash.
func Hash(h string) slog.Attr {
	return slog.String(KeyHash, h)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// CacheHit returns a slog.Attr for a cache hit/miss indicator.
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// CacheSize returns a slog.Attr for the current cache size in bytes.
func CacheSize(size int64) slog.Attr {
	return slog.Int64(KeyCacheSize, size)
}

// Evicted returns a slog.Attr for the number of entries evicted in a sweep.
func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}
