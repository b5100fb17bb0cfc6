package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for OCR coordination operations. These follow
// OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Page/hash attributes
	// ========================================================================
	AttrPageHash     = "page.hash"
	AttrPageFilename = "page.filename"
	AttrPageSize     = "page.size"

	// ========================================================================
	// Cache attributes
	// ========================================================================
	AttrCacheHit    = "cache.hit"
	AttrCacheSource = "cache.source"
	AttrCacheState  = "cache.state"
	AttrCacheSize   = "cache.size"
	AttrCacheStage  = "cache.eviction_stage"

	// ========================================================================
	// Coalescer attributes
	// ========================================================================
	AttrCoalescerJoined   = "coalescer.joined"
	AttrCoalescerInFlight = "coalescer.in_flight"

	// ========================================================================
	// Executor attributes
	// ========================================================================
	AttrExecutorQueueDepth = "executor.queue_depth"
	AttrExecutorOutcome    = "executor.outcome"

	// ========================================================================
	// Upload attributes
	// ========================================================================
	AttrUploadBatchSize = "upload.batch_size"
	AttrUploadRejected  = "upload.rejected_reason"
)

// Span names for operations.
const (
	SpanCacheLookup = "cache.lookup"
	SpanCacheWrite  = "cache.write"
	SpanCacheEvict  = "cache.evict"

	SpanCoalescerSubmit = "coalescer.submit"

	SpanExecutorJob = "executor.job"

	SpanUploadValidate = "upload.validate"
	SpanUploadDispatch = "upload.dispatch"
)

// ClientIP returns an attribute for client IP address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// PageHash returns an attribute for a page's content hash.
func PageHash(hash string) attribute.KeyValue {
	return attribute.String(AttrPageHash, hash)
}

// PageFilename returns an attribute for a page's original filename.
func PageFilename(name string) attribute.KeyValue {
	return attribute.String(AttrPageFilename, name)
}

// PageSize returns an attribute for a page's byte size.
func PageSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrPageSize, size)
}

// CacheHit returns an attribute for cache hit indicator.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// CacheState returns an attribute for cache entry state.
func CacheState(state string) attribute.KeyValue {
	return attribute.String(AttrCacheState, state)
}

// CacheStage returns an attribute for which eviction stage ran.
func CacheStage(stage string) attribute.KeyValue {
	return attribute.String(AttrCacheStage, stage)
}

// CoalescerJoined returns an attribute for whether a submission joined an
// existing in-flight request rather than starting a new one.
func CoalescerJoined(joined bool) attribute.KeyValue {
	return attribute.Bool(AttrCoalescerJoined, joined)
}

// CoalescerInFlight returns an attribute for the current in-flight count.
func CoalescerInFlight(n int) attribute.KeyValue {
	return attribute.Int(AttrCoalescerInFlight, n)
}

// ExecutorQueueDepth returns an attribute for the pending job queue depth.
func ExecutorQueueDepth(n int) attribute.KeyValue {
	return attribute.Int(AttrExecutorQueueDepth, n)
}

// ExecutorOutcome returns an attribute for a completed job's outcome.
func ExecutorOutcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrExecutorOutcome, outcome)
}

// UploadBatchSize returns an attribute for the number of files in an upload
// batch.
func UploadBatchSize(n int) attribute.KeyValue {
	return attribute.Int(AttrUploadBatchSize, n)
}

// UploadRejected returns an attribute naming why a file was rejected.
func UploadRejected(reason string) attribute.KeyValue {
	return attribute.String(AttrUploadRejected, reason)
}

// StartCacheSpan starts a span for a cache operation.
func StartCacheSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "cache."+operation, trace.WithAttributes(attrs...))
}

// StartCoalescerSpan starts a span for a coalescer submission.
func StartCoalescerSpan(ctx context.Context, hash string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{PageHash(hash)}, attrs...)
	return StartSpan(ctx, SpanCoalescerSubmit, trace.WithAttributes(allAttrs...))
}

// StartExecutorSpan starts a span for an OCR job's execution.
func StartExecutorSpan(ctx context.Context, hash string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{PageHash(hash)}, attrs...)
	return StartSpan(ctx, SpanExecutorJob, trace.WithAttributes(allAttrs...))
}

// StartUploadSpan starts a span for an upload pipeline stage.
func StartUploadSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, spanName, trace.WithAttributes(attrs...))
}
