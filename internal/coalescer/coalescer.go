// Package coalescer implements the in-flight request coalescer (C2): it
// guarantees at-most-one concurrent OCR job per hash across all clients,
// handing admitted jobs to the bounded OCR executor (C3) and letting
// every concurrent caller for the same hash observe the same outcome.
//
// Built around golang.org/x/sync/singleflight as the de-duplication
// primitive: singleflight.Group.DoChan already gives an
// exactly-once-while-in-flight guarantee and a channel-shaped future,
// which is exactly what submit-or-join needs. The coalescer adds its
// own inflight set (kept in lockstep under one mutex) purely so
// Contains can answer synchronously -- singleflight itself exposes no
// "is a call in flight" query.
package coalescer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/marmos91/mokuro-online/internal/metrics"
	"github.com/marmos91/mokuro-online/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// Result is what a coalesced job resolves to: either an OCR result or
// an error message, scoped to one hash/display-name pair.
type Result struct {
	Hash        string
	DisplayName string
	OCRResult   json.RawMessage
	Err         error
}

// Coalescer maps in-flight hashes to shared completion futures.
type Coalescer struct {
	mu       sync.Mutex
	group    singleflight.Group
	inflight map[string]struct{}
	metrics  *metrics.Metrics
}

// New returns an empty coalescer.
func New() *Coalescer {
	return &Coalescer{inflight: make(map[string]struct{})}
}

// SetMetrics attaches m so subsequent submissions and drops record to it.
func (c *Coalescer) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// SubmitOrJoin looks up hash; if a job for it is already in flight, the
// returned channel joins that job's outcome. Otherwise factory is
// admitted: it is invoked exactly once, in its own goroutine, and every
// caller -- including the one that admitted it -- receives the same
// Result over its own buffered channel once factory returns.
//
// factory is responsible for invoking the executor (C3) and blocking
// until the job completes; the coalescer itself holds no worker-pool
// state (Design Note "coalescer + executor split").
func (c *Coalescer) SubmitOrJoin(hash string, factory func() Result) <-chan Result {
	c.mu.Lock()
	_, joined := c.inflight[hash]
	c.inflight[hash] = struct{}{}
	size := len(c.inflight)
	c.mu.Unlock()

	c.metrics.RecordSubmission(joined)
	c.metrics.SetInFlight(size)

	_, span := telemetry.StartCoalescerSpan(context.Background(), hash,
		telemetry.CoalescerJoined(joined), telemetry.CoalescerInFlight(size))
	span.End()

	sfChan := c.group.DoChan(hash, func() (interface{}, error) {
		return factory(), nil
	})

	out := make(chan Result, 1)
	go func() {
		sfRes := <-sfChan
		result, _ := sfRes.Val.(Result)
		out <- result
	}()
	return out
}

// Drop removes hash from the in-flight set. Callers invoke this exactly
// once per admitted job, after the job's result has been persisted to
// the cache and before resolving waiters: write to cache -> drop from
// coalescer -> resolve the future. It is a no-op on the singleflight
// side, which self-cleans once factory returns; Drop only keeps
// Contains truthful in the meantime.
func (c *Coalescer) Drop(hash string) {
	c.mu.Lock()
	delete(c.inflight, hash)
	size := len(c.inflight)
	c.mu.Unlock()
	c.metrics.SetInFlight(size)
}

// Contains reports whether a job for hash is currently in flight. Used
// by the hash-check endpoint to partition hashes into new/queue/cached.
func (c *Coalescer) Contains(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[hash]
	return ok
}
