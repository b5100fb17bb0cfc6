// Package executor implements the bounded OCR worker pool (C3): a
// fixed-size set of goroutines draining an unbounded job queue, each job
// wrapping one page's OCR call.
//
// The worker-pool shape (fixed worker count, Start/Stop with a
// WaitGroup, a processing loop fed by a queue) is adapted
// in two ways from the usual bounded-channel pool: the queue itself is
// unbounded (OCR jobs are few per upload and must never be dropped the
// way a background block upload can be) and each job resolves a
// per-submission future rather than updating shared counters, since
// callers need the OCR result back, not just a pending/done count.
package executor

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/marmos91/mokuro-online/internal/logger"
	"github.com/marmos91/mokuro-online/internal/metrics"
	"github.com/marmos91/mokuro-online/internal/ocr"
	"github.com/marmos91/mokuro-online/internal/telemetry"
)

// unsupportedImageMessage is the user-facing string returned in place
// of the OCR model's internal exception message.
const unsupportedImageMessage = "Animation file, Corrupted file or Unsupported type"

// Job is one page's pending OCR work: the coalescer key, a display label
// for progress events, and the staged file to read.
type Job struct {
	Hash        string
	DisplayName string
	StagedPath  string
}

// Outcome is what a Job resolves to: either Result holds the OCR
// result's raw JSON (Err is nil), or Err explains why it doesn't.
type Outcome struct {
	Hash        string
	DisplayName string
	Result      []byte
	Err         error
}

// Config configures the worker pool. Workers is EXECUTOR_MAX_WORKERS;
// zero or negative defaults to 1.
type Config struct {
	Workers int
}

// Executor is the bounded OCR worker pool. The zero value is not usable;
// construct with New.
type Executor struct {
	loader  ocr.Loader
	workers int

	modelOnce sync.Once
	model     ocr.Model
	modelErr  error

	queue *unboundedQueue

	startOnce sync.Once
	wg        sync.WaitGroup

	metrics *metrics.Metrics
}

// SetMetrics attaches m so subsequent jobs and model loads record to it.
func (e *Executor) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// New constructs an Executor. loader is invoked at most once, by
// whichever worker (or Warmup call) first needs the model -- a
// "first caller pays init cost" singleton.
func New(loader ocr.Loader, cfg Config) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Executor{
		loader:  loader,
		workers: workers,
		queue:   newUnboundedQueue(),
	}
}

// Start launches the worker goroutines. Idempotent.
func (e *Executor) Start() {
	e.startOnce.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.run()
		}
	})
}

// Stop closes the queue and waits up to timeout for in-flight and
// already-queued jobs to finish.
func (e *Executor) Stop(timeout time.Duration) {
	e.queue.close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("executor stop timed out with jobs still running")
	}
}

// Submit enqueues job and returns a channel that receives exactly one
// Outcome once a worker processes it. The queue is unbounded: Submit
// never blocks on queue capacity.
func (e *Executor) Submit(j Job) <-chan Outcome {
	out := make(chan Outcome, 1)
	depth := e.queue.push(queuedJob{Job: j, out: out})
	e.metrics.SetQueueDepth(depth)
	return out
}

// Warmup eagerly pays the OCR model's init cost. Production calls this
// once at process start; it loads the model on the calling goroutine and
// queues no job. dev/test skip it and let the first real job pay the
// cost.
func (e *Executor) Warmup(ctx context.Context) error {
	e.ensureModel(ctx)
	return e.modelErr
}

func (e *Executor) ensureModel(ctx context.Context) {
	e.modelOnce.Do(func() {
		logger.Info("loading OCR model")
		start := time.Now()
		e.model, e.modelErr = e.loader(ctx)
		e.metrics.RecordModelLoad(time.Since(start).Seconds())
		if e.modelErr != nil {
			logger.Error("failed to load OCR model", "error", e.modelErr)
		}
	})
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		qj, ok := e.queue.pop()
		if !ok {
			return
		}
		e.metrics.SetQueueDepth(e.queue.len())
		start := time.Now()
		outcome := e.process(qj.Job)
		outcomeLabel := "success"
		if outcome.Err != nil {
			outcomeLabel = "error"
		}
		e.metrics.RecordJob(outcomeLabel, time.Since(start).Seconds())
		qj.out <- outcome
	}
}

// process verifies the staged file, invokes OCR, shapes the result, and
// releases the staged file in every case. Dropping the job's coalescer
// entry is the caller's responsibility (the factory that calls Submit
// also calls Coalescer.Drop after persisting the result, preserving the
// write-then-drop-then-resolve ordering), since the executor has no
// reference to the coalescer by design.
func (e *Executor) process(j Job) (outcome Outcome) {
	ctx := context.Background()
	ctx, span := telemetry.StartExecutorSpan(ctx, j.Hash, telemetry.ExecutorQueueDepth(e.queue.len()))
	defer func() {
		if outcome.Err != nil {
			telemetry.RecordError(ctx, outcome.Err)
			span.SetAttributes(telemetry.ExecutorOutcome("error"))
		} else {
			span.SetAttributes(telemetry.ExecutorOutcome("success"))
		}
		span.End()
	}()
	defer func() {
		if err := os.Remove(j.StagedPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to release staged file", "path", j.StagedPath, "error", err)
		}
	}()

	info, err := os.Stat(j.StagedPath)
	if err != nil {
		return Outcome{Hash: j.Hash, DisplayName: j.DisplayName, Err: err}
	}
	if !info.Mode().IsRegular() {
		return Outcome{Hash: j.Hash, DisplayName: j.DisplayName, Err: errors.New("staged path is not a regular file")}
	}

	e.ensureModel(ctx)
	if e.modelErr != nil {
		return Outcome{Hash: j.Hash, DisplayName: j.DisplayName, Err: e.modelErr}
	}

	result, err := e.model.Run(ctx, j.StagedPath)
	if err != nil {
		if errors.Is(err, ocr.ErrUnsupportedImage) {
			return Outcome{Hash: j.Hash, DisplayName: j.DisplayName, Err: errors.New(unsupportedImageMessage)}
		}
		return Outcome{Hash: j.Hash, DisplayName: j.DisplayName, Err: err}
	}
	return Outcome{Hash: j.Hash, DisplayName: j.DisplayName, Result: result}
}

type queuedJob struct {
	Job
	out chan Outcome
}

// unboundedQueue is a FIFO queue of arbitrary size guarded by a
// condition variable, used instead of a bounded channel so OCR
// submissions are never dropped for lack of queue capacity.
type unboundedQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queuedJob
	closed bool
}

func newUnboundedQueue() *unboundedQueue {
	q := &unboundedQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends j and returns the resulting queue depth.
func (q *unboundedQueue) push(j queuedJob) int {
	q.mu.Lock()
	q.items = append(q.items, j)
	depth := len(q.items)
	q.mu.Unlock()
	q.cond.Signal()
	return depth
}

func (q *unboundedQueue) pop() (queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return queuedJob{}, false
	}
	j := q.items[0]
	q.items = q.items[1:]
	return j, true
}

func (q *unboundedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *unboundedQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
