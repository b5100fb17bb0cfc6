// Package upload implements the upload pipeline (C4): it reads a
// multipart request where each part's form-field name is the client's
// claimed page hash, validates and stages each part through nine
// ordered checks, and dispatches staged jobs through the coalescer (C2)
// to the executor (C3), yielding progress events in submission order.
//
// The validation order, the STRICT_NEW_IMAGES abort, the staged
// temp-file naming, and the dispatch-then-await-completion shape are
// re-expressed here with an explicit Event channel in place of a
// per-request flash-message queue.
package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/mokuro-online/internal/coalescer"
	"github.com/marmos91/mokuro-online/internal/executor"
	"github.com/marmos91/mokuro-online/internal/logger"
)

// hashPattern matches a lowercase 32-hex-character MD5 digest, the same
// canonical key shape internal/cache enforces.
var hashPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

const stagedFilePrefix = "mokuro_page_"

// Event is one progress message the pipeline emits while processing an
// upload. Category is "info", "error", or "success" (job outcomes use
// "success"/"error"; everything else uses "info"/"error").
type Event struct {
	Message  string
	Category string
}

// ResultCache is the subset of *cache.ResultCache the pipeline needs:
// checking for an existing page and persisting a freshly-OCR'd one.
type ResultCache interface {
	Has(ctx context.Context, hash string) (bool, error)
	SetResult(ctx context.Context, hash string, result json.RawMessage, ttl time.Duration) error
}

// Config configures validation limits and strictness.
type Config struct {
	// MaxImageSize is the largest accepted part, in bytes.
	MaxImageSize int64

	// StrictNewImages aborts the whole upload on an oversized or
	// hash-mismatched part instead of skipping just that part.
	StrictNewImages bool

	// ResultTTL is the expiry handed to ResultCache.SetResult for newly
	// cached pages. Zero means never expire.
	ResultTTL time.Duration
}

// Pipeline wires the validation/staging pipeline to the coalescer and
// executor.
type Pipeline struct {
	cache     ResultCache
	coalescer *coalescer.Coalescer
	executor  *executor.Executor
	cfg       Config
}

// New constructs a Pipeline.
func New(cache ResultCache, co *coalescer.Coalescer, ex *executor.Executor, cfg Config) *Pipeline {
	return &Pipeline{cache: cache, coalescer: co, executor: ex, cfg: cfg}
}

// staged records one part's outcome after the validation loop: either a
// freshly written temp file awaiting submission, or a hash that was
// already in flight when encountered (a joiner, dispatched against
// whatever job is already running for it).
type staged struct {
	hash        string
	displayName string
	path        string // empty for joiners
	joiner      bool
}

// Process reads mr to completion, validating, staging and dispatching
// jobs, and returns a channel of progress events. The channel is closed
// once every job has resolved. The caller decides how to serialize the
// events (streamed as jsonlines, or buffered into one JSON array).
func (p *Pipeline) Process(ctx context.Context, mr *multipart.Reader) <-chan Event {
	events := make(chan Event, 32)
	go func() {
		defer close(events)
		p.run(ctx, mr, events)
	}()
	return events
}

func (p *Pipeline) run(ctx context.Context, mr *multipart.Reader, events chan<- Event) {
	var toDispatch []staged
	seen := make(map[string]struct{})
	aborted := false

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			events <- Event{Message: "Upload could not be read: " + err.Error(), Category: "error"}
			break
		}

		st := p.validateAndStage(ctx, part, seen, events)
		part.Close()
		if st.staged != nil {
			toDispatch = append(toDispatch, *st.staged)
		}
		if st.abort {
			aborted = true
			break
		}
	}

	if aborted {
		for _, s := range toDispatch {
			if !s.joiner {
				os.Remove(s.path)
			}
		}
		return
	}

	if len(toDispatch) == 0 {
		events <- Event{Message: "No files were processed", Category: "info"}
		return
	}

	futures := make([]<-chan coalescer.Result, len(toDispatch))
	for i, job := range toDispatch {
		job := job
		if job.joiner {
			futures[i] = p.coalescer.SubmitOrJoin(job.hash, p.joinFactory(job.hash, job.displayName))
		} else {
			futures[i] = p.coalescer.SubmitOrJoin(job.hash, p.jobFactory(ctx, job.hash, job.displayName, job.path))
		}
	}

	for i, future := range futures {
		res := <-future
		if res.Err != nil {
			events <- Event{Message: fmt.Sprintf("Failed OCR of %q: %s", toDispatch[i].displayName, res.Err.Error()), Category: "error"}
		} else {
			events <- Event{Message: fmt.Sprintf("Finished OCR of %q successfully", toDispatch[i].displayName), Category: "success"}
		}
	}

	events <- Event{Message: fmt.Sprintf("Finished OCR of all %d files", len(toDispatch)), Category: "info"}
}

// validationOutcome is the per-part result of validateAndStage: abort
// signals the strict-mode whole-upload termination; staged is non-nil
// only for parts that should be dispatched after the loop.
type validationOutcome struct {
	abort  bool
	staged *staged
}

// validateAndStage runs nine ordered checks against one multipart part,
// emitting the event for the first failing check (if any) and returning
// what, if anything, should be dispatched.
//
// seen tracks hashes already staged earlier in the same request: two
// parts claiming the same hash within one multipart body would
// otherwise both slip past the coalescer/cache checks (dispatch only
// happens once the whole request has been read) and stage two jobs for
// the same hash, so an in-batch dedup check supplements the nine.
func (p *Pipeline) validateAndStage(ctx context.Context, part *multipart.Part, seen map[string]struct{}, events chan<- Event) validationOutcome {
	hash := strings.ToLower(part.FormName())
	displayName := part.FileName()

	// Check 1: form key is a valid hash.
	if !hashPattern.MatchString(hash) {
		events <- Event{Message: "File form key is not a valid hash", Category: "error"}
		return validationOutcome{}
	}

	if _, dup := seen[hash]; dup {
		events <- Event{Message: "The same page was already uploaded in this request", Category: "info"}
		return validationOutcome{}
	}

	// Check 2: a job for this hash is already in flight.
	if p.coalescer.Contains(hash) {
		events <- Event{Message: "Already have file in queue", Category: "info"}
		seen[hash] = struct{}{}
		return validationOutcome{staged: &staged{hash: hash, displayName: displayName, joiner: true}}
	}

	// Check 3: already cached, no OCR needed.
	has, err := p.cache.Has(ctx, hash)
	if err != nil {
		events <- Event{Message: "Failed checking cache for " + hash + ": " + err.Error(), Category: "error"}
		return validationOutcome{}
	}
	if has {
		events <- Event{Message: "Already have file in cache", Category: "info"}
		return validationOutcome{}
	}

	// Check 4: advertised content length, if present.
	if cl, ok := declaredContentLength(part); ok && cl > p.cfg.MaxImageSize {
		events <- Event{Message: tooLargeMessage(p.cfg.MaxImageSize), Category: "error"}
		return validationOutcome{}
	}

	// Check 5: advertised MIME type, if present.
	if mt := part.Header.Get("Content-Type"); mt != "" && !strings.HasPrefix(mt, "image/") {
		events <- Event{Message: "Files need to be images", Category: "error"}
		return validationOutcome{}
	}

	blob, err := io.ReadAll(part)
	if err != nil {
		events <- Event{Message: "Failed reading upload: " + err.Error(), Category: "error"}
		return validationOutcome{}
	}

	// Check 6: empty body.
	if len(blob) == 0 {
		events <- Event{Message: "Empty file was uploaded", Category: "error"}
		return validationOutcome{}
	}

	// Check 7: actual size, strict-aware.
	if int64(len(blob)) > p.cfg.MaxImageSize {
		events <- Event{Message: tooLargeMessage(p.cfg.MaxImageSize), Category: "error"}
		if p.cfg.StrictNewImages {
			events <- Event{Message: "Ignoring new images because of unacceptable client error", Category: "error"}
			return validationOutcome{abort: true}
		}
		return validationOutcome{}
	}

	// Check 8: claimed hash must match the actual MD5, strict-aware.
	sum := md5.Sum(blob)
	actual := hex.EncodeToString(sum[:])
	if actual != hash {
		events <- Event{Message: "File hash does not match claimed hash", Category: "error"}
		if p.cfg.StrictNewImages {
			events <- Event{Message: "Ignoring new images because of unacceptable client error", Category: "error"}
			return validationOutcome{abort: true}
		}
		return validationOutcome{}
	}

	// Check 9: stage to a temp file and register the job.
	path, err := stageFile(blob)
	if err != nil {
		events <- Event{Message: "Failed to stage upload: " + err.Error(), Category: "error"}
		return validationOutcome{}
	}
	seen[hash] = struct{}{}
	events <- Event{Message: fmt.Sprintf("Uploaded file %q successfully", displayName), Category: "info"}
	return validationOutcome{staged: &staged{hash: hash, displayName: displayName, path: path}}
}

// jobFactory builds the closure SubmitOrJoin runs for a freshly staged
// job: submit to the executor, persist a successful result to cache,
// then drop the coalescer entry, so the cache write is always visible
// before any joiner resolves.
func (p *Pipeline) jobFactory(ctx context.Context, hash, displayName, stagedPath string) func() coalescer.Result {
	return func() coalescer.Result {
		outcome := <-p.executor.Submit(executor.Job{Hash: hash, DisplayName: displayName, StagedPath: stagedPath})
		if outcome.Err != nil {
			p.coalescer.Drop(hash)
			return coalescer.Result{Hash: hash, DisplayName: displayName, Err: outcome.Err}
		}

		if err := p.cache.SetResult(ctx, hash, outcome.Result, p.cfg.ResultTTL); err != nil {
			logger.Error("failed to cache OCR result", "hash", hash, "error", err)
			p.coalescer.Drop(hash)
			return coalescer.Result{Hash: hash, DisplayName: displayName, Err: err}
		}

		p.coalescer.Drop(hash)
		return coalescer.Result{Hash: hash, DisplayName: displayName, OCRResult: outcome.Result}
	}
}

// joinFactory is handed to SubmitOrJoin for a hash observed already
// in-flight. Under normal operation singleflight attaches the caller to
// the existing invocation without ever running this closure; it exists
// only to surface a clear error in the rare race where the in-flight
// job completed between the Contains check and this call.
func (p *Pipeline) joinFactory(hash, displayName string) func() coalescer.Result {
	return func() coalescer.Result {
		return coalescer.Result{
			Hash:        hash,
			DisplayName: displayName,
			Err:         errors.New("no staged file available: join raced with completion of the in-flight job"),
		}
	}
}

func declaredContentLength(part *multipart.Part) (int64, bool) {
	raw := part.Header.Get("Content-Length")
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func tooLargeMessage(maxImageSize int64) string {
	return fmt.Sprintf("File size is too large. At most %d bytes are accepted", maxImageSize)
}

func stageFile(blob []byte) (string, error) {
	f, err := os.CreateTemp("", stagedFilePrefix+"*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(blob); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
