package upload_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/mokuro-online/internal/coalescer"
	"github.com/marmos91/mokuro-online/internal/executor"
	"github.com/marmos91/mokuro-online/internal/ocr/ocrtest"
	"github.com/marmos91/mokuro-online/internal/upload"
)

// fakeCache is a minimal upload.ResultCache test double, independent of
// internal/cache so upload's tests don't need a real backend.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]json.RawMessage{}} }

func (f *fakeCache) Has(ctx context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[hash]
	return ok, nil
}

func (f *fakeCache) SetResult(ctx context.Context, hash string, result json.RawMessage, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[hash] = result
	return nil
}

type part struct {
	hash        string
	filename    string
	contentType string
	body        []byte
}

func buildMultipart(t *testing.T, parts []part) *multipart.Reader {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="`+p.hash+`"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		pw, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = pw.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return multipart.NewReader(buf, w.Boundary())
}

func hashOf(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func drain(ch <-chan upload.Event) []upload.Event {
	var events []upload.Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func newPipeline(t *testing.T, cfg upload.Config, model *ocrtest.Model) (*upload.Pipeline, *fakeCache) {
	t.Helper()
	c := newFakeCache()
	co := coalescer.New()
	loader, _ := ocrtest.Loader(model)
	ex := executor.New(loader, executor.Config{Workers: 2})
	ex.Start()
	t.Cleanup(func() { ex.Stop(time.Second) })
	return upload.New(c, co, ex, cfg), c
}

func TestNoPartsReportsNoneProcessed(t *testing.T) {
	p, _ := newPipeline(t, upload.Config{MaxImageSize: 1 << 20}, &ocrtest.Model{Result: []byte(`{}`)})
	mr := buildMultipart(t, nil)

	events := drain(p.Process(context.Background(), mr))
	require.Len(t, events, 1)
	require.Equal(t, "No files were processed", events[0].Message)
}

func TestInvalidFormKeyIsRejected(t *testing.T) {
	p, _ := newPipeline(t, upload.Config{MaxImageSize: 1 << 20}, &ocrtest.Model{Result: []byte(`{}`)})
	mr := buildMultipart(t, []part{{hash: "not-a-hash", filename: "page1.jpg", contentType: "image/jpeg", body: []byte("x")}})

	events := drain(p.Process(context.Background(), mr))
	require.Equal(t, "File form key is not a valid hash", events[0].Message)
	require.Equal(t, "error", events[0].Category)
	require.Equal(t, "No files were processed", events[len(events)-1].Message)
}

func TestNonImageMimeIsRejected(t *testing.T) {
	body := []byte("plain text body")
	h := hashOf(body)
	p, cache := newPipeline(t, upload.Config{MaxImageSize: 1 << 20}, &ocrtest.Model{Result: []byte(`{}`)})
	mr := buildMultipart(t, []part{{hash: h, filename: "page1.txt", contentType: "text/plain", body: body}})

	events := drain(p.Process(context.Background(), mr))
	require.Contains(t, events[0].Message, "images")
	has, _ := cache.Has(context.Background(), h)
	require.False(t, has)
}

func TestAlreadyCachedPartSkipsOCR(t *testing.T) {
	body := []byte("a real page")
	h := hashOf(body)
	model := &ocrtest.Model{Result: []byte(`{}`)}
	p, cache := newPipeline(t, upload.Config{MaxImageSize: 1 << 20}, model)
	require.NoError(t, cache.SetResult(context.Background(), h, []byte(`{"cached":true}`), 0))

	mr := buildMultipart(t, []part{{hash: h, filename: "page1.jpg", contentType: "image/jpeg", body: body}})
	events := drain(p.Process(context.Background(), mr))

	require.Equal(t, "Already have file in cache", events[0].Message)
	require.Equal(t, "No files were processed", events[len(events)-1].Message)
	require.Equal(t, 0, model.Calls())
}

// TestOversizeRejection covers a part whose actual size exceeds the
// configured limit: exactly one error event is emitted and the cache is
// never written.
func TestOversizeRejection(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 9)
	h := hashOf(body)
	p, cache := newPipeline(t, upload.Config{MaxImageSize: 5}, &ocrtest.Model{Result: []byte(`{}`)})

	mr := buildMultipart(t, []part{{hash: h, filename: "page1.png", contentType: "image/png", body: body}})
	events := drain(p.Process(context.Background(), mr))

	var errorEvents []upload.Event
	for _, e := range events {
		if e.Category == "error" {
			errorEvents = append(errorEvents, e)
		}
	}
	require.Len(t, errorEvents, 1)
	require.Contains(t, errorEvents[0].Message, "large")

	has, _ := cache.Has(context.Background(), h)
	require.False(t, has)
}

// TestStrictHashMismatchAbort covers: a wrong claimed hash under
// STRICT_NEW_IMAGES aborts the whole upload with a terminating
// "unacceptable" event, and the cache is never written.
func TestStrictHashMismatchAbort(t *testing.T) {
	body := []byte("bytes of a real page")
	wrongHash := "00000000000000000000000000000001"
	p, cache := newPipeline(t, upload.Config{MaxImageSize: 1 << 20, StrictNewImages: true}, &ocrtest.Model{Result: []byte(`{}`)})

	mr := buildMultipart(t, []part{{hash: wrongHash, filename: "page1.jpg", contentType: "image/jpeg", body: body}})
	events := drain(p.Process(context.Background(), mr))

	require.GreaterOrEqual(t, len(events), 2)
	require.Contains(t, events[0].Message, "hash")
	require.Equal(t, "error", events[0].Category)
	last := events[len(events)-1]
	require.Contains(t, last.Message, "unacceptable")
	require.Equal(t, "error", last.Category)

	has, err := cache.Has(context.Background(), hashOf(body))
	require.NoError(t, err)
	require.False(t, has)
}

func TestSuccessfulUploadCachesResultAndEmitsSuccess(t *testing.T) {
	body := []byte("bytes of a real page")
	h := hashOf(body)
	model := &ocrtest.Model{Result: []byte(`{"blocks":[]}`)}
	p, cache := newPipeline(t, upload.Config{MaxImageSize: 1 << 20}, model)

	mr := buildMultipart(t, []part{{hash: h, filename: "page1.jpg", contentType: "image/jpeg", body: body}})
	events := drain(p.Process(context.Background(), mr))

	var sawSuccess bool
	for _, e := range events {
		if e.Category == "success" {
			sawSuccess = true
			require.Contains(t, e.Message, "page1.jpg")
		}
	}
	require.True(t, sawSuccess)

	val, err := cache.Has(context.Background(), h)
	require.NoError(t, err)
	require.True(t, val)
}

// TestDuplicateHashWithinRequestInvokesOCROnce covers the pipeline-level
// case of coalescing within a single request: two parts claiming the
// same hash in one request should only ever invoke OCR once, since the
// pipeline's in-request duplicate check catches the second part before
// anything is dispatched.
func TestDuplicateHashWithinRequestInvokesOCROnce(t *testing.T) {
	body := []byte("bytes of a real page")
	h := hashOf(body)
	model := &ocrtest.Model{Result: []byte(`{}`)}
	p, _ := newPipeline(t, upload.Config{MaxImageSize: 1 << 20}, model)

	mr := buildMultipart(t, []part{
		{hash: h, filename: "page1.jpg", contentType: "image/jpeg", body: body},
		{hash: h, filename: "page1-dup.jpg", contentType: "image/jpeg", body: body},
	})
	events := drain(p.Process(context.Background(), mr))
	require.NotEmpty(t, events)
	require.LessOrEqual(t, model.Calls(), 1)
}
