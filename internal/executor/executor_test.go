package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/mokuro-online/internal/executor"
	"github.com/marmos91/mokuro-online/internal/ocr"
	"github.com/marmos91/mokuro-online/internal/ocr/ocrtest"
)

func stagePage(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mokuro_page_test.jpg")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestSuccessfulJobReturnsResultAndReleasesStagedFile(t *testing.T) {
	model := &ocrtest.Model{Result: []byte(`{"blocks":[]}`)}
	loader, loads := ocrtest.Loader(model)
	e := executor.New(loader, executor.Config{Workers: 1})
	e.Start()
	defer e.Stop(time.Second)

	path := stagePage(t, "fake-image-bytes")
	out := <-e.Submit(executor.Job{Hash: "h1", DisplayName: "page1.jpg", StagedPath: path})

	require.NoError(t, out.Err)
	require.JSONEq(t, `{"blocks":[]}`, string(out.Result))
	require.Equal(t, "h1", out.Hash)
	require.EqualValues(t, 1, *loads)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "staged file should have been removed")
}

func TestMissingStagedFileReturnsError(t *testing.T) {
	model := &ocrtest.Model{Result: []byte(`{}`)}
	loader, _ := ocrtest.Loader(model)
	e := executor.New(loader, executor.Config{Workers: 1})
	e.Start()
	defer e.Stop(time.Second)

	out := <-e.Submit(executor.Job{Hash: "h1", DisplayName: "gone.jpg", StagedPath: filepath.Join(t.TempDir(), "missing.jpg")})
	require.Error(t, out.Err)
	require.Nil(t, out.Result)
	require.Equal(t, 0, model.Calls())
}

func TestUnsupportedImageErrorIsRemappedToFixedMessage(t *testing.T) {
	model := &ocrtest.Model{RunFunc: func(path string) ([]byte, error) {
		return nil, ocr.ErrUnsupportedImage
	}}
	loader, _ := ocrtest.Loader(model)
	e := executor.New(loader, executor.Config{Workers: 1})
	e.Start()
	defer e.Stop(time.Second)

	path := stagePage(t, "not-really-an-image")
	out := <-e.Submit(executor.Job{Hash: "h1", DisplayName: "bad.gif", StagedPath: path})

	require.Error(t, out.Err)
	require.Equal(t, "Animation file, Corrupted file or Unsupported type", out.Err.Error())
}

func TestOtherOCRErrorsSurfaceVerbatim(t *testing.T) {
	model := &ocrtest.Model{RunFunc: func(path string) ([]byte, error) {
		return nil, errors.New("model exploded")
	}}
	loader, _ := ocrtest.Loader(model)
	e := executor.New(loader, executor.Config{Workers: 1})
	e.Start()
	defer e.Stop(time.Second)

	path := stagePage(t, "bytes")
	out := <-e.Submit(executor.Job{Hash: "h1", DisplayName: "x.jpg", StagedPath: path})

	require.EqualError(t, out.Err, "model exploded")
}

func TestModelLoadsExactlyOnceAcrossManyJobs(t *testing.T) {
	model := &ocrtest.Model{Result: []byte(`{}`)}
	loader, loads := ocrtest.Loader(model)
	e := executor.New(loader, executor.Config{Workers: 4})
	e.Start()
	defer e.Stop(time.Second)

	const n = 20
	chans := make([]<-chan executor.Outcome, n)
	for i := 0; i < n; i++ {
		chans[i] = e.Submit(executor.Job{
			Hash:       "h",
			StagedPath: stagePage(t, "bytes"),
		})
	}
	for _, ch := range chans {
		out := <-ch
		require.NoError(t, out.Err)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(loads))
	require.Equal(t, n, model.Calls())
}

func TestWarmupLoadsModelBeforeAnyJobRuns(t *testing.T) {
	model := &ocrtest.Model{Result: []byte(`{}`)}
	loader, loads := ocrtest.Loader(model)
	e := executor.New(loader, executor.Config{Workers: 1})

	require.NoError(t, e.Warmup(context.Background()))
	require.EqualValues(t, 1, *loads)

	e.Start()
	defer e.Stop(time.Second)
	path := stagePage(t, "bytes")
	out := <-e.Submit(executor.Job{Hash: "h", StagedPath: path})
	require.NoError(t, out.Err)
	require.EqualValues(t, 1, *loads, "warmed-up model must not be reloaded")
}

func TestUnboundedQueueAcceptsManySubmissionsWithoutBlocking(t *testing.T) {
	model := &ocrtest.Model{Result: []byte(`{}`)}
	loader, _ := ocrtest.Loader(model)
	// Zero workers would never drain the queue; submit without starting
	// to prove Submit itself never blocks on queue capacity.
	e := executor.New(loader, executor.Config{Workers: 1})

	const n = 500
	chans := make([]<-chan executor.Outcome, n)
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			chans[i] = e.Submit(executor.Job{Hash: "h", StagedPath: stagePage(t, "bytes")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked despite unbounded queue")
	}

	e.Start()
	defer e.Stop(2 * time.Second)
	for _, ch := range chans {
		<-ch
	}
}
