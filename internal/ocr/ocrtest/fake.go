// Package ocrtest provides a scriptable ocr.Model double for tests of
// packages that depend on the ocr collaborator interface, mirroring the
// cachetest convention of keeping test helpers out of production
// packages.
package ocrtest

import (
	"context"
	"sync/atomic"

	"github.com/marmos91/mokuro-online/internal/ocr"
)

// Model is a test double for ocr.Model. Run is called with the staged
// path; RunFunc decides the outcome. If RunFunc is nil, Run succeeds
// with Result for every call.
type Model struct {
	RunFunc func(path string) ([]byte, error)
	Result  []byte

	calls int32
}

var _ ocr.Model = (*Model)(nil)

func (m *Model) Run(ctx context.Context, path string) ([]byte, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.RunFunc != nil {
		return m.RunFunc(path)
	}
	return m.Result, nil
}

// Calls reports how many times Run has been invoked.
func (m *Model) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

// Loader returns an ocr.Loader that always resolves to model, counting
// how many times it was invoked so tests can assert the warm-up
// singleton only pays init cost once.
func Loader(model *Model) (ocr.Loader, *int32) {
	var loads int32
	return func(ctx context.Context) (ocr.Model, error) {
		atomic.AddInt32(&loads, 1)
		return model, nil
	}, &loads
}
