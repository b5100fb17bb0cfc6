// Package ocr defines the collaborator boundary between the executor (C3)
// and the actual page-recognition model: a single entry point that
// takes a staged image path and returns an opaque, already-JSON-shaped
// result, paying model-load cost on first use.
package ocr

import (
	"context"
	"errors"
)

// ErrUnsupportedImage is the sentinel the Model returns for a file that
// fails to decode as an image (corrupted, truncated, or an unsupported
// format such as an animation). It is the equivalent of the
// attribute-access failure the source OCR library raises on malformed
// input; the executor remaps it to a fixed user-facing message rather
// than surfacing it verbatim.
var ErrUnsupportedImage = errors.New("ocr: unsupported or corrupted image")

// Model recognizes text on a single manga page image and produces the
// opaque result document that is cached and returned to clients
// verbatim. Implementations are expected to be expensive to construct.
// The executor lazily constructs one Model via Loader and shares it
// across all its workers, so with more than one worker Run is called
// concurrently.
type Model interface {
	// Run performs OCR on the image at path and returns the result
	// document as raw JSON. It returns ErrUnsupportedImage if path does
	// not decode as a supported image.
	Run(ctx context.Context, path string) ([]byte, error)
}

// Loader constructs a Model on first use. It is invoked at most once by
// the executor, under its warm-up sync.Once.
type Loader func(ctx context.Context) (Model, error)
