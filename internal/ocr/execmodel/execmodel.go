// Package execmodel binds internal/ocr.Model to an external OCR program,
// invoked once per page. The underlying recognition model has no Go
// port, so the production binding here is a subprocess boundary rather
// than a reimplementation of the actual recognition model.
package execmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/marmos91/mokuro-online/internal/ocr"
)

// Model runs command (with args, then the staged image path appended)
// and expects the OCR result document as JSON on stdout.
type Model struct {
	command string
	args    []string
}

// New constructs a Model around command/args.
func New(command string, args ...string) *Model {
	return &Model{command: command, args: args}
}

var _ ocr.Model = (*Model)(nil)

// Loader returns an ocr.Loader that resolves to a Model bound to
// command/args, failing fast if command is empty so a misconfigured
// deployment errors at warm-up instead of on the first upload.
func Loader(command string, args ...string) ocr.Loader {
	return func(ctx context.Context) (ocr.Model, error) {
		if command == "" {
			return nil, fmt.Errorf("execmodel: no OCR command configured")
		}
		return New(command, args...), nil
	}
}

// Run executes the configured command against path and parses its
// stdout as the result document. A non-zero exit whose stderr mentions
// an unsupported/corrupt image is remapped to ocr.ErrUnsupportedImage,
// mirroring the source library's AttributeError-on-malformed-input.
func (m *Model) Run(ctx context.Context, path string) ([]byte, error) {
	args := make([]string, 0, len(m.args)+1)
	args = append(args, m.args...)
	args = append(args, path)

	cmd := exec.CommandContext(ctx, m.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if looksUnsupported(stderr.String()) {
			return nil, ocr.ErrUnsupportedImage
		}
		return nil, fmt.Errorf("execmodel: %s: %w: %s", m.command, err, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(out) {
		return nil, fmt.Errorf("execmodel: %s produced non-JSON output", m.command)
	}
	return out, nil
}

func looksUnsupported(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "unsupported") ||
		strings.Contains(s, "corrupt") ||
		strings.Contains(s, "cannot identify image")
}
