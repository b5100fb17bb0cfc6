// Package rendertest provides a scriptable render.Renderer double,
// mirroring the cachetest/ocrtest own-subpackage convention.
package rendertest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marmos91/mokuro-online/internal/render"
)

// Renderer is a test double for render.Renderer. PageHTML renders a
// deterministic fragment from the raw result and path; Render joins
// fragments with the title, so tests can assert on the exact output
// without depending on a real templating engine.
type Renderer struct {
	PageHTMLFunc func(result json.RawMessage, imagePath string) (render.PageHTML, error)
	RenderFunc   func(pages []render.PageHTML, title string) (string, error)
}

var _ render.Renderer = (*Renderer)(nil)

func (r *Renderer) PageHTML(result json.RawMessage, imagePath string) (render.PageHTML, error) {
	if r.PageHTMLFunc != nil {
		return r.PageHTMLFunc(result, imagePath)
	}
	return render.PageHTML(fmt.Sprintf("<page path=%q>%s</page>", imagePath, string(result))), nil
}

func (r *Renderer) Render(pages []render.PageHTML, title string) (string, error) {
	if r.RenderFunc != nil {
		return r.RenderFunc(pages, title)
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = string(p)
	}
	return fmt.Sprintf("<html><head><title>%s</title></head><body>%s</body></html>", title, strings.Join(parts, "")), nil
}
