// Package basichtml is the default render.Renderer: a schema-agnostic
// fallback that embeds each page's raw OCR result JSON alongside its
// image path, rather than assuming any particular overlay markup.
// Precise text-box overlay positioning belongs to a dedicated layout
// engine with no Go port available, so this renderer gives every page's
// result to the client verbatim and lets it do the overlay positioning
// client-side.
package basichtml

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/marmos91/mokuro-online/internal/render"
)

// Renderer is the default render.Renderer implementation.
type Renderer struct{}

// New constructs a Renderer.
func New() *Renderer {
	return &Renderer{}
}

var _ render.Renderer = (*Renderer)(nil)

// PageHTML wraps result and imagePath in a single page container: an
// <img> pointing at the page image and the raw result document as an
// embedded JSON script tag, for a client-side script to render.
func (r *Renderer) PageHTML(result json.RawMessage, imagePath string) (render.PageHTML, error) {
	if !json.Valid(result) {
		return "", fmt.Errorf("basichtml: invalid OCR result JSON for %q", imagePath)
	}
	escapedPath := html.EscapeString(imagePath)
	return render.PageHTML(fmt.Sprintf(
		`<div class="mokuro-page" data-image=%q><img src=%q alt=""><script type="application/json" class="mokuro-result">%s</script></div>`,
		escapedPath, escapedPath, string(result),
	)), nil
}

// Render assembles pages, in order, into one HTML document titled
// title.
func (r *Renderer) Render(pages []render.PageHTML, title string) (string, error) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head><body>")
	for _, p := range pages {
		b.WriteString(string(p))
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}
