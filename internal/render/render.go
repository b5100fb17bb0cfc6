// Package render defines the collaborator boundary between the query
// API (C5) and the HTML overlay renderer: one call per page to render
// its overlay fragment, then one call to assemble the full document
// from the rendered pages and a title.
package render

import "encoding/json"

// PageHTML is one page's rendered overlay fragment, opaque to the API
// layer -- it is only ever passed back into Renderer.Render.
type PageHTML string

// Renderer turns cached OCR results into a viewable HTML document.
type Renderer interface {
	// PageHTML renders a single page's cached OCR result against its
	// display path.
	PageHTML(result json.RawMessage, imagePath string) (PageHTML, error)

	// Render assembles the full document from its pages, in order,
	// under the given title (already suffixed with " | mokuro" by the
	// caller).
	Render(pages []PageHTML, title string) (string, error)
}
