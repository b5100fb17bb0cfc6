// Package api implements the query API surface (C5): the thin HTTP
// handlers that translate wire formats onto the cache (C1), coalescer
// (C2), and upload pipeline (C4) collaborators.
//
// Handlers write a buffer-then-write JSON response rather than an RFC
// 7807 problem document: the public /v1/* surface must emit exactly
// {"error": "..."}, {"new": [...], "queue": [...]}, raw HTML, and
// JSON-array event streams, none of which are RFC 7807 problem
// documents.
package api

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/marmos91/mokuro-online/internal/logger"
	"github.com/marmos91/mokuro-online/internal/render"
	"github.com/marmos91/mokuro-online/internal/upload"
)

var hashPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// CacheQuerier is the subset of internal/cache.ResultCache the API
// surface needs: existence and bulk result lookups, never writes (C4
// owns every cache write).
type CacheQuerier interface {
	Has(ctx context.Context, hash string) (bool, error)
	GetResults(ctx context.Context, hashes []string) (map[string]json.RawMessage, error)
}

// CoalescerQuerier is the subset of internal/coalescer.Coalescer the
// hash-check endpoint needs.
type CoalescerQuerier interface {
	Contains(hash string) bool
}

// UploadPipeline is the subset of internal/upload.Pipeline the new_pages
// endpoint needs.
type UploadPipeline interface {
	Process(ctx context.Context, mr *multipart.Reader) <-chan upload.Event
}

// Server holds the query API's collaborators. The zero value is not
// usable; construct with NewServer.
type Server struct {
	cache     CacheQuerier
	coalescer CoalescerQuerier
	pipeline  UploadPipeline
	renderer  render.Renderer
	staticDir string

	metricsHandler http.Handler
}

// NewServer wires a Server. metricsHandler and staticDir may be left
// zero-valued (nil / "") to disable /metrics and serve no static index.
func NewServer(cache CacheQuerier, co CoalescerQuerier, pipeline UploadPipeline, renderer render.Renderer, staticDir string, metricsHandler http.Handler) *Server {
	return &Server{
		cache:          cache,
		coalescer:      co,
		pipeline:       pipeline,
		renderer:       renderer,
		staticDir:      staticDir,
		metricsHandler: metricsHandler,
	}
}

// normalizeHash lowercases and trims a claimed hash; callers still must
// validate it against hashPattern.
func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// HashCheck implements POST /v1/hash_check: partitions the submitted
// hashes into "new" (neither cached nor in-flight) and "queue"
// (in-flight); cached hashes are silently omitted from both.
func (s *Server) HashCheck(w http.ResponseWriter, r *http.Request) {
	var hashes []string
	if err := decodeJSON(r, &hashes); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "expected a JSON array of hash strings")
		return
	}

	newHashes := make([]string, 0, len(hashes))
	queue := make([]string, 0, len(hashes))
	for _, raw := range hashes {
		h := normalizeHash(raw)
		if !hashPattern.MatchString(h) {
			writeError(w, http.StatusUnsupportedMediaType, "not a valid hash: "+raw)
			return
		}
		has, err := s.cache.Has(r.Context(), h)
		if err != nil {
			logger.ErrorCtx(r.Context(), "hash_check: cache lookup failed", logger.Hash(h), logger.Err(err))
			writeError(w, http.StatusInternalServerError, "cache lookup failed")
			return
		}
		if has {
			continue
		}
		if s.coalescer.Contains(h) {
			queue = append(queue, h)
		} else {
			newHashes = append(newHashes, h)
		}
	}

	writeJSON(w, http.StatusOK, hashCheckResponse{New: newHashes, Queue: queue})
}

// OCR implements POST /v1/ocr: returns cached results keyed by hash, plus
// the subset of requested hashes that are still misses.
func (s *Server) OCR(w http.ResponseWriter, r *http.Request) {
	var hashes []string
	if err := decodeJSON(r, &hashes); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "expected a JSON array of hash strings")
		return
	}

	normalized := make([]string, 0, len(hashes))
	for _, raw := range hashes {
		h := normalizeHash(raw)
		if !hashPattern.MatchString(h) {
			writeError(w, http.StatusUnsupportedMediaType, "not a valid hash: "+raw)
			return
		}
		normalized = append(normalized, h)
	}

	results, err := s.cache.GetResults(r.Context(), normalized)
	if err != nil {
		logger.ErrorCtx(r.Context(), "ocr: cache lookup failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "cache lookup failed")
		return
	}
	if results == nil {
		results = map[string]json.RawMessage{}
	}

	newHashes := make([]string, 0, len(normalized))
	for _, h := range normalized {
		if _, ok := results[h]; !ok {
			newHashes = append(newHashes, h)
		}
	}

	writeJSON(w, http.StatusOK, ocrResponse{OCR: results, New: newHashes})
}

// NewPages implements POST /v1/new_pages: validates, stages, and
// dispatches the multipart upload, streaming or buffering the resulting
// progress events per the ?stream= query flag.
func (s *Server) NewPages(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "expected a multipart/form-data body")
		return
	}

	events := s.pipeline.Process(r.Context(), mr)

	if r.URL.Query().Get("stream") == "1" {
		w.Header().Set("Content-Type", "application/jsonlines")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)
		for ev := range events {
			_ = enc.Encode([2]string{ev.Message, ev.Category})
			if flusher != nil {
				flusher.Flush()
			}
		}
		return
	}

	pairs := make([][2]string, 0, 8)
	for ev := range events {
		pairs = append(pairs, [2]string{ev.Message, ev.Category})
	}
	writeJSON(w, http.StatusOK, pairs)
}

// MakeHTML implements POST /v1/make_html: renders the requested page
// sequence from cached OCR results, or reports that a requested page is
// not in the cache.
func (s *Server) MakeHTML(w http.ResponseWriter, r *http.Request) {
	var req makeHTMLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "expected {title, page_map: [[path, hash], ...]}")
		return
	}

	title := strings.TrimSpace(req.Title)
	hashes := make([]string, len(req.PageMap))
	paths := make([]string, len(req.PageMap))
	for i, pair := range req.PageMap {
		paths[i] = strings.TrimSpace(pair[0])
		h := normalizeHash(pair[1])
		if !hashPattern.MatchString(h) {
			writeError(w, http.StatusUnsupportedMediaType, "not a valid hash: "+pair[1])
			return
		}
		hashes[i] = h
	}

	results, err := s.cache.GetResults(r.Context(), hashes)
	if err != nil {
		logger.ErrorCtx(r.Context(), "make_html: cache lookup failed", logger.Err(err))
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "cache lookup failed"})
		return
	}

	pages := make([]render.PageHTML, len(hashes))
	for i, h := range hashes {
		result, ok := results[h]
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Asked for page not in cache"})
			return
		}
		page, err := s.renderer.PageHTML(result, paths[i])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		pages[i] = page
	}

	doc, err := s.renderer.Render(pages, title+" | mokuro")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// Health is the ambient liveness probe.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Index serves the static index.html the client single-page UI ships as.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	if s.staticDir == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}
