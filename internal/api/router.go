package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/mokuro-online/internal/logger"
)

// NewRouter builds the chi router for the query API surface.
//
// The middleware stack is RequestID -> RealIP -> requestLogger ->
// Recoverer, deliberately without a blanket middleware.Timeout: OCR
// itself is untimed beyond the backend's own connection timeout, and a
// page can take much longer than a typical request timeout to
// recognize, so no fixed-duration request timeout is installed here.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.Index)
	r.Get("/health", s.Health)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/hash_check", s.HashCheck)
		r.Post("/ocr", s.OCR)
		r.Post("/new_pages", s.NewPages)
		r.Post("/make_html", s.MakeHTML)
	})

	return r
}

// requestLogger logs every request via internal/logger, DEBUG for
// ambient /health and /metrics probes and INFO otherwise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		if isAmbientPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

func isAmbientPath(path string) bool {
	return path == "/health" || path == "/metrics"
}
