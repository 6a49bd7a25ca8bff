package web

import (
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/dapoerkito/internal/classifier"
	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/logging"
	"github.com/vbonduro/dapoerkito/internal/service"
)

type Server struct {
	pipeline  *service.Pipeline
	templates fs.FS
	mux       *http.ServeMux
	tmplFuncs template.FuncMap
	markdown  *markdownRenderer
	logger    *slog.Logger
}

func NewServer(p *service.Pipeline, tmpl fs.FS, logger *slog.Logger) *Server {
	md := newMarkdownRenderer()
	s := &Server{
		pipeline:  p,
		templates: tmpl,
		mux:       http.NewServeMux(),
		markdown:  md,
		logger:    logger,
		tmplFuncs: template.FuncMap{
			"markdown":    md.HTML,
			"statusLabel": statusLabel,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /predict", s.handlePredict)
	if !s.pipeline.HistoryEnabled() {
		return
	}
	s.mux.HandleFunc("GET /history", s.handleListHistory)
	s.mux.HandleFunc("GET /history/{id}", s.handleGetHistory)
	s.mux.HandleFunc("GET /history/{id}/photo", s.handleGetPhoto)
	s.mux.HandleFunc("DELETE /history/{id}", s.handleDeleteHistory)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Labels":         classifier.Labels,
		"MinCount":       domain.MinRecipeCount,
		"MaxCount":       domain.MaxRecipeCount,
		"HistoryEnabled": s.pipeline.HistoryEnabled(),
		"ActiveNav":      "predict",
	}
	if err := s.renderPage(w, data, "base.html", "pages/index.html"); err != nil {
		s.log(r).Error("render page failed", "error", err)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline' https://unpkg.com; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data: blob:; "+
				"connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the written status code. Unwrap lets
// http.ResponseController reach the underlying writer for Flush and deadlines.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestID tags each request with an ID and a logger carrying it.
func requestID(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.WithLogger(r.Context(), logger.With("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(fallback *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.FromContext(r.Context(), fallback).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID(s.logger, requestLogger(s.logger, securityHeaders(s.mux))).ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	return s.httpServer(addr).ListenAndServe()
}

// httpServer applies the server timeouts. The predict route lifts the write
// deadline itself because a recipe stream can outlive it.
func (s *Server) httpServer(addr string) *http.Server {
	s.logger.Info("starting server", "addr", addr)
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (s *Server) log(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), s.logger)
}

// renderPage parses and executes a full-page template set.
func (s *Server) renderPage(w http.ResponseWriter, data any, files ...string) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tmpl.ExecuteTemplate(w, "base", data)
}
