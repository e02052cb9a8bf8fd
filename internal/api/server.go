package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/crawler"
	"github.com/JakeFAU/sitescout/internal/discovery"
	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/fulltext"
	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/publisher"
	"github.com/JakeFAU/sitescout/internal/resource"
	"github.com/JakeFAU/sitescout/internal/robots"
	"github.com/JakeFAU/sitescout/internal/sitemap"
	"github.com/JakeFAU/sitescout/internal/telemetry"
)

const (
	defaultRequestTimeout = 60 * time.Second
	maxRequestBody        = 10 << 20
)

// Deps are the services the handlers call. Index and Publisher may be nil.
type Deps struct {
	Fetcher        fetch.Fetcher
	HeadlessFetch  fetch.Fetcher
	Robots         *robots.Validator
	Sitemaps       *sitemap.Parser
	Prober         *discovery.Prober
	Frontier       *crawler.LinkDiscoverer
	SitemapRobots  bool
	Records        *resource.DB
	Index          *fulltext.Index
	RebuildTimeout time.Duration
	Publisher      publisher.Publisher
	Topic          string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the discovery and indexing services.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		deps:   deps,
		logger: logger,
		tracer: telemetry.Tracer(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.tracingMiddleware)
	r.Use(timeoutMiddleware(deps.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/discover", s.discover)
		r.Post("/links", s.extractLinks)
		r.Get("/robots", s.checkRobots)
		r.Get("/sitemaps", s.parseSitemap)

		r.Route("/frontier", func(r chi.Router) {
			r.Get("/stats", s.frontierStats)
			r.Post("/reset", s.frontierReset)
		})

		r.Route("/resources/{resource}", func(r chi.Router) {
			r.Get("/", s.listRecords)
			r.Post("/", s.createRecord)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getRecord)
				r.Put("/", s.updateRecord)
				r.Delete("/", s.deleteRecord)
			})
		})

		r.Get("/search/{resource}", s.search)
		r.Route("/index", func(r chi.Router) {
			r.Get("/stats", s.indexStats)
			r.Post("/rebuild", s.rebuildAll)
			r.Post("/{resource}/rebuild", s.rebuildResource)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Records != nil {
		if _, err := s.deps.Records.Resources(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "resource store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
