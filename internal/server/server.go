// Package server exposes a zKillboard client over HTTP so other local
// processes can share one cache and one retry budget.
//
// Routes:
//
//	GET  /api/*    fetch a resource (?trust=1 trusts the cache, ?pages=1 merges pages;
//	               other query parameters are passed on to the API)
//	POST /api/*    fetch with the request body forwarded as JSON
//	GET  /healthz  liveness probe
//	GET  /metrics  Prometheus metrics, when a handler is configured
//
// Permanent denials are answered with the same status the API returned
// (403 or 404), whether fresh or replayed from the cache.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/zkbclient/pkg/errors"
)

// maxBodyBytes caps POST bodies forwarded to the API.
const maxBodyBytes = 1 << 20

// Fetcher is the subset of *zkillboard.Client the server needs.
type Fetcher interface {
	Fetch(ctx context.Context, resource string, body any, trustCache bool) (json.RawMessage, error)
	FetchPages(ctx context.Context, resource string, trustCache bool) (json.RawMessage, error)
	LastModified() time.Time
	Updated() bool
}

// Server serializes access to a Fetcher.
type Server struct {
	mu      sync.Mutex
	client  Fetcher
	logger  *log.Logger
	metrics http.Handler
}

// New creates a Server. metrics may be nil.
func New(client Fetcher, logger *log.Logger, metrics http.Handler) *Server {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Server{client: client, logger: logger, metrics: metrics}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/api/*", s.handleFetch)
	r.Post("/api/*", s.handleFetch)
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "*")
	q := r.URL.Query()
	trust := q.Get("trust") == "1"
	pages := q.Get("pages") == "1"
	q.Del("trust")
	q.Del("pages")
	if len(q) > 0 {
		resource += "?" + q.Encode()
	}

	var body any
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "request body must be JSON")
			return
		}
		if body == nil {
			writeError(w, http.StatusBadRequest, "request body must not be null")
			return
		}
	}

	s.mu.Lock()
	var (
		data json.RawMessage
		err  error
	)
	if pages && body == nil {
		data, err = s.client.FetchPages(r.Context(), resource, trust)
	} else {
		data, err = s.client.Fetch(r.Context(), resource, body, trust)
	}
	lastModified, updated := s.client.LastModified(), s.client.Updated()
	s.mu.Unlock()

	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("fetch failed", "resource", resource, "err", err)
		}
		writeError(w, status, errors.UserMessage(err))
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Zkb-Updated", strconv.FormatBool(updated))
	if !lastModified.IsZero() {
		h.Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
	}
	w.Write(data)
}

// statusFor maps a fetch error to the status the server answers with.
func statusFor(err error) int {
	var httpErr *errors.HTTPError
	switch {
	case stderrors.As(err, &httpErr) && httpErr.Sticky():
		return httpErr.Status
	case errors.Is(err, errors.ErrCodeInvalidResource), errors.Is(err, errors.ErrCodeInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrCodeCache):
		return http.StatusInternalServerError
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrCodeTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": msg, "status": status})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
