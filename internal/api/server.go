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
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/metrics"
	"github.com/JakeFAU/feed-archiver/internal/relocate"
	"github.com/JakeFAU/feed-archiver/internal/store"
	"github.com/JakeFAU/feed-archiver/internal/writequeue"
)

// Archive is the read side of the store the handlers browse.
type Archive interface {
	ListAccounts(ctx context.Context) ([]archive.Account, error)
	SearchAccounts(ctx context.Context, term string, limit int) ([]archive.Account, error)
	GetAccount(ctx context.Context, id string) (archive.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (archive.Account, error)
	ListCreators(ctx context.Context, term string) ([]archive.Creator, error)
	GetCreator(ctx context.Context, id int64) (archive.Creator, error)
	GetPost(ctx context.Context, id string) (archive.Post, error)
	GetMedia(ctx context.Context, id int64) (archive.Media, error)
	ListPosts(ctx context.Context, query store.PostQuery) (store.PostPage, error)
}

// Writer runs a mutation on the single database writer.
type Writer interface {
	Do(ctx context.Context, name string, fn writequeue.Mutation) error
}

// RatingQueue accepts rating requests for debounced application.
type RatingQueue interface {
	Submit(req relocate.Request) error
}

// Config controls the HTTP surface.
type Config struct {
	// APIKey guards the mutating routes when non-empty.
	APIKey string
	// RequestTimeout bounds every handler; zero means 60s.
	RequestTimeout time.Duration
}

// Deps bundles the server collaborators.
type Deps struct {
	Archive    Archive
	Writer     Writer
	Ratings    RatingQueue
	Vocabulary archive.Vocabulary
	// Metrics serves /metrics; defaults to the Prometheus handler.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the archive.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Handler()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", deps.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.getConfig)
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.listAccounts)
			r.Get("/search", s.searchAccounts)
			r.Get("/{account_id}", s.getAccount)
			r.Get("/{account_id}/posts", s.listAccountPosts)
		})
		r.Get("/creators", s.listCreators)
		r.Get("/creators/{creator_id}", s.getCreator)
		r.Get("/posts", s.listPosts)
		r.Get("/posts/{post_id}", s.getPost)
		r.Get("/media/{media_id}", s.getMedia)

		r.Group(func(r chi.Router) {
			if cfg.APIKey != "" {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}
			r.Post("/rate/post", s.ratePost)
			r.Post("/rate/media", s.rateMedia)
			r.Post("/media/{media_id}/caption", s.setCaption)
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

// respondError maps archive errors onto status codes.
func (s *Server) respondError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, relocate.ErrInvalidRating), errors.Is(err, relocate.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, writequeue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "archive is shutting down")
	default:
		s.logger.Error("request failed", zap.String("what", what), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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
