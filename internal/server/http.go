// Package server exposes the RAG service over HTTP/JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knoguchi/rerank-rag/internal/auth"
	"github.com/knoguchi/rerank-rag/internal/ingestion"
	"github.com/knoguchi/rerank-rag/internal/pipeline"
)

// QueryService answers questions.
type QueryService interface {
	Query(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Ingester loads files into a collection.
type Ingester interface {
	Ingest(ctx context.Context, path, collection string) (*ingestion.Result, error)
}

// Collections lists collections and reports vector store reachability.
type Collections interface {
	ListCollections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Dependencies reported by /health.
type Dependencies struct {
	LLMURL       string
	EmbeddingURL string
	RerankerURL  string
	QdrantHost   string
}

// Config holds configuration for the HTTP server.
type Config struct {
	Port              int
	AllowedOrigins    []string
	APIKey            string
	RateLimitRPS      float64
	RateLimitBurst    int
	DefaultCollection string
	Dependencies      Dependencies
	Logger            *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	server      *http.Server
	router      *chi.Mux
	logger      *slog.Logger
	limiter     *RateLimiter
	query       QueryService
	ingester    Ingester
	collections Collections
	cfg         Config
}

// New creates the server and mounts all routes.
func New(cfg Config, query QueryService, ingester Ingester, collections Collections) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCollection == "" {
		cfg.DefaultCollection = "documents"
	}

	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger,
		query:       query,
		ingester:    ingester,
		collections: collections,
		cfg:         cfg,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))
	r.Use(auth.NewAPIKey(s.cfg.APIKey, "/health", "/healthz", "/readyz").Middleware)

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Get("/collections", s.handleCollections)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/query", s.handleQuery)
		r.Post("/ingest", s.handleIngest)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http_server_starting", slog.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http_server_stopping")

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("http_server_stopped")
	return nil
}

// requestLoggingMiddleware logs HTTP requests.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// corsMiddleware handles CORS headers.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
