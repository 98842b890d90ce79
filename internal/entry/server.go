package entry

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/grocery-tracker/internal/auth"
	"github.com/zombor/grocery-tracker/internal/metrics"
)

// Server handles HTTP requests for grocery entries
type Server struct {
	service  *Service
	verifier auth.Verifier
	metrics  *metrics.Metrics
	mux      *http.ServeMux
	handler  http.Handler

	// streams is cancelled when the HTTP server starts shutting down
	streams     context.Context
	stopStreams context.CancelFunc
}

// NewServer creates a new Server with default mux. m may be nil.
func NewServer(service *Service, verifier auth.Verifier, m *metrics.Metrics) *Server {
	return NewServerWithMux(service, verifier, m, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, verifier auth.Verifier, m *metrics.Metrics, mux *http.ServeMux) *Server {
	s := &Server{
		service:  service,
		verifier: verifier,
		metrics:  m,
		mux:      mux,
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	s.registerRoutes()
	s.handler = s.observe(s.corsMiddleware(s.requireAuth(s.mux)))
	return s
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/ping", s.handlePing)

	s.mux.HandleFunc("GET /api/groceryEntries/stream", s.handleStreamEntries)
	s.mux.HandleFunc("PATCH /api/groceryEntries/{id}", s.handleUpdateEntry)
	s.mux.HandleFunc("DELETE /api/groceryEntries/{id}", s.handleDeleteEntry)
	s.mux.HandleFunc("GET /api/groceryEntries", s.handleListEntries)
	s.mux.HandleFunc("POST /api/groceryEntries", s.handleCreateEntry)

	if s.service.CanScan() {
		s.mux.HandleFunc("POST /api/groceryEntries/scan", s.handleScanReceipt)
	}
}

// requireAuth verifies the bearer token and binds its subject to the request.
// It guards every path, including ones the mux would answer with 404 or 405.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized: No token provided")
			return
		}

		subject, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			slog.Error("Authentication error", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithSubject(r.Context(), subject)))
	})
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// statusRecorder remembers the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (for Flush)
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// observe logs every request and records its metrics
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		_, route := s.mux.Handler(r)
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, rec.status, elapsed)
		slog.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// HTTPServer returns an *http.Server serving this Server on addr. Shutting it
// down ends any open entry streams.
func (s *Server) HTTPServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.stopStreams)
	return srv
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
