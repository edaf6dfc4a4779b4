// Package web exposes the JSON API and the WebSocket message stream.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"seqflow/internal/history"
	"seqflow/internal/runner"
	"seqflow/internal/storage"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the sequence API.
type Server struct {
	runner *runner.Service
	mgr    *storage.SequenceManager
	hist   history.Store // may be nil
	wsHub  *WSHub
	logger *slog.Logger
	mux    *http.ServeMux

	apiKey         string
	allowedOrigins []string
	version        string
	unsubEvents    func()
}

// NewServer creates a web server wired to the runner service.
func NewServer(svc *runner.Service, mgr *storage.SequenceManager, hist history.Store, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		runner: svc,
		mgr:    mgr,
		hist:   hist,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	go s.wsHub.Run()
	s.unsubEvents = svc.OnMessage(func(ev runner.Event) {
		s.wsHub.Broadcast(ev)
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)
	s.mux.HandleFunc("GET /api/sequences", s.requireAuth(s.handleAPIListSequences))
	s.mux.HandleFunc("GET /api/sequences/{label}", s.requireAuth(s.handleAPIGetSequence))
	s.mux.HandleFunc("POST /api/sequences/{label}/run", s.requireAuth(s.handleAPIRunSequence))
	s.mux.HandleFunc("DELETE /api/sequences/{label}", s.requireAuth(s.handleAPIDeleteSequence))
	s.mux.HandleFunc("GET /api/runs", s.requireAuth(s.handleAPIListRuns))
	s.mux.HandleFunc("GET /api/runs/active", s.requireAuth(s.handleAPIActiveRuns))
	s.mux.HandleFunc("GET /api/runs/{id}", s.requireAuth(s.handleAPIGetRun))
	s.mux.HandleFunc("POST /api/runs/{id}/terminate", s.requireAuth(s.handleAPITerminateRun))
	s.mux.HandleFunc("GET /ws", s.requireAuth(s.handleWS))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Stop unsubscribes from runner events and shuts down the WebSocket hub.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
}

// requireAuth checks the API key when one is configured. Clients pass it in
// the X-API-Key header or the api_key query parameter.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json", "err", err)
	}
}
