// Package transport implements the websocket and HTTP surface of the
// gateway: the per-user event stream, module web previews, the OAuth
// callback route, and the chat page.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ankleBowl/LucyServer/internal/oauthstate"
	"github.com/ankleBowl/LucyServer/internal/session"
)

// Server is the gateway's HTTP server.
type Server struct {
	address  string
	port     int
	logger   *slog.Logger
	sessions *session.Store
	auth     *oauthstate.Store
	server   *http.Server
}

// NewServer creates the transport server.
func NewServer(address string, port int, logger *slog.Logger, sessions *session.Store, auth *oauthstate.Store) *Server {
	return &Server{
		address:  address,
		port:     port,
		logger:   logger,
		sessions: sessions,
		auth:     auth,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/ws/{user}", s.handleWebsocket)

	// Module web surfaces
	mux.HandleFunc("GET /v1/{user}/module/{module}/{path...}", s.handleModulePreview)
	mux.HandleFunc("GET /v1/module/{module}/{path...}", s.handleGlobalModule)
	mux.HandleFunc("GET /v1/{user}/modules", s.handleModuleDocs)
	mux.HandleFunc("GET /v1/{user}/pair.png", s.handlePairCode)

	// Chat web UI
	RegisterChatRoutes(mux)

	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withLogging(mux)
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: websocket connections are long-lived.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting transport server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"healthy"}`)
}

// handleModulePreview serves a loaded module's per-user web page
// (authorization pages, embedded players).
func (s *Server) handleModulePreview(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	module := r.PathValue("module")
	path := r.PathValue("path")

	sess, ok := s.sessions.Get(user)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	preview, err := sess.Registry().Preview(module, path, r.URL.Query())
	if err != nil {
		s.logger.Warn("module preview failed", "user", user, "module", module, "error", err)
		http.Error(w, "module not loaded", http.StatusNotFound)
		return
	}
	writePreview(w, r, preview)
}

// handleGlobalModule serves module routes that arrive without a user in
// the path. The only such route is the OAuth callback: the provider
// redirects here with a state token, which resolves to the user that
// started the flow.
func (s *Server) handleGlobalModule(w http.ResponseWriter, r *http.Request) {
	module := r.PathValue("module")
	path := r.PathValue("path")

	state := r.URL.Query().Get("state")
	user, stateModule, ok := s.auth.Consume(state)
	if !ok || stateModule != module {
		http.Error(w, "unknown or expired authorization", http.StatusNotFound)
		return
	}

	sess, found := s.sessions.Get(user)
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	args := r.URL.Query()
	args.Set("user", user)
	preview, err := sess.Registry().Preview(module, path, args)
	if err != nil {
		s.logger.Warn("callback preview failed", "user", user, "module", module, "error", err)
		http.Error(w, "module not loaded", http.StatusNotFound)
		return
	}
	writePreview(w, r, preview)
}
