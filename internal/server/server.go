// Package server exposes the tool dispatcher over MCP streamable HTTP,
// plus a health endpoint and a debug event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sjtu-chatbot/campusd/internal/auth"
	"github.com/sjtu-chatbot/campusd/internal/config"
	"github.com/sjtu-chatbot/campusd/internal/logging"
	"github.com/sjtu-chatbot/campusd/internal/tool"
)

const (
	serverName    = "campusd"
	serverVersion = "1.0.0"
)

// Server is the MCP HTTP server.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	httpSrv    *http.Server
	manager    *auth.Manager
	dispatcher *tool.Dispatcher
	log        zerolog.Logger

	sessionMu sync.Mutex
	sessions  map[string]time.Time
}

// New creates a server over the given dispatcher and session manager.
func New(cfg config.ServerConfig, manager *auth.Manager, dispatcher *tool.Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		router:     chi.NewRouter(),
		manager:    manager,
		dispatcher: dispatcher,
		log:        logging.Component("server"),
		sessions:   make(map[string]time.Time),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Mcp-Session-Id"},
			ExposedHeaders:   []string{"Mcp-Session-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Post("/mcp", s.handleMCPPost)
	s.router.Get("/mcp", s.handleMCPGet)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/event", s.handleEvents)
}

// Start runs the HTTP server until Shutdown. WriteTimeout stays zero so
// SSE streams are not cut off.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
	}

	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("mcp http server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router (for tests).
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":   "ok",
		"loggedIn": s.manager.IsLoggedIn(),
	}
	if snap, err := s.manager.Snapshot(); err == nil {
		payload["username"] = snap.Username
	}
	writeJSON(w, http.StatusOK, payload)
}

// registerSession allocates an MCP session id.
func (s *Server) registerSession(id string) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessions[id] = time.Now()
}

// knownSession reports whether an id was issued by this server. An empty
// id is acceptable; clients are not required to echo one.
func (s *Server) knownSession(id string) bool {
	if id == "" {
		return true
	}
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	_, ok := s.sessions[id]
	return ok
}
