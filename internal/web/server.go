package web

import (
	"context"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/websocket"

	"blanks/internal/config"
	"blanks/internal/match"
)

// Server is the HTTP boundary of the match engine. Every request first
// runs a housekeeping pass over the registry, which is what drives the
// lazily evaluated match timers.
type Server struct {
	logger   *log.Logger
	registry *match.Registry
	sessions *SessionStore
	clock    quartz.Clock
	cfg      *config.Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	http *http.Server
}

// NewServer wires the API routes around a registry.
func NewServer(logger *log.Logger, registry *match.Registry, clock quartz.Clock, cfg *config.Config) *Server {
	s := &Server{
		logger:   logger.WithPrefix("web"),
		registry: registry,
		sessions: NewSessionStore(cfg.Server.SessionCookie),
		clock:    clock,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.housekeeping)

	r.Post("/api/login", s.handleLogin)
	r.Post("/api/match", s.handleCreateMatch)
	r.Post("/api/join", s.handleJoin)
	r.Post("/api/leave", s.handleLeave)
	r.Post("/api/choose", s.handleChoose)
	r.Post("/api/pick", s.handlePick)
	r.Post("/api/skip", s.handleSkip)
	r.Post("/api/chat", s.handleChatSend)
	r.Get("/api/chat", s.handleChat)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/cards", s.handleCards)
	r.Get("/api/participants", s.handleParticipants)
	r.Get("/api/list", s.handleList)
	r.Post("/api/freeze", s.handleFreeze)
	r.Post("/api/unfreeze", s.handleUnfreeze)
	r.Get("/api/events", s.handleEvents)

	s.http = &http.Server{
		Addr:    cfg.ListenAddress(),
		Handler: r,
	}
	return s
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.closeConns()
		_ = s.http.Shutdown(context.Background())
	}()

	s.logger.Info("listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// housekeeping advances every due match before the request is handled.
// This is the opportunistic timer model: state transitions can be late by
// at most the gap between two inbound requests (or the periodic sweep).
func (s *Server) housekeeping(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.registry.Housekeeping()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}
