package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/handlers"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

const drainingWarning = "server is shutting down, please reconnect shortly"

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	router *mux.Router

	components *Components
	limiter    *ratelimit.Limiter
	lifecycle  *lifecycle.Lifecycle
	tracker    *sessions.Tracker
}

// New builds every component from cfg and routes them.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithComponents(cfg, logger, c), nil
}

// NewWithComponents routes already-built components.
func NewWithComponents(cfg config.Config, logger *slog.Logger, c *Components) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		router:     mux.NewRouter(),
		components: c,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:            cfg.LimitRPS,
			Burst:          cfg.LimitBurst,
			MaxConnections: cfg.WSMaxConnectionsPerSession,
		}),
		lifecycle: &lifecycle.Lifecycle{},
		tracker:   sessions.NewTracker(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	c := s.components
	r := s.router

	r.Handle("/healthz", handlers.HealthHandler{}).Methods(http.MethodGet)
	r.Handle("/readyz", handlers.ReadyHandler{OAuth: c.OAuth, Lifecycle: s.lifecycle}).Methods(http.MethodGet)
	r.Handle("/metrics", c.Metrics.Handler()).Methods(http.MethodGet)

	gm := handlers.GmailHandler{
		Flow:      c.OAuth,
		Vault:     c.Vault,
		Metrics:   c.Metrics,
		Logger:    s.logger,
		AppOrigin: handlers.OriginOf(s.cfg.AppURL),
	}
	api := r.PathPrefix("/api/gmail").Subrouter()
	api.Handle("/auth/start", mw.SessionID(false, http.HandlerFunc(gm.Start))).Methods(http.MethodGet)
	api.HandleFunc("/auth/callback", gm.Callback).Methods(http.MethodGet)
	api.Handle("/status", mw.SessionID(false, http.HandlerFunc(gm.Status))).Methods(http.MethodGet)
	api.Handle("/disconnect", mw.SessionID(false, http.HandlerFunc(gm.Disconnect))).Methods(http.MethodPost)

	ws := handlers.WSHandler{
		Config:    s.cfg,
		Pipeline:  c.Pipeline,
		STT:       c.STT,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Tracker:   s.tracker,
		Metrics:   c.Metrics,
		Logger:    s.logger,
	}
	// Browsers cannot set headers on a WebSocket handshake.
	r.Handle("/ws/chat", mw.SessionID(true, http.HandlerFunc(ws.Chat))).Methods(http.MethodGet)
	r.Handle("/ws/voice", mw.SessionID(true, http.HandlerFunc(ws.Voice))).Methods(http.MethodGet)

	r.Handle("/audio/{file}", handlers.AudioHandler{Dir: s.cfg.AudioDir}).Methods(http.MethodGet, http.MethodHead)

	r.NotFoundHandler = handlers.NotFoundHandler{}
	r.MethodNotAllowedHandler = handlers.NotFoundHandler{}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = mw.RateLimit(s.limiter, s.components.Metrics, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Components exposes the wired collaborators.
func (s *Server) Components() *Components {
	return s.components
}

// SetDraining makes /readyz fail and refuses new WebSocket upgrades.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining tells every open WebSocket that shutdown started.
func (s *Server) WarnLiveSessionsDraining() {
	s.tracker.WarnAll(drainingWarning)
}

// WaitLiveSessions reports whether every WebSocket closed before ctx ended.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelLiveSessions aborts in-flight dispatches and closes every WebSocket.
func (s *Server) CancelLiveSessions() {
	if n := s.tracker.CancelAll(); n > 0 {
		s.logger.Warn("canceled live sessions", "count", n)
	}
}

// Close releases components. Call after the HTTP server stopped.
func (s *Server) Close() error {
	return s.components.Close()
}
