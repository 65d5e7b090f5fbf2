package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lunch-menu-bot/internal/logfields"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/scheduler"
	"lunch-menu-bot/internal/supplier"
)

// MenuLister exposes the current menu catalog.
type MenuLister interface {
	Items() []supplier.Item
}

// TaskRunner is the part of the scheduler the admin API drives.
type TaskRunner interface {
	AllStatus() []scheduler.TaskStatus
	RunNow(ctx context.Context, name string) error
}

// Options wires the server. Webhook is required; the admin API is mounted
// only when JWTSecret is set.
type Options struct {
	Addr      string
	Webhook   http.Handler
	Registry  *prom.Registry
	Selector  *menu.Selector
	Store     *menu.Store
	Catalog   MenuLister
	Tasks     TaskRunner
	DailyTask string
	JWTSecret string
	Now       func() time.Time
}

// Server is the bot's HTTP surface.
type Server struct {
	opts   Options
	router *chi.Mux
	server *http.Server
	// runs holds a token while an admin-triggered run is in flight.
	runs chan struct{}
}

// New creates the server and its routes.
func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{opts: opts, router: chi.NewRouter(), runs: make(chan struct{}, 1)}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodPost, "/webhook", s.opts.Webhook)

	if s.opts.Registry != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))
	}

	if s.opts.JWTSecret == "" {
		slog.Info("ADMIN_JWT_SECRET not set; admin API disabled")
		return
	}
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdmin(s.opts.JWTSecret))
		r.Get("/status", s.handleStatus)
		r.Delete("/days/{date}", s.handleResetDay)
		r.Post("/days/{date}/cancel", s.handleCancelDay)
		r.Post("/prune", s.handlePrune)
		r.Post("/run", s.handleRun)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", slog.String("addr", s.opts.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Response represents a standard API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, Response{Success: false, Error: message})
}

func writeSuccess(w http.ResponseWriter, code int, data interface{}) {
	writeJSON(w, code, Response{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			slog.String("method", r.Method),
			logfields.Path(r.URL.Path),
			slog.Int("status", ww.Status()),
			logfields.DurationMS(time.Since(start).Milliseconds()),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
