package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"paddylink/internal/core"
	"paddylink/internal/schedule"
	"paddylink/internal/store"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	store      *store.Store
	commands   *core.Service
	scheduler  *schedule.Scheduler
	logger     *slog.Logger
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(addr, authToken string, st *store.Store, commands *core.Service, scheduler *schedule.Scheduler, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		store:     st,
		commands:  commands,
		scheduler: scheduler,
		logger:    logger,
		authToken: authToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Writes stay open for the duration of blocking dispatches.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)

		r.Group(func(r chi.Router) {
			if s.authToken != "" {
				r.Use(AuthMiddleware(s.authToken))
			}

			r.Route("/devices/{target}/commands", func(r chi.Router) {
				r.Post("/", s.handleDispatch)
				r.Get("/{kind}", s.handleGetCommand)
				r.Delete("/{kind}", s.handleCancelCommand)
			})

			r.Route("/history", func(r chi.Router) {
				r.Get("/", s.handleListHistory)
				r.Get("/{token}", s.handleGetHistory)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", s.handleListSchedules)
				r.Post("/", s.handleCreateSchedule)

				r.Route("/{scheduleID}", func(r chi.Router) {
					r.Get("/", s.handleGetSchedule)
					r.Patch("/", s.handleUpdateSchedule)
					r.Delete("/", s.handleDeleteSchedule)
					r.Post("/run", s.handleRunSchedule)
				})
			})
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
