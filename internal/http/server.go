package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spese/internal/log"
	"spese/internal/metrics"
	"spese/internal/services"
	"spese/internal/session"
)

type Server struct {
	http.Server
	expenses *services.ExpenseService
	sessions *session.Registry
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	started  time.Time

	// closed when Shutdown begins so event streams let go of their connections
	shuttingDown chan struct{}
	shutdownOnce sync.Once
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, expenses *services.ExpenseService, sessions *session.Registry, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		expenses:     expenses,
		sessions:     sessions,
		metrics:      opts.Metrics,
		gatherer:     opts.Gatherer,
		logger:       opts.Logger,
		started:      time.Now(),
		shuttingDown: make(chan struct{}),
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware(s.logger))
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", s.handleListExpenses)
			r.Post("/", s.handleCreateExpense)
			r.Delete("/{id}", s.handleDeleteExpense)
		})

		r.Route("/undo", func(r chi.Router) {
			r.Get("/", s.handleUndoStatus)
			r.Post("/", s.handleUndo)
			r.Delete("/", s.handleDismissUndo)
			r.Get("/events", s.handleUndoEvents)
		})
	})

	return r
}

// Shutdown ends event streams and then shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shuttingDown)
	})
	return s.Server.Shutdown(ctx)
}
