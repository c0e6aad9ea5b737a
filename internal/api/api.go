package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"support-chat-backend/internal/jwt"
	"support-chat-backend/internal/queue"
	"support-chat-backend/internal/service/conversation"
	"support-chat-backend/internal/service/visitor"
	"support-chat-backend/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

// Dependencies are the services route registrars wire endpoints to.
type Dependencies struct {
	Conversations *conversation.Service
	Visitors      *visitor.Service
	Hub           *websocket.Hub
	Sockets       *websocket.Handler
	Verifier      *jwt.Verifier
}

type Options struct {
	AllowedOrigins []string
	Logger         *slog.Logger
	// Registerer defaults to the global prometheus registry.
	Registerer      prometheus.Registerer
	ShutdownTimeout time.Duration
}

type APIServer struct {
	listenAddr          string
	requestQueueManager *queue.RequestQueueManager
	deps                Dependencies
	routeRegistrars     []RouteRegistrar
	allowedOrigins      []string
	logger              *slog.Logger
	shutdownTimeout     time.Duration
	metrics             *metrics
}

func NewAPIServer(listenAddr string, rqm *queue.RequestQueueManager, deps Dependencies, opts Options, registrars ...RouteRegistrar) *APIServer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}

	return &APIServer{
		listenAddr:          listenAddr,
		requestQueueManager: rqm,
		deps:                deps,
		routeRegistrars:     registrars,
		allowedOrigins:      opts.AllowedOrigins,
		logger:              opts.Logger,
		shutdownTimeout:     opts.ShutdownTimeout,
		metrics:             newMetrics(opts.Registerer, listenAddr, rqm),
	}
}

// Routes builds the instrumented mux with every registrar applied.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	return s.metrics.instrument(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("api: server listening", "addr", s.listenAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *APIServer) Conversations() *conversation.Service {
	return s.deps.Conversations
}

func (s *APIServer) Visitors() *visitor.Service {
	return s.deps.Visitors
}

func (s *APIServer) Hub() *websocket.Hub {
	return s.deps.Hub
}

func (s *APIServer) Sockets() *websocket.Handler {
	return s.deps.Sockets
}

func (s *APIServer) Verifier() *jwt.Verifier {
	return s.deps.Verifier
}

func (s *APIServer) Logger() *slog.Logger {
	return s.logger
}
