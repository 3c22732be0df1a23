package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mihaisavezi/copilot-gateway/internal/config"
	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
	"github.com/mihaisavezi/copilot-gateway/internal/handlers"
	"github.com/mihaisavezi/copilot-gateway/internal/middleware"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type Server struct {
	config  *config.Manager
	manager *copilot.Manager
	client  *copilot.Client
	logger  *slog.Logger
	server  *http.Server
}

func New(configManager *config.Manager, manager *copilot.Manager, client *copilot.Client, logger *slog.Logger) *Server {
	return &Server{
		config:  configManager,
		manager: manager,
		client:  client,
		logger:  logger,
	}
}

// Start listens on the configured address and serves until ctx is cancelled or the listener
// fails. Bind errors are returned before anything is served.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	addr := cfg.Address()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then stops accepting and
// lets in-flight requests, streams included, finish within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	baseCtx := context.WithoutCancel(ctx)

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	s.logger.Info("Starting server", "address", listener.Addr().String())

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		s.logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(baseCtx, shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			_ = s.server.Close()
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler builds the router. /health and /api/status are open; everything else that
// reaches upstream goes through the access gate.
func (s *Server) Handler() http.Handler {
	counter := handlers.NewTokenCounter(s.logger)

	healthHandler := handlers.NewHealthHandler(s.logger)
	authHandler := handlers.NewAuthHandler(s.manager, s.client, s.logger)
	chatHandler := handlers.NewChatCompletionsHandler(s.client, s.manager, s.logger)
	messagesHandler := handlers.NewMessagesHandler(s.client, s.manager, counter, s.logger)
	countTokensHandler := handlers.NewCountTokensHandler(counter, s.logger)
	modelsHandler := handlers.NewModelsHandler(s.manager, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	r := chi.NewRouter()
	r.Use(middlewareSet.DefaultChain().Handler)

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Get("/api/status", authHandler.Status)

	r.Group(func(r chi.Router) {
		r.Use(middlewareSet.ProtectedChain().Handler)

		r.Handle("/metrics", promhttp.Handler())

		r.Post("/api/device-code", authHandler.DeviceCode)
		r.Post("/api/poll-auth", authHandler.Poll)
		r.Post("/api/logout", authHandler.Logout)
		r.Post("/api/test", authHandler.Test)

		r.Route("/v1", func(r chi.Router) {
			r.Post("/chat/completions", chatHandler.ServeHTTP)
			r.Post("/messages", messagesHandler.ServeHTTP)
			r.Post("/messages/count_tokens", countTokensHandler.ServeHTTP)
			r.Get("/models", modelsHandler.List)
			r.Get("/models/vision", modelsHandler.Vision)
		})
	})

	return r
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("No route", "method", r.Method, "path", r.URL.Path)
	writeRouteError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeRouteError(w, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path))
}

func writeRouteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	})
}
