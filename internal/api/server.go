package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"prismbridge/internal/engine"
	"prismbridge/internal/entity"
	"prismbridge/internal/mqtt"
	"prismbridge/internal/state"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// StateSource is the read side of the state hub
type StateSource interface {
	Get(entityID string) (*state.State, bool)
	All() []*state.State
	SubscribeAll(handler state.ChangeHandler) state.Subscription
}

// Commander writes a value to a writable entity
type Commander interface {
	Command(ctx context.Context, name, value string) error
}

// Server provides HTTP API endpoints for the bridge
type Server struct {
	states    StateSource
	commander Commander
	logger    *zap.Logger
	router    *chi.Mux
	server    *http.Server
	streams   *streamHandler
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(states StateSource, commander Commander, metrics http.Handler, logger *zap.Logger, port int) *Server {
	s := &Server{
		states:    states,
		commander: commander,
		logger:    logger.Named("api"),
		router:    chi.NewRouter(),
	}
	s.streams = newStreamHandler(states, s.logger)
	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     s.router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(metrics http.Handler) {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/entities", s.handleListEntities)
		r.Get("/entities/{id}", s.handleGetEntity)
		r.Post("/entities/{key}/command", s.handleCommand)
		r.Get("/ws", s.streams.ServeHTTP)
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.states.All())
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.states.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", engine.ErrUnknownEntity, id))
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// CommandRequest is the body of a command call
type CommandRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.commander.Command(ctx, key, req.Value); err != nil {
		s.logger.Warn("Command failed",
			zap.String("key", key),
			zap.String("value", req.Value),
			zap.Error(err))
		s.writeError(w, commandStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrNotWritable),
		errors.Is(err, entity.ErrUnknownOption),
		errors.Is(err, entity.ErrOutOfRange),
		errors.Is(err, entity.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, mqtt.ErrNotConnected),
		errors.Is(err, entity.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes open streams
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.streams.closeAll()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
