// Package server provides the serve mode HTTP surface: liveness and readiness checks,
// Prometheus metrics and manual function invocation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	// Registers the generated OpenAPI document served at /swagger/doc.json.
	_ "github.com/HerbHall/nepenthes/api/swagger"
	"github.com/HerbHall/nepenthes/internal/function"
	"github.com/HerbHall/nepenthes/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// maxEventBytes matches the largest SNS message a deployed function can
// receive.
const maxEventBytes = 256 << 10

// FunctionSource lists and invokes registered functions.
// Defined here (consumer-side) rather than importing the concrete registry.
type FunctionSource interface {
	Infos() []function.Info
	Invoke(ctx context.Context, name string, event json.RawMessage) (any, error)
}

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// Server is the nepenthes HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	funcs      FunctionSource
	ready      ReadinessChecker
	logger     *zap.Logger
}

// New creates a Server with middleware and routes. ready may be nil.
func New(cfg Config, funcs FunctionSource, ready ReadinessChecker, logger *zap.Logger) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.InvokeRate <= 0 || cfg.InvokeBurst <= 0 {
		cfg.InvokeRate, cfg.InvokeBurst = def.InvokeRate, def.InvokeBurst
	}

	s := &Server{
		router: chi.NewRouter(),
		funcs:  funcs,
		ready:  ready,
		logger: logger,
	}

	s.router.Use(
		middleware.RequestID,
		middleware.RealIP,
		instrument(logger, "/healthz", "/readyz", "/metrics"),
		recoverer(logger),
	)
	s.registerRoutes(newInvokeLimiter(cfg.InvokeRate, cfg.InvokeBurst))

	if cfg.Swagger {
		s.router.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
		logger.Info("swagger UI enabled", zap.String("path", "/swagger/"))
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.router,
		// plug-status may retry the vendor API several times.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes(limiter *invokeLimiter) {
	// Unversioned operational endpoints.
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/functions", s.handleFunctions)
		// Only invocations reach the vendor API, so only they are limited.
		r.With(limiter.middleware).Post("/functions/{name}/invoke", s.handleInvoke)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, noRoute(r.URL.Path))
	})
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz is the liveness check -- returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadyz checks readiness -- returns 200 if the server can serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status" example:"ok"`
	Service   string            `json:"service" example:"nepenthes"`
	Version   map[string]string `json:"version"`
	Functions int               `json:"functions" example:"5"`
}

// handleHealth reports the build and how many functions are registered.
//
//	@Summary		Health check
//	@Description	Returns service health, build information and the number of registered functions.
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "nepenthes",
		Version:   version.Map(),
		Functions: len(s.funcs.Infos()),
	})
}

// handleFunctions lists the registered functions.
//
//	@Summary		List functions
//	@Description	Returns every function whose configuration is complete, sorted by name.
//	@Tags			functions
//	@Produce		json
//	@Success		200	{array}	function.Info
//	@Router			/functions [get]
func (s *Server) handleFunctions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.funcs.Infos())
}

// handleInvoke runs one function with the request body as its event. An
// empty body is sent as an empty JSON object.
//
//	@Summary		Invoke a function
//	@Description	Runs the named function once with the request body as its event and returns the function result.
//	@Tags			functions
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Function name"	Enums(plug-status, plug-on, log-puller, pushover, alarm-email)
//	@Param			event	body		object	false	"Function event"
//	@Success		200		{object}	object
//	@Failure		400		{object}	Problem
//	@Failure		404		{object}	Problem
//	@Failure		429		{object}	Problem
//	@Failure		502		{object}	Problem
//	@Router			/functions/{name}/invoke [post]
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeProblem(w, r, badEvent(name, "reading event: "+err.Error()))
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		writeProblem(w, r, badEvent(name, "event is not valid JSON"))
		return
	}

	result, err := s.funcs.Invoke(r.Context(), name, json.RawMessage(body))
	switch {
	case errors.Is(err, function.ErrUnknownFunction):
		writeProblem(w, r, unknownFunction(name, err))
		return
	case err != nil:
		s.logger.Warn("manual invocation failed",
			zap.String("function", name),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeProblem(w, r, functionFailed(name, err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
