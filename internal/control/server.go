package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// Check pings one backing dependency for /health.
type Check func(ctx context.Context) error

// Server exposes the engine over HTTP.
type Server struct {
	engine *Engine
	checks map[string]Check
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(engine *Engine, port int, checks map[string]Check) *Server {
	mux := http.NewServeMux()
	s := &Server{
		engine: engine,
		checks: checks,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.Default(),
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/connections/{provider}/{user}/health", s.handleStatus)
	mux.HandleFunc("GET /v1/connections/{provider}/{user}/token", s.handleToken)
	mux.HandleFunc("GET /v1/connections/{provider}/{user}/connectivity", s.handleConnectivity)
	mux.HandleFunc("GET /v1/connections/{provider}/{user}/alerts", s.handleAlerts)
	mux.HandleFunc("GET /v1/connections/{provider}/{user}/errors", s.handleErrors)
	mux.HandleFunc("POST /v1/connections/{provider}/{user}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /v1/connections/{provider}/{user}/reset", s.handleReset)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"providers":    s.engine.Providers(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, user := connection(r)
	rec, err := s.engine.GetHealthStatus(r.Context(), user, p)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	p, user := connection(r)
	s.writeJSON(w, http.StatusOK, map[string]bool{"valid": s.engine.EnsureValidToken(r.Context(), user, p)})
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	p, user := connection(r)
	s.writeJSON(w, http.StatusOK, map[string]bool{"connected": s.engine.TestApiConnectivity(r.Context(), user, p)})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	p, user := connection(r)
	alerts, err := s.engine.GetActiveAlerts(r.Context(), p, user)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	p, user := connection(r)
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid hours %q", v))
			return
		}
		hours = n
	}
	stats, err := s.engine.GetErrorStatistics(r.Context(), p, user, hours)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p, user := connection(r)
	s.writeJSON(w, http.StatusOK, s.engine.RefreshToken(r.Context(), user, p))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	p, user := connection(r)
	if err := s.engine.ResetConnection(r.Context(), user, p); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func connection(r *http.Request) (domain.Provider, string) {
	return domain.Provider(r.PathValue("provider")), r.PathValue("user")
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.log.Error("Request failed", "status", code, "error", err)
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
