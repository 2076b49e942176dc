package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource exposes what /status reports.
type StatusSource interface {
	Latest(ctx context.Context) (*domain.Observation, error)
	Count(ctx context.Context) (int, error)
}

// Server exposes health, readiness, status, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /status, and
// /metrics routes. status may be nil, which leaves /status unregistered.
func NewServer(addr string, ready sharedobs.ReadinessChecker, status StatusSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if status != nil {
		mux.HandleFunc("GET /status", s.handleStatus(status))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type statusResponse struct {
	LatestDate  string `json:"latest_date,omitempty"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleStatus(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var resp statusResponse
		latest, err := src.Latest(ctx)
		if err == nil {
			if latest != nil {
				resp.LatestDate = latest.Date.Format(time.DateOnly)
			}
			resp.Subscribers, err = src.Count(ctx)
		}
		if err != nil {
			s.logger.Error("status lookup failed", "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, resp)
	}
}
