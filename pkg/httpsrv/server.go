package httpsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/alerts"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/metrics"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

// Config holds HTTP server configuration.
type Config struct {
	Port          int
	EnableMetrics bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:          8085,
		EnableMetrics: true,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// StreamController is the slice of the stream client the server exposes
// to operators.
type StreamController interface {
	Readings() []telemetry.Sample
	Latest() *telemetry.Sample
	IsConnected() bool
	Err() error
	ReconnectAttempts() uint64
	Reconnect() error
	Disconnect()
}

// Server exposes read-only snapshots of the alerting core plus the
// imperative stream/settings actions to dashboard clients.
type Server struct {
	config     *Config
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	stream     StreamController
	store      *alerts.Store
	hub        *AlertHub
	startTime  time.Time
}

// NewServer creates the HTTP server and registers all endpoints.
func NewServer(logger *logrus.Logger, config *Config, stream StreamController, store *alerts.Store, hub *AlertHub) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config:    config,
		logger:    logger,
		stream:    stream,
		store:     store,
		hub:       hub,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.mux = mux

	mux.HandleFunc("/health", s.healthHandler)
	if config.EnableMetrics {
		mux.Handle("/metrics", metrics.Handler())
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	}

	mux.HandleFunc("/api/readings", s.readingsHandler)
	mux.HandleFunc("/api/readings/latest", s.latestReadingHandler)
	mux.HandleFunc("/api/events", s.eventsHandler)
	mux.HandleFunc("/api/events/active", s.activeEventHandler)
	mux.HandleFunc("/api/events/clear", s.clearEventsHandler)
	mux.HandleFunc("/api/settings", s.settingsHandler)
	mux.HandleFunc("/api/stream/reconnect", s.reconnectHandler)
	mux.HandleFunc("/api/stream/disconnect", s.disconnectHandler)
	mux.HandleFunc("/ws/alerts", hub.ServeWs)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// healthHandler reports liveness plus the upstream connection state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":             "ok",
		"uptime_seconds":     int(time.Since(s.startTime).Seconds()),
		"stream_connected":   s.stream.IsConnected(),
		"reconnect_attempts": s.stream.ReconnectAttempts(),
		"dashboard_clients":  s.hub.ClientCount(),
	}
	if err := s.stream.Err(); err != nil {
		status["stream_error"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) readingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"readings":  s.stream.Readings(),
		"connected": s.stream.IsConnected(),
	})
}

func (s *Server) latestReadingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	latest := s.stream.Latest()
	if latest == nil {
		s.writeError(w, http.StatusNotFound, "no readings received yet")
		return
	}
	s.writeJSON(w, http.StatusOK, latest)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.store.Events(),
	})
}

func (s *Server) activeEventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	active := s.store.ActiveEvent()
	if active == nil {
		s.writeError(w, http.StatusNotFound, "no active event")
		return
	}
	s.writeJSON(w, http.StatusOK, active)
}

func (s *Server) clearEventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.store.ClearEvents()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.store.Settings())
	case http.MethodPut:
		var patch alerts.SettingsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid settings payload")
			return
		}
		if patch.MinRiskLevel != nil && !patch.MinRiskLevel.Valid() {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown risk level %q", *patch.MinRiskLevel))
			return
		}
		s.writeJSON(w, http.StatusOK, s.store.UpdateSettings(patch))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.stream.Reconnect(); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reconnected"})
}

func (s *Server) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.stream.Disconnect()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
