package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"behavior-server/pkg/messaging"
	"behavior-server/pkg/metrics"
	"behavior-server/pkg/orchestrator"
	"behavior-server/pkg/storage"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server exposes the REST control surface, the analysis WebSocket and
// the Prometheus metrics endpoint.
type Server struct {
	logger     *logrus.Logger
	config     Config
	orch       *orchestrator.Orchestrator
	store      *storage.EncryptedStore
	publisher  *messaging.AMQPPublisher // may be nil
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates the HTTP server. The AMQP publisher is optional.
func NewServer(logger *logrus.Logger, config Config, orch *orchestrator.Orchestrator, store *storage.EncryptedStore, publisher *messaging.AMQPPublisher) *Server {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		logger:    logger,
		config:    config,
		orch:      orch,
		store:     store,
		publisher: publisher,
		startTime: time.Now(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{session_id}/summary", s.handleSummary).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{session_id}", s.handleEndSession).Methods(http.MethodDelete)
	router.HandleFunc("/ws/analyze", s.handleAnalyzeWS)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.WithField("address", s.httpServer.Addr).Info("Starting HTTP server")
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"active_sessions": s.orch.ActiveSessions(),
		"uptime_sec":      time.Since(s.startTime).Seconds(),
		"timestamp":       time.Now().UTC(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.orch.ListSessions()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleSummary returns the live summary, falling back to the stored
// summary for already ended sessions.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	summary, err := s.orch.Summary(sessionID)
	if err == nil {
		s.writeJSON(w, http.StatusOK, summary)
		return
	}
	if errors.Is(err, orchestrator.ErrNoSnapshots) {
		s.writeError(w, http.StatusConflict, "session has no recorded measurements")
		return
	}

	stored, storeErr := s.store.LoadSummary(r.Context(), sessionID)
	if storeErr == nil {
		s.writeJSON(w, http.StatusOK, stored)
		return
	}
	s.writeError(w, http.StatusNotFound, "Session not found")
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	// The summary must be captured before teardown removes the session.
	summary, sumErr := s.orch.Summary(sessionID)

	if err := s.orch.EndSession(sessionID); err != nil {
		s.writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if sumErr == nil {
		s.persistSummary(r.Context(), sessionID, summary)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Session ended",
		"session_id": sessionID,
	})
}

// persistSummary stores and publishes a final summary; failures are
// logged, never surfaced to the caller.
func (s *Server) persistSummary(ctx context.Context, sessionID string, summary *orchestrator.SessionSummary) {
	if err := s.store.StoreSummary(ctx, sessionID, summary); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warning("Failed to store session summary")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSummary(sessionID, summary); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Debug("Failed to publish session summary")
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode HTTP response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
