// Package webhook ingests change notifications from Motion and Trello and
// turns them into mappings plus queued sync actions.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskbridge/internal/config"
	"taskbridge/internal/domain"
	"taskbridge/internal/mapper"
	"taskbridge/internal/metrics"
	"taskbridge/internal/models"
)

// maxBodySize bounds webhook payloads; both platforms send small JSON bodies.
const maxBodySize = 1 << 20

// Enqueuer is the queue surface the handlers need.
type Enqueuer interface {
	Enqueue(ctx context.Context, action *models.SyncAction) (*models.SyncQueueItem, error)
}

// Server exposes the webhook HTTP endpoints.
type Server struct {
	cfg           config.WebhookConfig
	store         domain.Store
	queue         Enqueuer
	mapper        *mapper.Mapper
	fieldMappings []models.FieldMapping
	logger        zerolog.Logger
	server        *http.Server
}

func NewServer(
	cfg config.WebhookConfig,
	store domain.Store,
	queue Enqueuer,
	taskMapper *mapper.Mapper,
	fieldMappings []models.FieldMapping,
	logger *zerolog.Logger,
) *Server {
	srv := &Server{
		cfg:           cfg,
		store:         store,
		queue:         queue,
		mapper:        taskMapper,
		fieldMappings: fieldMappings,
		logger:        logger.With().Str("component", "webhook-server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/motion", srv.handleMotion)
	mux.HandleFunc("/webhooks/trello", srv.handleTrello)
	mux.HandleFunc("/healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// Handler returns the configured HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("webhook server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMotion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !verifyMotionSignature(body, r.Header.Get("X-Motion-Signature"), s.cfg.MotionSecret) {
		metrics.WebhookEvents.WithLabelValues(models.PlatformMotion, "invalid_signature").Inc()
		s.logger.Warn().Msg("invalid motion webhook signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event motionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	result, err := s.processMotionEvent(r.Context(), &event)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(models.PlatformMotion, "error").Inc()
		s.logWebhookError(r.Context(), models.PlatformMotion, err, body)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	metrics.WebhookEvents.WithLabelValues(models.PlatformMotion, result.outcome).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": result.message,
	})
}

func (s *Server) handleTrello(w http.ResponseWriter, r *http.Request) {
	// Trello probes the endpoint with HEAD when the webhook is registered.
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !verifyTrelloSignature(body, r.Header.Get("X-Trello-Webhook"), s.cfg.TrelloSecret) {
		metrics.WebhookEvents.WithLabelValues(models.PlatformTrello, "invalid_signature").Inc()
		s.logger.Warn().Msg("invalid trello webhook signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event trelloEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if event.Action == nil || event.Action.Type == "" {
		writeError(w, http.StatusBadRequest, "webhook payload has no action")
		return
	}

	result, err := s.processTrelloAction(r.Context(), event.Action)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(models.PlatformTrello, "error").Inc()
		s.logWebhookError(r.Context(), models.PlatformTrello, err, body)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	metrics.WebhookEvents.WithLabelValues(models.PlatformTrello, result.outcome).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": result.message,
	})
}

// eventResult is a handler outcome; outcome feeds the metrics label.
type eventResult struct {
	message string
	outcome string
}

func processed(message string) *eventResult {
	return &eventResult{message: message, outcome: "processed"}
}

func ignored(message string) *eventResult {
	return &eventResult{message: message, outcome: "ignored"}
}

// logWebhookError records a failed webhook in the audit log. The payload is
// truncated; it is there for debugging, not replay.
func (s *Server) logWebhookError(ctx context.Context, platformName string, cause error, body []byte) {
	s.logger.Error().Err(cause).Str("platform", platformName).Msg("webhook processing failed")

	payload := string(body)
	if len(payload) > 1000 {
		payload = payload[:1000]
	}
	details, _ := json.Marshal(map[string]string{
		"error":   cause.Error(),
		"payload": payload,
	})

	entry := &models.SyncLogEntry{
		ActionType: "webhook_error",
		Platform:   platformName,
		Success:    false,
		Details:    string(details),
	}
	if err := s.store.AppendSyncLog(ctx, entry); err != nil {
		s.logger.Error().Err(err).Msg("failed to log webhook error")
	}
}

// loggingMiddleware tags every request with a delivery id so queue log lines
// triggered by one webhook can be correlated with its access log entry.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		deliveryID := uuid.NewString()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Delivery-ID", deliveryID)
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("delivery_id", deliveryID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
