package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/venrates/bcv-rates-service/internal/domain/entity"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/logger"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/middleware"
)

const attemptLogLimit = 50

// RateReader is the read surface the handlers need from the rate service.
type RateReader interface {
	CurrentRates(ctx context.Context) (entity.RateSnapshot, error)
	History(ctx context.Context) ([]entity.HistoryEntry, error)
	RecentAttempts(ctx context.Context, limit int) ([]entity.RefreshAttempt, error)
}

// RateHandler handles the read-only HTTP surface.
type RateHandler struct {
	service RateReader
	logger  logger.Logger
}

// NewRateHandler creates a new rate handler.
func NewRateHandler(service RateReader, log logger.Logger) *RateHandler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &RateHandler{
		service: service,
		logger:  log,
	}
}

// GetRates serves the current snapshot. With an empty store the service
// runs one synchronous full refresh first; that bootstrap is the only path
// on which this endpoint can fail.
func (h *RateHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	snap, err := h.service.CurrentRates(r.Context())
	if err != nil {
		h.logger.Error("No snapshot available", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		sendErrorResponse(w, h.logger, "Rates unavailable",
			"No rate snapshot could be loaded or computed", http.StatusServiceUnavailable, requestID)
		return
	}

	writeJSON(w, h.logger, requestID, newRatesResponse(snap))
}

// GetHistory serves the recent history, most recent effective date first.
func (h *RateHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	history, err := h.service.History(r.Context())
	if err != nil {
		// Best-available behavior: an empty list, never a 5xx.
		h.logger.Warn("History unavailable, serving empty list", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		history = nil
	}

	writeJSON(w, h.logger, requestID, newHistoryResponse(history))
}

// GetRefreshLog serves the recent refresh attempts, newest first.
func (h *RateHandler) GetRefreshLog(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	attempts, err := h.service.RecentAttempts(r.Context(), attemptLogLimit)
	if err != nil {
		h.logger.Warn("Refresh log unavailable, serving empty list", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		attempts = nil
	}

	writeJSON(w, h.logger, requestID, newAttemptsResponse(attempts))
}

// Health is the liveness probe.
func (h *RateHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, middleware.GetRequestID(r.Context()), map[string]string{"status": "ok"})
}

// RegisterRoutes registers the read API routes. The bcv-prefixed paths are
// legacy aliases kept for existing consumers.
func (h *RateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/rates", h.GetRates).Methods("GET")
	router.HandleFunc("/api/bcv-rates", h.GetRates).Methods("GET")
	router.HandleFunc("/api/rate-history", h.GetHistory).Methods("GET")
	router.HandleFunc("/api/bcv-history", h.GetHistory).Methods("GET")
	router.HandleFunc("/api/refresh-log", h.GetRefreshLog).Methods("GET")
	router.HandleFunc("/", h.Health).Methods("GET")

	h.logger.Info("Rate routes registered", map[string]interface{}{
		"routes": []string{
			"GET /api/rates",
			"GET /api/bcv-rates",
			"GET /api/rate-history",
			"GET /api/bcv-history",
			"GET /api/refresh-log",
			"GET /",
		},
	})
}

func writeJSON(w http.ResponseWriter, log logger.Logger, requestID string, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Failed to encode response", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
	}
}

// sendErrorResponse sends a standardized error response
func sendErrorResponse(w http.ResponseWriter, log logger.Logger, message, description string, statusCode int, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:       message,
		Status:      statusCode,
		Description: description,
		RequestID:   requestID,
	}

	log.Debug("Sending error response", map[string]interface{}{
		"request_id":  requestID,
		"status_code": statusCode,
		"message":     message,
	})

	json.NewEncoder(w).Encode(resp)
}
