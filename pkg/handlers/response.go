package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
)

// backpressureRetryAfter is the Retry-After hint, in seconds, sent with queue_full.
const backpressureRetryAfter = "5"

// ApiResponse is the envelope of JSON API responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ErrorBody{Error: errorCode, Message: message})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response; the client is gone if that fails,
// so the failure is only logged.
func writeError(w http.ResponseWriter, logger *zap.Logger, statusCode int, errorCode, message string) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeData wraps data in a successful ApiResponse.
func writeData(w http.ResponseWriter, logger *zap.Logger, statusCode int, data any) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeBody sends an already encoded document as is.
func writeBody(w http.ResponseWriter, logger *zap.Logger, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Error("Failed to write response body", zap.String("content_type", contentType), zap.Error(err))
	}
}

// errorStatus maps an orchestrator error onto status, code and client
// message. ok is false for errors the client cannot act on.
func errorStatus(err error) (status int, code, message string, ok bool) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", "Job not found", true
	case errors.Is(err, apperrors.ErrInvalidAsset):
		return http.StatusBadRequest, "invalid_asset", err.Error(), true
	case errors.Is(err, apperrors.ErrInvalidOverrides):
		return http.StatusBadRequest, "invalid_overrides", err.Error(), true
	case errors.Is(err, apperrors.ErrNotCompleted):
		return http.StatusConflict, "not_completed", err.Error(), true
	case errors.Is(err, apperrors.ErrNotTerminal):
		return http.StatusConflict, "job_active", err.Error(), true
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict", "Job has already finished", true
	case errors.Is(err, apperrors.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down", err.Error(), true
	case apperrors.IsKind(err, apperrors.KindBackpressure):
		return http.StatusServiceUnavailable, "queue_full", err.Error(), true
	}
	return http.StatusInternalServerError, "", "Internal server error", false
}

// writeServiceError answers with the mapping of errorStatus. Unmapped errors
// are logged and reported as fallbackCode without their details.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallbackCode string) {
	status, code, message, ok := errorStatus(err)
	if !ok {
		logger.Error("Job request failed", zap.String("code", fallbackCode), zap.Error(err))
		code = fallbackCode
	}
	if code == "queue_full" {
		w.Header().Set("Retry-After", backpressureRetryAfter)
	}
	writeError(w, logger, status, code, message)
}
