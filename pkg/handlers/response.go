package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/logging"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// ApiResponse wraps data in the format expected by the review UI.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// TenantMiddleware is a function that wraps a handler with tenant context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, ApiResponse{Success: false, Error: errorCode, Message: message})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusForCode maps an apperrors code to its HTTP status.
func StatusForCode(code string) int {
	switch code {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeConflict, apperrors.CodeInvalidState, apperrors.CodeCascadeRequired:
		return http.StatusConflict
	case apperrors.CodeExecution:
		return http.StatusUnprocessableEntity
	case apperrors.CodeAlreadyResolved:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports a service error. Business errors keep their message;
// anything else is logged and sanitized.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, action string, err error) {
	if errors.Is(err, models.ErrNoProvenance) {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	code := apperrors.Code(err)
	message := err.Error()
	if !apperrors.IsBusiness(err) {
		logger.Error("Failed to "+action, zap.Error(err))
		message = logging.SanitizeError(err)
	}
	if err := ErrorResponse(w, StatusForCode(code), code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}
