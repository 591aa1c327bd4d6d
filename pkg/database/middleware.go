package database

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
)

// projectIDFor picks the tenant for a request. The {pid} path value wins when
// present since auth middleware has already matched it against the token.
func projectIDFor(r *http.Request) (string, bool) {
	if pid := r.PathValue("pid"); pid != "" {
		return pid, true
	}
	claims, ok := auth.GetClaims(r.Context())
	if !ok || claims.ProjectID == "" {
		return "", false
	}
	return claims.ProjectID, true
}

// WithTenantContext pins one pooled connection to the request's project for
// RLS. Must run after auth middleware. The scope is released when the handler returns.
func WithTenantContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, ok := projectIDFor(r)
			if !ok {
				logger.Error("No project in request path or claims", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing project context")
				return
			}

			projectID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
				return
			}

			scope, err := db.WithTenant(r.Context(), projectID)
			if err != nil {
				logger.Error("Failed to acquire tenant connection",
					zap.String("project_id", projectID.String()),
					zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetTenantScope(r.Context(), scope)))
		}
	}
}

// writeError mirrors the handlers envelope; handlers imports this package so it
// cannot be reused directly.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   errorCode,
		"message": message,
	})
}
