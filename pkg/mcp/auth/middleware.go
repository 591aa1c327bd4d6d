// Package mcpauth provides MCP-specific authentication middleware.
// It wraps the core auth service with RFC 6750 Bearer token error responses.
package mcpauth

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
)

// Realm is reported in every WWW-Authenticate challenge.
const Realm = "ekaya-suggest"

// Middleware authenticates agents calling the MCP endpoint.
// Unlike the general auth middleware, failures carry RFC 6750 WWW-Authenticate
// headers so OAuth-aware MCP clients can refresh their token.
type Middleware struct {
	authService auth.AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new MCP auth middleware.
func NewMiddleware(authService auth.AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireAuth validates the bearer token and requires its project to match the
// URL path value named pathParamName (e.g. "pid").
func (m *Middleware) RequireAuth(pathParamName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := m.authService.ValidateRequest(r)
			if err != nil {
				m.logger.Debug("MCP auth failed: invalid or missing token",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				m.challenge(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired")
				return
			}

			if err := m.authService.RequireProjectID(claims); err != nil {
				m.logger.Debug("MCP auth failed: missing project ID",
					zap.String("path", r.URL.Path))
				m.challenge(w, http.StatusUnauthorized, "invalid_token", "The access token is missing required project scope")
				return
			}

			urlProjectID := r.PathValue(pathParamName)
			if urlProjectID == "" {
				m.logger.Error("MCP auth failed: missing project ID in URL path",
					zap.String("path", r.URL.Path),
					zap.String("path_param", pathParamName))
				m.challenge(w, http.StatusBadRequest, "invalid_request", "Missing project ID in URL")
				return
			}

			if err := m.authService.ValidateProjectIDMatch(claims, urlProjectID); err != nil {
				m.logger.Warn("MCP auth failed: project ID mismatch",
					zap.String("url_project_id", urlProjectID),
					zap.String("token_project_id", claims.ProjectID),
					zap.String("subject", claims.Subject))
				m.challenge(w, http.StatusForbidden, "insufficient_scope", "The access token does not have access to this project")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims, token)))
		})
	}
}

// challenge writes an RFC 6750 Bearer token error response.
// See: https://datatracker.ietf.org/doc/html/rfc6750#section-3
func (m *Middleware) challenge(w http.ResponseWriter, status int, errorCode, description string) {
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Bearer realm=%q, error=%q, error_description=%q`, Realm, errorCode, description))
	w.WriteHeader(status)
}
