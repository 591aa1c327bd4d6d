package mcpauth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
)

// mockAuthService is a mock implementation of auth.AuthService for testing.
type mockAuthService struct {
	claims            *auth.Claims
	token             string
	validateErr       error
	requireProjectErr error
	validateMatchErr  error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if m.validateErr != nil {
		return nil, "", m.validateErr
	}
	return m.claims, m.token, nil
}

func (m *mockAuthService) RequireProjectID(claims *auth.Claims) error {
	return m.requireProjectErr
}

func (m *mockAuthService) ValidateProjectIDMatch(claims *auth.Claims, urlProjectID string) error {
	return m.validateMatchErr
}

func serve(t *testing.T, svc *mockAuthService, pid string, next http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewMiddleware(svc, zap.NewNop()).RequireAuth("pid")(next)
	req := httptest.NewRequest(http.MethodPost, "/mcp/"+pid, nil)
	req.SetPathValue("pid", pid)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_RequireAuth_Success(t *testing.T) {
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "agent-7"},
		ProjectID:        "project-123",
		Roles:            []string{"agent"},
	}
	svc := &mockAuthService{claims: claims, token: "test-token"}

	var ctxClaims *auth.Claims
	var ctxToken string
	rec := serve(t, svc, "project-123", func(w http.ResponseWriter, r *http.Request) {
		ctxClaims, _ = auth.GetClaims(r.Context())
		ctxToken, _ = auth.GetToken(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ctxClaims)
	assert.Equal(t, "agent-7", ctxClaims.Subject)
	assert.Equal(t, "test-token", ctxToken)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestMiddleware_RequireAuth_MissingURLProjectID(t *testing.T) {
	svc := &mockAuthService{claims: &auth.Claims{ProjectID: "p1"}, token: "t"}

	rec := serve(t, svc, "", func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_request"`)
}

func TestMiddleware_WWWAuthenticateFormat(t *testing.T) {
	testCases := []struct {
		name           string
		authService    *mockAuthService
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "invalid_token on auth failure",
			authService:    &mockAuthService{validateErr: auth.ErrInvalidAuthFormat},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "invalid_token",
		},
		{
			name:           "invalid_token on missing authorization",
			authService:    &mockAuthService{validateErr: auth.ErrMissingAuthorization},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "invalid_token",
		},
		{
			name: "invalid_token on missing project scope",
			authService: &mockAuthService{
				claims:            &auth.Claims{},
				requireProjectErr: auth.ErrMissingProjectID,
			},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "invalid_token",
		},
		{
			name: "insufficient_scope on project mismatch",
			authService: &mockAuthService{
				claims:           &auth.Claims{ProjectID: "p1"},
				token:            "t",
				validateMatchErr: auth.ErrProjectIDMismatch,
			},
			expectedStatus: http.StatusForbidden,
			expectedError:  "insufficient_scope",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, tc.authService, "project-123", func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			})

			assert.Equal(t, tc.expectedStatus, rec.Code)
			wwwAuth := rec.Header().Get("WWW-Authenticate")
			assert.Contains(t, wwwAuth, `Bearer realm="ekaya-suggest"`)
			assert.Contains(t, wwwAuth, `error="`+tc.expectedError+`"`)
			assert.Contains(t, wwwAuth, `error_description="`)
		})
	}
}
