package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type mockAuthService struct {
	claims            *Claims
	token             string
	validateErr       error
	requireProjectErr error
	validateMatchErr  error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	if m.validateErr != nil {
		return nil, "", m.validateErr
	}
	return m.claims, m.token, nil
}

func (m *mockAuthService) RequireProjectID(claims *Claims) error {
	return m.requireProjectErr
}

func (m *mockAuthService) ValidateProjectIDMatch(claims *Claims, urlProjectID string) error {
	return m.validateMatchErr
}

func TestMiddleware_RequireAuth(t *testing.T) {
	tests := []struct {
		name       string
		svc        *mockAuthService
		wantStatus int
		wantCalled bool
	}{
		{
			name:       "success sets claims",
			svc:        &mockAuthService{claims: &Claims{ProjectID: "p"}, token: "tok"},
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "invalid token",
			svc:        &mockAuthService{validateErr: errors.New("bad")},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing project",
			svc:        &mockAuthService{claims: &Claims{}, requireProjectErr: ErrMissingProjectID},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMiddleware(tt.svc, zap.NewNop())

			var called bool
			handler := m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
				called = true
				claims, ok := GetClaims(r.Context())
				assert.True(t, ok)
				assert.Same(t, tt.svc.claims, claims)
				token, _ := GetToken(r.Context())
				assert.Equal(t, "tok", token)
				w.WriteHeader(http.StatusOK)
			})

			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalled, called)
		})
	}
}

func TestMiddleware_RequireAuthWithPathValidation_ProjectMismatch(t *testing.T) {
	svc := &mockAuthService{claims: &Claims{ProjectID: "p"}, validateMatchErr: ErrProjectIDMismatch}
	m := NewMiddleware(svc, zap.NewNop())

	handler := m.RequireAuthWithPathValidation("pid")(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/projects/q/suggestions", nil)
	req.SetPathValue("pid", "q")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")
}

func TestMiddleware_RequireAuthWithPathValidation_Success(t *testing.T) {
	svc := &mockAuthService{claims: &Claims{ProjectID: "p"}, token: "tok"}
	m := NewMiddleware(svc, zap.NewNop())

	var called bool
	handler := m.RequireAuthWithPathValidation("pid")(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p/suggestions", nil)
	req.SetPathValue("pid", "p")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
