package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type mockSuggestionService struct {
	suggestion *models.Suggestion
	created    bool
	page       *models.SuggestionPage
	err        error

	gotCreate *models.NewSuggestionRequest
	gotStatus models.SuggestionStatus
	gotCursor string
	gotLimit  int
}

func (m *mockSuggestionService) Create(ctx context.Context, projectID uuid.UUID, req *models.NewSuggestionRequest) (*models.Suggestion, bool, error) {
	m.gotCreate = req
	return m.suggestion, m.created, m.err
}
func (m *mockSuggestionService) Get(ctx context.Context, projectID, id uuid.UUID) (*models.Suggestion, error) {
	return m.suggestion, m.err
}
func (m *mockSuggestionService) GetByToolCallID(ctx context.Context, projectID uuid.UUID, toolCallID string) (*models.Suggestion, error) {
	if m.suggestion == nil || m.suggestion.ToolCallID != toolCallID {
		return nil, apperrors.NotFound("no suggestion for tool call %q", toolCallID)
	}
	return m.suggestion, nil
}
func (m *mockSuggestionService) List(ctx context.Context, projectID uuid.UUID, status models.SuggestionStatus, cursor string, limit int) (*models.SuggestionPage, error) {
	m.gotStatus, m.gotCursor, m.gotLimit = status, cursor, limit
	return m.page, m.err
}
func (m *mockSuggestionService) ListByTarget(ctx context.Context, projectID, targetID uuid.UUID, limit int) ([]*models.Suggestion, error) {
	return []*models.Suggestion{m.suggestion}, m.err
}
func (m *mockSuggestionService) CountByStatus(ctx context.Context, projectID uuid.UUID) (models.StatusCounts, error) {
	return models.StatusCounts{models.StatusProposed: 2}, m.err
}
func (m *mockSuggestionService) RecheckPreflight(ctx context.Context, projectID, id uuid.UUID) (*models.Preflight, error) {
	return &models.Preflight{Status: models.PreflightOK}, m.err
}
func (m *mockSuggestionService) PreflightStale(ctx context.Context, s *models.Suggestion) (bool, error) {
	return true, nil
}

type mockDecisionService struct {
	outcomes []models.DecisionOutcome
	reviewer string
}

func (m *mockDecisionService) ApplyDecisions(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID, decision models.Decision) ([]models.DecisionOutcome, error) {
	prov, err := models.RequireProvenance(ctx)
	if err != nil {
		return nil, err
	}
	m.reviewer = prov.UserID
	if !decision.IsValid() {
		return nil, apperrors.Validation("decision must be approve or reject, got %q", decision)
	}
	return m.outcomes, nil
}
func (m *mockDecisionService) MarkAppliedInEditor(ctx context.Context, projectID, id uuid.UUID) (*models.DecisionOutcome, error) {
	if _, err := models.RequireProvenance(ctx); err != nil {
		return nil, err
	}
	return &models.DecisionOutcome{SuggestionID: id, Status: models.StatusAccepted, Resolution: models.ResolutionAppliedInEditor}, nil
}

type mockPreviewService struct{}

func (m *mockPreviewService) Preview(ctx context.Context, projectID, id uuid.UUID) (*models.Preview, error) {
	return &models.Preview{SuggestionID: id, TargetName: "Mara"}, nil
}

type mockRollbackService struct {
	err        error
	gotCascade bool
}

func (m *mockRollbackService) GetImpact(ctx context.Context, projectID, id uuid.UUID) (*models.RollbackCheck, error) {
	return &models.RollbackCheck{CanRollback: true, Impact: &models.RollbackImpact{Kind: models.OpEntityCreate}}, nil
}
func (m *mockRollbackService) Rollback(ctx context.Context, projectID, id uuid.UUID, cascade bool) (*models.RollbackResult, error) {
	if _, err := models.RequireProvenance(ctx); err != nil {
		return nil, err
	}
	m.gotCascade = cascade
	if m.err != nil {
		return nil, m.err
	}
	return &models.RollbackResult{SuggestionID: id, RemovedRelationships: 2}, nil
}

type mockAuthService struct {
	claims *auth.Claims
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if m.claims == nil {
		return nil, "", auth.ErrMissingProjectID
	}
	return m.claims, "token", nil
}
func (m *mockAuthService) RequireProjectID(claims *auth.Claims) error { return nil }
func (m *mockAuthService) ValidateProjectIDMatch(claims *auth.Claims, urlProjectID string) error {
	if claims.ProjectID != urlProjectID {
		return auth.ErrProjectIDMismatch
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

type handlerFixture struct {
	projectID   uuid.UUID
	suggestions *mockSuggestionService
	decisions   *mockDecisionService
	rollbacks   *mockRollbackService
	handler     *SuggestionsHandler
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		projectID:   uuid.New(),
		suggestions: &mockSuggestionService{},
		decisions:   &mockDecisionService{},
		rollbacks:   &mockRollbackService{},
	}
	f.handler = NewSuggestionsHandler(f.suggestions, f.decisions, &mockPreviewService{}, f.rollbacks, zap.NewNop())
	return f
}

// request builds a request with path values set and, when subject is non-empty, reviewer claims attached.
func (f *handlerFixture) request(method, body, subject string, pathValues ...string) *http.Request {
	req := httptest.NewRequest(method, "/test", bytes.NewBufferString(body))
	req.SetPathValue("pid", f.projectID.String())
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	if subject != "" {
		claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}, ProjectID: f.projectID.String()}
		req = req.WithContext(auth.WithClaims(req.Context(), claims, "token"))
	}
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, data any) ApiResponse {
	t.Helper()
	var envelope struct {
		ApiResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	if data != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, data))
	}
	return envelope.ApiResponse
}

// ============================================================================
// Tests
// ============================================================================

func TestSuggestionsHandler_Create(t *testing.T) {
	f := newHandlerFixture()
	f.suggestions.suggestion = &models.Suggestion{ID: uuid.New(), Status: models.StatusProposed}
	f.suggestions.created = true

	rec := httptest.NewRecorder()
	f.handler.Create(rec, f.request(http.MethodPost, `{"tool_call_id": "call-1"}`, ""))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateSuggestionResponse
	env := decodeResponse(t, rec, &resp)
	assert.True(t, env.Success)
	assert.True(t, resp.Created)

	// A retried tool call is not a creation.
	f.suggestions.created = false
	rec = httptest.NewRecorder()
	f.handler.Create(rec, f.request(http.MethodPost, `{"tool_call_id": "call-1"}`, ""))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSuggestionsHandler_Create_InvalidBody(t *testing.T) {
	f := newHandlerFixture()
	rec := httptest.NewRecorder()
	f.handler.Create(rec, f.request(http.MethodPost, `{not json`, ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeResponse(t, rec, nil)
	assert.False(t, env.Success)
	assert.Equal(t, "invalid_request", env.Error)
}

func TestSuggestionsHandler_List_PassesQuery(t *testing.T) {
	f := newHandlerFixture()
	f.suggestions.page = &models.SuggestionPage{NextCursor: "next"}

	req := f.request(http.MethodGet, "", "")
	req.URL.RawQuery = "status=accepted&cursor=abc&limit=25"
	rec := httptest.NewRecorder()
	f.handler.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusAccepted, f.suggestions.gotStatus)
	assert.Equal(t, "abc", f.suggestions.gotCursor)
	assert.Equal(t, 25, f.suggestions.gotLimit)

	var page models.SuggestionPage
	decodeResponse(t, rec, &page)
	assert.Equal(t, "next", page.NextCursor)
}

func TestSuggestionsHandler_List_BadLimit(t *testing.T) {
	f := newHandlerFixture()
	req := f.request(http.MethodGet, "", "")
	req.URL.RawQuery = "limit=ten"
	rec := httptest.NewRecorder()
	f.handler.List(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_limit", decodeResponse(t, rec, nil).Error)
}

func TestSuggestionsHandler_Get_MapsNotFound(t *testing.T) {
	f := newHandlerFixture()
	f.suggestions.err = apperrors.NotFound("suggestion not found")

	rec := httptest.NewRecorder()
	f.handler.Get(rec, f.request(http.MethodGet, "", "", "sid", uuid.NewString()))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeResponse(t, rec, nil)
	assert.Equal(t, apperrors.CodeNotFound, env.Error)
	assert.Equal(t, "suggestion not found", env.Message)
}

func TestSuggestionsHandler_Get_ReportsStaleness(t *testing.T) {
	f := newHandlerFixture()
	id := uuid.New()
	f.suggestions.suggestion = &models.Suggestion{ID: id, Status: models.StatusProposed}

	rec := httptest.NewRecorder()
	f.handler.Get(rec, f.request(http.MethodGet, "", "", "sid", id.String()))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeResponse(t, rec, &body)
	assert.Equal(t, id.String(), body["id"])
	assert.Equal(t, true, body["preflight_stale"])
}

func TestSuggestionsHandler_Get_InvalidSuggestionID(t *testing.T) {
	f := newHandlerFixture()
	rec := httptest.NewRecorder()
	f.handler.Get(rec, f.request(http.MethodGet, "", "", "sid", "nope"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_suggestion_id", decodeResponse(t, rec, nil).Error)
}

func TestSuggestionsHandler_GetByToolCall(t *testing.T) {
	f := newHandlerFixture()
	f.suggestions.suggestion = &models.Suggestion{ID: uuid.New(), ToolCallID: "call-7"}

	rec := httptest.NewRecorder()
	f.handler.GetByToolCall(rec, f.request(http.MethodGet, "", "", "tcid", "call-7"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.GetByToolCall(rec, f.request(http.MethodGet, "", "", "tcid", "call-8"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuggestionsHandler_Decide_AttributesReviewer(t *testing.T) {
	f := newHandlerFixture()
	ok, failed := uuid.New(), uuid.New()
	f.decisions.outcomes = []models.DecisionOutcome{
		{SuggestionID: ok, Status: models.StatusAccepted, Resolution: models.ResolutionExecuted},
		{SuggestionID: failed, Error: &models.OutcomeError{Code: apperrors.CodeConflict, Message: "target changed"}},
	}

	body := `{"suggestion_ids": ["` + ok.String() + `", "` + failed.String() + `"], "decision": "approve"}`
	rec := httptest.NewRecorder()
	f.handler.Decide(rec, f.request(http.MethodPost, body, "reviewer-9"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reviewer-9", f.decisions.reviewer)

	var resp DecisionResponse
	decodeResponse(t, rec, &resp)
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Outcomes, 2)
	assert.Equal(t, "target changed", resp.Outcomes[1].Error.Message)
}

func TestSuggestionsHandler_Decide_Errors(t *testing.T) {
	f := newHandlerFixture()

	rec := httptest.NewRecorder()
	f.handler.Decide(rec, f.request(http.MethodPost, `{"suggestion_ids": [], "decision": "approve"}`, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no reviewer identity")

	rec = httptest.NewRecorder()
	f.handler.Decide(rec, f.request(http.MethodPost, `{"suggestion_ids": [], "decision": "maybe"}`, "reviewer-9"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeValidation, decodeResponse(t, rec, nil).Error)

	rec = httptest.NewRecorder()
	f.handler.Decide(rec, f.request(http.MethodPost, `{"suggestion_ids": ["not-a-uuid"]}`, "reviewer-9"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeResponse(t, rec, nil).Error)
}

func TestSuggestionsHandler_Rollback(t *testing.T) {
	f := newHandlerFixture()
	sid := uuid.NewString()

	rec := httptest.NewRecorder()
	f.handler.Rollback(rec, f.request(http.MethodPost, `{"cascade": true}`, "reviewer-9", "sid", sid))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.rollbacks.gotCascade)

	var result models.RollbackResult
	decodeResponse(t, rec, &result)
	assert.Equal(t, 2, result.RemovedRelationships)

	// The body is optional.
	rec = httptest.NewRecorder()
	f.handler.Rollback(rec, f.request(http.MethodPost, "", "reviewer-9", "sid", sid))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.rollbacks.gotCascade)
}

func TestSuggestionsHandler_Rollback_CascadeRequired(t *testing.T) {
	f := newHandlerFixture()
	f.rollbacks.err = apperrors.New(apperrors.ErrCascadeRequired, "entity %q is referenced by 3 relationship(s)", "Lighthouse")

	rec := httptest.NewRecorder()
	f.handler.Rollback(rec, f.request(http.MethodPost, `{}`, "reviewer-9", "sid", uuid.NewString()))

	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decodeResponse(t, rec, nil)
	assert.Equal(t, apperrors.CodeCascadeRequired, env.Error)
	assert.Contains(t, env.Message, "3 relationship(s)")
}

func TestSuggestionsHandler_ReadOnlyEndpoints(t *testing.T) {
	f := newHandlerFixture()
	f.suggestions.suggestion = &models.Suggestion{ID: uuid.New()}
	sid := uuid.NewString()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		method  string
		subject string
		path    []string
	}{
		{"counts", f.handler.Counts, http.MethodGet, "", nil},
		{"recheck", f.handler.Recheck, http.MethodPost, "", []string{"sid", sid}},
		{"preview", f.handler.Preview, http.MethodGet, "", []string{"sid", sid}},
		{"rollback impact", f.handler.RollbackImpact, http.MethodGet, "", []string{"sid", sid}},
		{"applied in editor", f.handler.AppliedInEditor, http.MethodPost, "reviewer-9", []string{"sid", sid}},
		{"list by target", f.handler.ListByTarget, http.MethodGet, "", []string{"tid", uuid.NewString()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, f.request(tt.method, "", tt.subject, tt.path...))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, decodeResponse(t, rec, nil).Success)
		})
	}
}

func TestSuggestionsHandler_RegisterRoutes(t *testing.T) {
	f := newHandlerFixture()
	f.suggestions.page = &models.SuggestionPage{}
	authService := &mockAuthService{claims: &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "reviewer-9"},
		ProjectID:        f.projectID.String(),
	}}
	passthrough := func(next http.HandlerFunc) http.HandlerFunc { return next }

	mux := http.NewServeMux()
	f.handler.RegisterRoutes(mux, auth.NewMiddleware(authService, zap.NewNop()), passthrough)

	base := "/api/projects/" + f.projectID.String()
	for _, path := range []string{
		base + "/suggestions",
		base + "/suggestions/counts",
		base + "/suggestions/" + uuid.NewString() + "/preview",
		base + "/targets/" + uuid.NewString() + "/suggestions",
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	// A token for another project is refused before the handler runs.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/"+uuid.NewString()+"/suggestions", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{apperrors.CodeNotFound, http.StatusNotFound},
		{apperrors.CodeValidation, http.StatusBadRequest},
		{apperrors.CodeConflict, http.StatusConflict},
		{apperrors.CodeInvalidState, http.StatusConflict},
		{apperrors.CodeExecution, http.StatusUnprocessableEntity},
		{apperrors.CodeAlreadyResolved, http.StatusOK},
		{apperrors.CodeCascadeRequired, http.StatusConflict},
		{apperrors.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForCode(tt.code))
		})
	}
}

func TestWriteServiceError_SanitizesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, zap.NewNop(), "load", errors.New("dial failed: password=hunter2 host=db"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeResponse(t, rec, nil)
	assert.Equal(t, apperrors.CodeInternal, env.Error)
	assert.False(t, strings.Contains(env.Message, "hunter2"))
}
