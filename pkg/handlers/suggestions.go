package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateSuggestionResponse for POST /suggestions
type CreateSuggestionResponse struct {
	Suggestion *models.Suggestion `json:"suggestion"`
	Created    bool               `json:"created"`
}

// SuggestionResponse for GET /suggestions/{sid}
type SuggestionResponse struct {
	*models.Suggestion
	// PreflightStale is true when the target changed after the stored preflight was computed.
	PreflightStale bool `json:"preflight_stale"`
}

// SuggestionListResponse for GET /targets/{tid}/suggestions
type SuggestionListResponse struct {
	Items []*models.Suggestion `json:"items"`
	Total int                  `json:"total"`
}

// DecisionRequest for POST /suggestions/decisions
type DecisionRequest struct {
	SuggestionIDs []uuid.UUID     `json:"suggestion_ids"`
	Decision      models.Decision `json:"decision"`
}

// DecisionResponse for POST /suggestions/decisions
type DecisionResponse struct {
	Outcomes  []models.DecisionOutcome `json:"outcomes"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

// RollbackRequest for POST /suggestions/{sid}/rollback
type RollbackRequest struct {
	Cascade bool `json:"cascade"`
}

// ============================================================================
// Handler
// ============================================================================

// SuggestionsHandler serves the review queue, decisions, previews, and rollback.
type SuggestionsHandler struct {
	suggestionService services.SuggestionService
	decisionService   services.DecisionService
	previewService    services.PreviewService
	rollbackService   services.RollbackService
	logger            *zap.Logger
}

// NewSuggestionsHandler creates a new suggestions handler.
func NewSuggestionsHandler(
	suggestionService services.SuggestionService,
	decisionService services.DecisionService,
	previewService services.PreviewService,
	rollbackService services.RollbackService,
	logger *zap.Logger,
) *SuggestionsHandler {
	return &SuggestionsHandler{
		suggestionService: suggestionService,
		decisionService:   decisionService,
		previewService:    previewService,
		rollbackService:   rollbackService,
		logger:            logger,
	}
}

// RegisterRoutes registers the suggestion routes on the given mux.
func (h *SuggestionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}/suggestions"
	wrap := func(next http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.RequireAuthWithPathValidation("pid")(tenantMiddleware(next))
	}

	mux.HandleFunc("GET "+base, wrap(h.List))
	mux.HandleFunc("POST "+base, wrap(h.Create))
	mux.HandleFunc("GET "+base+"/counts", wrap(h.Counts))
	mux.HandleFunc("POST "+base+"/decisions", wrap(h.Decide))
	mux.HandleFunc("GET /api/projects/{pid}/tool-calls/{tcid}/suggestion", wrap(h.GetByToolCall))
	mux.HandleFunc("GET /api/projects/{pid}/targets/{tid}/suggestions", wrap(h.ListByTarget))
	mux.HandleFunc("GET "+base+"/{sid}", wrap(h.Get))
	mux.HandleFunc("POST "+base+"/{sid}/preflight", wrap(h.Recheck))
	mux.HandleFunc("GET "+base+"/{sid}/preview", wrap(h.Preview))
	mux.HandleFunc("POST "+base+"/{sid}/applied-in-editor", wrap(h.AppliedInEditor))
	mux.HandleFunc("GET "+base+"/{sid}/rollback-impact", wrap(h.RollbackImpact))
	mux.HandleFunc("POST "+base+"/{sid}/rollback", wrap(h.Rollback))
}

// List handles GET /api/projects/{pid}/suggestions?status=&cursor=&limit=
func (h *SuggestionsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	limit, ok := ParseLimit(w, r, h.logger)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, err := h.suggestionService.List(r.Context(), projectID, models.SuggestionStatus(q.Get("status")), q.Get("cursor"), limit)
	if err != nil {
		writeServiceError(w, h.logger, "list suggestions", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, page)
}

// Create handles POST /api/projects/{pid}/suggestions
// A repeated tool call returns the existing suggestion with 200 instead of 201.
func (h *SuggestionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.NewSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	sug, created, err := h.suggestionService.Create(r.Context(), projectID, &req)
	if err != nil {
		writeServiceError(w, h.logger, "create suggestion", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, h.logger, status, CreateSuggestionResponse{Suggestion: sug, Created: created})
}

// Counts handles GET /api/projects/{pid}/suggestions/counts
func (h *SuggestionsHandler) Counts(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	counts, err := h.suggestionService.CountByStatus(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, "count suggestions", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, counts)
}

// Decide handles POST /api/projects/{pid}/suggestions/decisions
// Per-suggestion failures are reported in the outcomes with a 200 status.
func (h *SuggestionsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	outcomes, err := h.decisionService.ApplyDecisions(withReviewer(r), projectID, req.SuggestionIDs, req.Decision)
	if err != nil {
		writeServiceError(w, h.logger, "apply decisions", err)
		return
	}

	resp := DecisionResponse{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.OK() {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	writeData(w, h.logger, http.StatusOK, resp)
}

// GetByToolCall handles GET /api/projects/{pid}/tool-calls/{tcid}/suggestion
func (h *SuggestionsHandler) GetByToolCall(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	sug, err := h.suggestionService.GetByToolCallID(r.Context(), projectID, r.PathValue("tcid"))
	if err != nil {
		writeServiceError(w, h.logger, "get suggestion by tool call", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, sug)
}

// ListByTarget handles GET /api/projects/{pid}/targets/{tid}/suggestions
func (h *SuggestionsHandler) ListByTarget(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	targetID, ok := ParseTargetID(w, r, h.logger)
	if !ok {
		return
	}
	limit, ok := ParseLimit(w, r, h.logger)
	if !ok {
		return
	}

	items, err := h.suggestionService.ListByTarget(r.Context(), projectID, targetID, limit)
	if err != nil {
		writeServiceError(w, h.logger, "list suggestions by target", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, SuggestionListResponse{Items: items, Total: len(items)})
}

// Get handles GET /api/projects/{pid}/suggestions/{sid}
func (h *SuggestionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, suggestionID, ok := ParseProjectAndSuggestionIDs(w, r, h.logger)
	if !ok {
		return
	}

	sug, err := h.suggestionService.Get(r.Context(), projectID, suggestionID)
	if err != nil {
		writeServiceError(w, h.logger, "get suggestion", err)
		return
	}

	stale, err := h.suggestionService.PreflightStale(r.Context(), sug)
	if err != nil {
		// Staleness is advisory; the suggestion itself is still served.
		h.logger.Warn("Failed to check preflight staleness",
			zap.String("suggestion_id", suggestionID.String()),
			zap.Error(err))
	}
	writeData(w, h.logger, http.StatusOK, SuggestionResponse{Suggestion: sug, PreflightStale: stale})
}

// Recheck handles POST /api/projects/{pid}/suggestions/{sid}/preflight
func (h *SuggestionsHandler) Recheck(w http.ResponseWriter, r *http.Request) {
	projectID, suggestionID, ok := ParseProjectAndSuggestionIDs(w, r, h.logger)
	if !ok {
		return
	}

	pf, err := h.suggestionService.RecheckPreflight(r.Context(), projectID, suggestionID)
	if err != nil {
		writeServiceError(w, h.logger, "recheck preflight", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, pf)
}

// Preview handles GET /api/projects/{pid}/suggestions/{sid}/preview
func (h *SuggestionsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	projectID, suggestionID, ok := ParseProjectAndSuggestionIDs(w, r, h.logger)
	if !ok {
		return
	}

	p, err := h.previewService.Preview(r.Context(), projectID, suggestionID)
	if err != nil {
		writeServiceError(w, h.logger, "build preview", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, p)
}

// AppliedInEditor handles POST /api/projects/{pid}/suggestions/{sid}/applied-in-editor
func (h *SuggestionsHandler) AppliedInEditor(w http.ResponseWriter, r *http.Request) {
	projectID, suggestionID, ok := ParseProjectAndSuggestionIDs(w, r, h.logger)
	if !ok {
		return
	}

	outcome, err := h.decisionService.MarkAppliedInEditor(withReviewer(r), projectID, suggestionID)
	if err != nil {
		writeServiceError(w, h.logger, "mark suggestion applied in editor", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, outcome)
}

// RollbackImpact handles GET /api/projects/{pid}/suggestions/{sid}/rollback-impact
func (h *SuggestionsHandler) RollbackImpact(w http.ResponseWriter, r *http.Request) {
	projectID, suggestionID, ok := ParseProjectAndSuggestionIDs(w, r, h.logger)
	if !ok {
		return
	}

	check, err := h.rollbackService.GetImpact(r.Context(), projectID, suggestionID)
	if err != nil {
		writeServiceError(w, h.logger, "compute rollback impact", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, check)
}

// Rollback handles POST /api/projects/{pid}/suggestions/{sid}/rollback
// The body is optional; cascade defaults to false.
func (h *SuggestionsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	projectID, suggestionID, ok := ParseProjectAndSuggestionIDs(w, r, h.logger)
	if !ok {
		return
	}

	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.rollbackService.Rollback(withReviewer(r), projectID, suggestionID, req.Cascade)
	if err != nil {
		writeServiceError(w, h.logger, "roll back suggestion", err)
		return
	}
	writeData(w, h.logger, http.StatusOK, result)
}

// withReviewer attributes the request to the authenticated subject.
func withReviewer(r *http.Request) context.Context {
	ctx := r.Context()
	if reviewer, ok := auth.ReviewerFromContext(ctx); ok {
		return models.WithManualProvenance(ctx, reviewer)
	}
	return ctx
}
