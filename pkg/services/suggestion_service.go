package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/config"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/preview"
	"github.com/ekaya-inc/ekaya-suggest/pkg/repositories"
)

// validate is shared; validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// SuggestionService records agent suggestions and serves the review queue.
type SuggestionService interface {
	// Create records a suggestion for a tool call. A retry with the same tool call ID
	// returns the existing suggestion and created=false.
	Create(ctx context.Context, projectID uuid.UUID, req *models.NewSuggestionRequest) (s *models.Suggestion, created bool, err error)

	// Get returns a suggestion or a NotFound error.
	Get(ctx context.Context, projectID, id uuid.UUID) (*models.Suggestion, error)

	// GetByToolCallID returns the suggestion recorded for a tool call or a NotFound error.
	GetByToolCallID(ctx context.Context, projectID uuid.UUID, toolCallID string) (*models.Suggestion, error)

	// List returns one page of suggestions, newest first. cursor is the opaque
	// next_cursor of the previous page, or "" for the first page.
	List(ctx context.Context, projectID uuid.UUID, status models.SuggestionStatus, cursor string, limit int) (*models.SuggestionPage, error)

	// ListByTarget returns suggestions that targeted a record, newest first.
	ListByTarget(ctx context.Context, projectID, targetID uuid.UUID, limit int) ([]*models.Suggestion, error)

	// CountByStatus returns the number of suggestions per status.
	CountByStatus(ctx context.Context, projectID uuid.UUID) (models.StatusCounts, error)

	// RecheckPreflight recomputes and stores the preflight of a proposed suggestion.
	// A conflict acknowledges the observed target revision so the next recheck can pass.
	RecheckPreflight(ctx context.Context, projectID, id uuid.UUID) (*models.Preflight, error)

	// PreflightStale reports whether the stored preflight predates the target's last write.
	PreflightStale(ctx context.Context, s *models.Suggestion) (bool, error)
}

type suggestionService struct {
	suggestionRepo repositories.SuggestionRepository
	store          TargetStore
	validator      PreflightValidator
	cfg            config.SuggestionsConfig
	logger         *zap.Logger
}

// SuggestionServiceDeps contains dependencies for SuggestionService.
type SuggestionServiceDeps struct {
	SuggestionRepo repositories.SuggestionRepository
	Store          TargetStore
	Validator      PreflightValidator // Optional: defaults to NewPreflightValidator(Store)
	Config         config.SuggestionsConfig
	Logger         *zap.Logger
}

// NewSuggestionService creates a new SuggestionService.
func NewSuggestionService(deps *SuggestionServiceDeps) SuggestionService {
	v := deps.Validator
	if v == nil {
		v = NewPreflightValidator(deps.Store)
	}
	return &suggestionService{
		suggestionRepo: deps.SuggestionRepo,
		store:          deps.Store,
		validator:      v,
		cfg:            deps.Config,
		logger:         deps.Logger.Named("suggestions"),
	}
}

var _ SuggestionService = (*suggestionService)(nil)

func (s *suggestionService) Create(ctx context.Context, projectID uuid.UUID, req *models.NewSuggestionRequest) (*models.Suggestion, bool, error) {
	if err := validateRequest(req); err != nil {
		return nil, false, err
	}
	if !req.Operation.IsValid() {
		return nil, false, apperrors.Validation("unsupported operation %q", req.Operation)
	}
	if req.Operation.TargetType() != req.TargetType {
		return nil, false, apperrors.Validation("operation %s targets %s, not %s", req.Operation, req.Operation.TargetType(), req.TargetType)
	}

	// Fast path for producer retries.
	if existing, err := s.suggestionRepo.GetByToolCallID(ctx, projectID, req.ToolCallID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	patch, err := ParsePatch(req.Operation, req.ProposedPatch)
	if err != nil {
		return nil, false, err
	}
	normalized, err := NormalizePatch(patch)
	if err != nil {
		return nil, false, err
	}

	sug := &models.Suggestion{
		ID:              uuid.New(),
		ProjectID:       projectID,
		TargetType:      req.TargetType,
		TargetID:        req.TargetID,
		Operation:       req.Operation,
		ProposedPatch:   req.ProposedPatch,
		NormalizedPatch: normalized,
		Status:          models.StatusProposed,
		ApprovalType:    req.ApprovalType,
		ActorType:       req.ActorType,
		ActorName:       req.ActorName,
		ToolCallID:      req.ToolCallID,
		ToolName:        req.ToolName,
		StreamID:        req.StreamID,
		ThreadID:        req.ThreadID,
	}
	if sug.ApprovalType == "" {
		sug.ApprovalType = models.DefaultApprovalType
	}
	if sug.ActorType == "" {
		sug.ActorType = models.ActorAgent
	}
	if sug.ActorName == "" {
		sug.ActorName = models.DefaultActorName
	}

	// Initial preflight; the revision it observes becomes the review baseline.
	pf, err := s.validator.Validate(ctx, sug)
	if err != nil {
		return nil, false, fmt.Errorf("failed to compute preflight: %w", err)
	}
	sug.Preflight = pf
	sug.BaseRevision = pf.TargetRevision
	if sug.TargetID == nil && !req.Operation.IsCreate() {
		sug.TargetID = pf.ResolvedTargetID
	}
	preflightRuns.WithLabelValues(string(pf.Status)).Inc()

	var target *preview.Target
	if pf.ResolvedTargetID != nil {
		if target, err = s.store.Load(ctx, sug.TargetType, *pf.ResolvedTargetID); err != nil {
			return nil, false, err
		}
	}
	risk, reasons := ClassifyRisk(sug.ActorType, sug.Operation, patch, target)
	sug.RiskLevel = req.RiskLevel
	if sug.RiskLevel == "" {
		sug.RiskLevel = risk
	}
	sug.ApprovalReasons = req.ApprovalReasons
	if len(sug.ApprovalReasons) == 0 {
		sug.ApprovalReasons = reasons
	}

	created, err := s.suggestionRepo.Create(ctx, sug)
	if err != nil {
		return nil, false, err
	}
	if !created {
		s.logger.Debug("Suggestion already recorded for tool call",
			zap.String("project_id", projectID.String()),
			zap.String("tool_call_id", req.ToolCallID))
		return sug, false, nil
	}

	suggestionsCreated.WithLabelValues(string(sug.Operation), string(sug.RiskLevel)).Inc()
	s.logger.Info("Suggestion recorded",
		zap.String("project_id", projectID.String()),
		zap.String("suggestion_id", sug.ID.String()),
		zap.String("tool_call_id", sug.ToolCallID),
		zap.String("operation", string(sug.Operation)),
		zap.String("risk_level", string(sug.RiskLevel)),
		zap.String("preflight", string(pf.Status)))
	return sug, true, nil
}

// validateRequest maps validator failures to a single validation error naming each field.
func validateRequest(req *models.NewSuggestionRequest) error {
	if req == nil {
		return apperrors.Validation("request body is required")
	}
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation("%s", err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonFieldName(fe.StructField())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return apperrors.Validation("%s", strings.Join(msgs, "; "))
}

var requestJSONNames = map[string]string{
	"ToolCallID":      "tool_call_id",
	"ToolName":        "tool_name",
	"TargetType":      "target_type",
	"Operation":       "operation",
	"ProposedPatch":   "proposed_patch",
	"ApprovalType":    "approval_type",
	"RiskLevel":       "risk_level",
	"ApprovalReasons": "approval_reasons",
	"ActorType":       "actor_type",
	"ActorName":       "actor_name",
}

func jsonFieldName(structField string) string {
	if name, ok := requestJSONNames[structField]; ok {
		return name
	}
	return structField
}

func (s *suggestionService) Get(ctx context.Context, projectID, id uuid.UUID) (*models.Suggestion, error) {
	return loadSuggestion(ctx, s.suggestionRepo, projectID, id)
}

// loadSuggestion fetches a suggestion of projectID or returns NotFound.
func loadSuggestion(ctx context.Context, repo repositories.SuggestionRepository, projectID, id uuid.UUID) (*models.Suggestion, error) {
	sug, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sug == nil || sug.ProjectID != projectID {
		return nil, apperrors.NotFound("suggestion %s not found", id)
	}
	return sug, nil
}

func (s *suggestionService) GetByToolCallID(ctx context.Context, projectID uuid.UUID, toolCallID string) (*models.Suggestion, error) {
	sug, err := s.suggestionRepo.GetByToolCallID(ctx, projectID, toolCallID)
	if err != nil {
		return nil, err
	}
	if sug == nil {
		return nil, apperrors.NotFound("no suggestion recorded for tool call %q", toolCallID)
	}
	return sug, nil
}

func (s *suggestionService) List(ctx context.Context, projectID uuid.UUID, status models.SuggestionStatus, cursor string, limit int) (*models.SuggestionPage, error) {
	if status == "" {
		status = models.StatusAll
	}
	if !status.IsValidFilter() {
		return nil, apperrors.Validation("invalid status filter %q", status)
	}

	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = s.cfg.ClampPageSize(limit)

	// One extra row tells us whether another page exists.
	items, err := s.suggestionRepo.List(ctx, projectID, models.SuggestionFilter{
		Status: status,
		After:  after,
		Limit:  limit + 1,
	})
	if err != nil {
		return nil, err
	}

	page := &models.SuggestionPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = EncodeCursor(models.SuggestionCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if page.Items == nil {
		page.Items = []*models.Suggestion{}
	}
	return page, nil
}

type cursorPayload struct {
	T  string `json:"t"`
	ID string `json:"id"`
}

// EncodeCursor returns the opaque form of a keyset position.
func EncodeCursor(c models.SuggestionCursor) string {
	data, _ := json.Marshal(cursorPayload{T: c.CreatedAt.UTC().Format(time.RFC3339Nano), ID: c.ID.String()})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque cursor. An empty cursor means the first page.
func DecodeCursor(cursor string) (*models.SuggestionCursor, error) {
	if cursor == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, apperrors.Validation("invalid cursor")
	}
	var p cursorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperrors.Validation("invalid cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, p.T)
	if err != nil {
		return nil, apperrors.Validation("invalid cursor")
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return nil, apperrors.Validation("invalid cursor")
	}
	return &models.SuggestionCursor{CreatedAt: t, ID: id}, nil
}

func (s *suggestionService) ListByTarget(ctx context.Context, projectID, targetID uuid.UUID, limit int) ([]*models.Suggestion, error) {
	items, err := s.suggestionRepo.ListByTarget(ctx, projectID, targetID, s.cfg.ClampPageSize(limit))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.Suggestion{}
	}
	return items, nil
}

func (s *suggestionService) CountByStatus(ctx context.Context, projectID uuid.UUID) (models.StatusCounts, error) {
	return s.suggestionRepo.CountByStatus(ctx, projectID)
}

func (s *suggestionService) RecheckPreflight(ctx context.Context, projectID, id uuid.UUID) (*models.Preflight, error) {
	sug, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
	if err != nil {
		return nil, err
	}
	if sug.Status != models.StatusProposed {
		return nil, apperrors.InvalidState("suggestion is %s; preflight only applies to proposed suggestions", sug.Status)
	}

	pf, err := s.validator.Validate(ctx, sug)
	if err != nil {
		return nil, fmt.Errorf("failed to compute preflight: %w", err)
	}
	if err := recordPreflight(ctx, s.suggestionRepo, sug, pf, true); err != nil {
		return nil, err
	}

	s.logger.Debug("Preflight rechecked",
		zap.String("project_id", projectID.String()),
		zap.String("suggestion_id", id.String()),
		zap.String("status", string(pf.Status)))
	return pf, nil
}

// recordPreflight stores pf on sug. With acknowledge set, a conflict on a target that
// still resolves makes the observed revision the new baseline.
func recordPreflight(ctx context.Context, repo repositories.SuggestionRepository, sug *models.Suggestion, pf *models.Preflight, acknowledge bool) error {
	var rearm *int64
	if acknowledge && pf.Status == models.PreflightConflict && pf.ResolvedTargetID != nil && pf.TargetRevision != nil {
		rearm = pf.TargetRevision
	}
	if err := repo.RecordPreflight(ctx, sug.ID, pf, rearm); err != nil {
		return err
	}
	preflightRuns.WithLabelValues(string(pf.Status)).Inc()

	sug.Preflight = pf
	if rearm != nil {
		sug.BaseRevision = rearm
	}
	if sug.TargetID == nil && !sug.Operation.IsCreate() {
		sug.TargetID = pf.ResolvedTargetID
	}
	return nil
}

func (s *suggestionService) PreflightStale(ctx context.Context, sug *models.Suggestion) (bool, error) {
	if sug.Status != models.StatusProposed || sug.Preflight == nil {
		return false, nil
	}
	targetID := sug.TargetID
	if targetID == nil {
		targetID = sug.Preflight.ResolvedTargetID
	}
	if targetID == nil {
		return false, nil
	}
	state, err := s.store.Revision(ctx, sug.TargetType, *targetID)
	if err != nil {
		return false, err
	}
	if state == nil {
		// A vanished target makes any stored ok result stale.
		return sug.Preflight.Status == models.PreflightOK, nil
	}
	return !sug.Preflight.IsCurrent(state.UpdatedAt), nil
}
