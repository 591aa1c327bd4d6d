package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/audit"
	"github.com/ekaya-inc/ekaya-suggest/pkg/database"
	"github.com/ekaya-inc/ekaya-suggest/pkg/logging"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/repositories"
	"github.com/ekaya-inc/ekaya-suggest/pkg/retry"
)

// DecisionService applies reviewer verdicts to proposed suggestions.
type DecisionService interface {
	// ApplyDecisions applies one decision to each suggestion independently and returns
	// one outcome per ID, in order. Business failures are reported in the outcome;
	// the returned error is only for requests that could not be processed at all.
	ApplyDecisions(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID, decision models.Decision) ([]models.DecisionOutcome, error)

	// MarkAppliedInEditor records that an editor applied a document suggestion locally.
	MarkAppliedInEditor(ctx context.Context, projectID, id uuid.UUID) (*models.DecisionOutcome, error)
}

type decisionService struct {
	suggestionRepo repositories.SuggestionRepository
	store          TargetStore
	validator      PreflightValidator
	txRunner       database.TxRunner
	auditor        *audit.DecisionAuditor
	logger         *zap.Logger
}

// DecisionServiceDeps contains dependencies for DecisionService.
type DecisionServiceDeps struct {
	SuggestionRepo repositories.SuggestionRepository
	Store          TargetStore
	Validator      PreflightValidator // Optional: defaults to NewPreflightValidator(Store)
	TxRunner       database.TxRunner
	Auditor        *audit.DecisionAuditor // Optional
	Logger         *zap.Logger
}

// NewDecisionService creates a new DecisionService.
func NewDecisionService(deps *DecisionServiceDeps) DecisionService {
	v := deps.Validator
	if v == nil {
		v = NewPreflightValidator(deps.Store)
	}
	return &decisionService{
		suggestionRepo: deps.SuggestionRepo,
		store:          deps.Store,
		validator:      v,
		txRunner:       deps.TxRunner,
		auditor:        deps.Auditor,
		logger:         deps.Logger.Named("decisions"),
	}
}

var _ DecisionService = (*decisionService)(nil)

// MaxBatchSize bounds the number of suggestions in one decision request.
const MaxBatchSize = 100

func (s *decisionService) ApplyDecisions(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID, decision models.Decision) ([]models.DecisionOutcome, error) {
	if !decision.IsValid() {
		return nil, apperrors.Validation("decision must be approve or reject, got %q", decision)
	}
	if len(ids) == 0 {
		return nil, apperrors.Validation("suggestion_ids must not be empty")
	}
	if len(ids) > MaxBatchSize {
		return nil, apperrors.Validation("at most %d suggestions can be decided at once", MaxBatchSize)
	}
	prov, err := models.RequireProvenance(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]models.DecisionOutcome, 0, len(ids))
	for _, id := range ids {
		var outcome models.DecisionOutcome
		if decision == models.DecisionApprove {
			outcome = s.approve(ctx, projectID, id, prov.UserID)
		} else {
			outcome = s.reject(ctx, projectID, id, prov.UserID)
		}
		s.record(ctx, projectID, string(decision), decision, outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *decisionService) approve(ctx context.Context, projectID, id uuid.UUID, reviewer string) models.DecisionOutcome {
	sug, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
	if err != nil {
		return s.failed(id, err)
	}
	if sug.Status != models.StatusProposed {
		return resolvedOutcome(sug)
	}

	patch, err := suggestionPatch(sug)
	if err != nil {
		return s.failed(id, err)
	}

	// Never trust the stored preflight: revalidate against the target as it is now.
	pf, err := s.validator.Validate(ctx, sug)
	if err != nil {
		return s.failed(id, err)
	}
	if pf.Status != models.PreflightOK {
		// A concurrent approval moves the target too; report it rather than the conflict it caused.
		if current, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id); err == nil && current.Status != models.StatusProposed {
			return resolvedOutcome(current)
		}
		if err := recordPreflight(ctx, s.suggestionRepo, sug, pf, false); err != nil {
			return s.failed(id, err)
		}
		return s.failed(id, preflightError(pf))
	}
	if sug.Preflight != nil && sug.Preflight.Status == models.PreflightConflict {
		// The reviewer saw a conflict and has not seen a clean check since.
		return s.failed(id, apperrors.Conflict("the last preflight reported a conflict; recheck before approving"))
	}
	if err := recordPreflight(ctx, s.suggestionRepo, sug, pf, false); err != nil {
		return s.failed(id, err)
	}

	var result *models.ExecutionResult
	err = retry.DoIfRetryable(ctx, retry.TxConfig(), func() error {
		return s.txRunner.InTx(ctx, func(ctx context.Context) error {
			ok, err := s.suggestionRepo.Transition(ctx, id, models.StatusProposed, models.StatusAccepted, models.ResolutionExecuted, reviewer)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.New(apperrors.ErrAlreadyResolved, "suggestion %s was resolved concurrently", id)
			}

			res, err := s.store.Apply(ctx, sug, patch, pf)
			if err != nil {
				return err
			}
			if err := s.suggestionRepo.SaveResult(ctx, id, res); err != nil {
				return err
			}
			result = res
			return nil
		})
	})

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrAlreadyResolved):
		return s.reload(ctx, projectID, id)
	case errors.Is(err, apperrors.ErrConflict):
		// A write guard caught a change after validation. Nothing was committed.
		return s.failed(id, err)
	default:
		return s.executionFailed(ctx, id, err)
	}

	outcome := models.DecisionOutcome{
		SuggestionID: id,
		Status:       models.StatusAccepted,
		Resolution:   models.ResolutionExecuted,
		Result:       result,
	}
	if patch.Document != nil {
		outcome.EditorCommand = &models.EditorCommand{
			DocumentID:    result.Rollback.TargetID,
			Operation:     sug.Operation,
			Content:       patch.Document.Content,
			SelectionText: patch.Document.SelectionText,
			Revision:      result.Revision,
		}
	}

	s.logger.Info("Suggestion approved and executed",
		zap.String("project_id", projectID.String()),
		zap.String("suggestion_id", id.String()),
		zap.String("operation", string(sug.Operation)),
		zap.String("summary", result.Summary))
	return outcome
}

// executionFailed records a failed mutation on the still-proposed suggestion.
func (s *decisionService) executionFailed(ctx context.Context, id uuid.UUID, execErr error) models.DecisionOutcome {
	msg := logging.SanitizeError(execErr)
	if _, err := s.suggestionRepo.RecordExecutionFailure(ctx, id, msg); err != nil {
		s.logger.Error("Failed to record execution failure",
			zap.String("suggestion_id", id.String()),
			zap.Error(err))
	}

	s.logger.Warn("Suggestion execution failed",
		zap.String("suggestion_id", id.String()),
		zap.String("error", msg))

	code := apperrors.Code(execErr)
	if code == apperrors.CodeInternal {
		code = apperrors.CodeExecution
	}
	return models.DecisionOutcome{
		SuggestionID: id,
		Status:       models.StatusProposed,
		Resolution:   models.ResolutionExecutionFailed,
		Error:        &models.OutcomeError{Code: code, Message: msg},
	}
}

func (s *decisionService) reject(ctx context.Context, projectID, id uuid.UUID, reviewer string) models.DecisionOutcome {
	sug, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
	if err != nil {
		return s.failed(id, err)
	}
	if sug.Status != models.StatusProposed {
		return resolvedOutcome(sug)
	}

	ok, err := s.suggestionRepo.Transition(ctx, id, models.StatusProposed, models.StatusRejected, models.ResolutionUserRejected, reviewer)
	if err != nil {
		return s.failed(id, err)
	}
	if !ok {
		return s.reload(ctx, projectID, id)
	}
	return models.DecisionOutcome{
		SuggestionID: id,
		Status:       models.StatusRejected,
		Resolution:   models.ResolutionUserRejected,
	}
}

func (s *decisionService) MarkAppliedInEditor(ctx context.Context, projectID, id uuid.UUID) (*models.DecisionOutcome, error) {
	prov, err := models.RequireProvenance(ctx)
	if err != nil {
		return nil, err
	}
	sug, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
	if err != nil {
		return nil, err
	}
	if !sug.Operation.IsDocument() {
		return nil, apperrors.InvalidState("only document suggestions can be applied in an editor")
	}

	outcome := resolvedOutcome(sug)
	if sug.Status == models.StatusProposed {
		ok, err := s.suggestionRepo.Transition(ctx, id, models.StatusProposed, models.StatusAccepted, models.ResolutionAppliedInEditor, prov.UserID)
		if err != nil {
			return nil, err
		}
		if ok {
			outcome = models.DecisionOutcome{
				SuggestionID: id,
				Status:       models.StatusAccepted,
				Resolution:   models.ResolutionAppliedInEditor,
			}
		} else {
			outcome = s.reload(ctx, projectID, id)
		}
	}

	s.record(ctx, projectID, "applied_in_editor", models.DecisionApprove, outcome)
	return &outcome, nil
}

// reload reports the state a concurrent caller left behind.
func (s *decisionService) reload(ctx context.Context, projectID, id uuid.UUID) models.DecisionOutcome {
	sug, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
	if err != nil {
		return s.failed(id, err)
	}
	return resolvedOutcome(sug)
}

func (s *decisionService) failed(id uuid.UUID, err error) models.DecisionOutcome {
	if !apperrors.IsBusiness(err) {
		s.logger.Error("Decision failed",
			zap.String("suggestion_id", id.String()),
			zap.Error(err))
	}
	return models.DecisionOutcome{
		SuggestionID: id,
		Error: &models.OutcomeError{
			Code:    apperrors.Code(err),
			Message: logging.SanitizeError(err),
		},
	}
}

func (s *decisionService) record(ctx context.Context, projectID uuid.UUID, label string, decision models.Decision, outcome models.DecisionOutcome) {
	result := string(outcome.Resolution)
	switch {
	case outcome.Error != nil:
		result = outcome.Error.Code
	case outcome.AlreadyResolved:
		result = apperrors.CodeAlreadyResolved
	}
	decisionsApplied.WithLabelValues(label, result).Inc()

	if s.auditor != nil {
		s.auditor.LogDecision(ctx, projectID, decision, outcome)
	}
}

// resolvedOutcome describes a suggestion that was already past proposed.
func resolvedOutcome(sug *models.Suggestion) models.DecisionOutcome {
	return models.DecisionOutcome{
		SuggestionID:    sug.ID,
		Status:          sug.Status,
		Resolution:      sug.CurrentResolution(),
		AlreadyResolved: sug.Status != models.StatusProposed,
		Result:          sug.Result,
	}
}

// preflightError turns a failing preflight into the error returned to the reviewer.
func preflightError(pf *models.Preflight) error {
	msg := "preflight failed"
	if len(pf.Errors) > 0 {
		msg = pf.Errors[0]
		for _, e := range pf.Errors[1:] {
			msg += "; " + e
		}
	}
	if pf.Status == models.PreflightConflict {
		return apperrors.Conflict("%s; recheck before approving", msg)
	}
	return apperrors.Validation("%s", msg)
}
