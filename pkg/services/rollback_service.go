package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/audit"
	"github.com/ekaya-inc/ekaya-suggest/pkg/database"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/preview"
	"github.com/ekaya-inc/ekaya-suggest/pkg/repositories"
	"github.com/ekaya-inc/ekaya-suggest/pkg/retry"
)

// RollbackService reverses executed suggestions.
type RollbackService interface {
	// GetImpact describes what rolling back a suggestion would do. It never writes;
	// business reasons a rollback is impossible are reported in the check, not as errors.
	GetImpact(ctx context.Context, projectID, id uuid.UUID) (*models.RollbackCheck, error)

	// Rollback inverts an executed suggestion. Without cascade, an entity that gained
	// relationships is refused with ErrCascadeRequired. A second call reports
	// AlreadyRolledBack and changes nothing.
	Rollback(ctx context.Context, projectID, id uuid.UUID, cascade bool) (*models.RollbackResult, error)
}

type rollbackService struct {
	suggestionRepo repositories.SuggestionRepository
	store          TargetStore
	txRunner       database.TxRunner
	auditor        *audit.DecisionAuditor
	previewLimit   int
	logger         *zap.Logger
	now            func() time.Time
}

// RollbackServiceDeps contains dependencies for RollbackService.
type RollbackServiceDeps struct {
	SuggestionRepo repositories.SuggestionRepository
	Store          TargetStore
	TxRunner       database.TxRunner
	Auditor        *audit.DecisionAuditor // Optional
	// PreviewLimit bounds the relationships listed in an impact.
	PreviewLimit int
	Logger       *zap.Logger
}

// NewRollbackService creates a new RollbackService.
func NewRollbackService(deps *RollbackServiceDeps) RollbackService {
	limit := deps.PreviewLimit
	if limit <= 0 {
		limit = 10
	}
	return &rollbackService{
		suggestionRepo: deps.SuggestionRepo,
		store:          deps.Store,
		txRunner:       deps.TxRunner,
		auditor:        deps.Auditor,
		previewLimit:   limit,
		logger:         deps.Logger.Named("rollback"),
		now:            time.Now,
	}
}

var _ RollbackService = (*rollbackService)(nil)

// eligible returns the rollback descriptor of sug, or the business reason it cannot be rolled back.
func eligible(sug *models.Suggestion) (*models.RollbackDescriptor, error) {
	switch {
	case sug.CurrentResolution() == models.ResolutionRolledBack:
		return nil, nil
	case sug.Status != models.StatusAccepted || sug.CurrentResolution() != models.ResolutionExecuted:
		return nil, apperrors.InvalidState("only accepted, executed suggestions can be rolled back (status %s, resolution %s)",
			sug.Status, orNone(sug.CurrentResolution()))
	case sug.Result == nil || sug.Result.Rollback == nil:
		return nil, apperrors.InvalidState("no rollback information was captured when this suggestion was approved")
	}
	return sug.Result.Rollback, nil
}

func orNone(r models.Resolution) string {
	if r == "" {
		return "none"
	}
	return string(r)
}

func (s *rollbackService) GetImpact(ctx context.Context, projectID, id uuid.UUID) (*models.RollbackCheck, error) {
	sug, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
	if err != nil {
		return nil, err
	}

	desc, err := eligible(sug)
	if err != nil {
		return blockedCheck(err), nil
	}
	if desc == nil {
		return &models.RollbackCheck{
			AlreadyRolledBack: true,
			Error:             "suggestion was already rolled back",
			ErrorCode:         apperrors.CodeAlreadyResolved,
		}, nil
	}

	if err := s.store.CheckRevert(ctx, desc); err != nil {
		if apperrors.IsBusiness(err) {
			return blockedCheck(err), nil
		}
		return nil, err
	}

	impact, err := s.describe(ctx, desc)
	if err != nil {
		return nil, err
	}
	return &models.RollbackCheck{CanRollback: true, Impact: impact}, nil
}

func blockedCheck(err error) *models.RollbackCheck {
	return &models.RollbackCheck{
		CanRollback: false,
		Error:       err.Error(),
		ErrorCode:   apperrors.Code(err),
	}
}

// describe builds the impact of inverting desc against the current target.
func (s *rollbackService) describe(ctx context.Context, desc *models.RollbackDescriptor) (*models.RollbackImpact, error) {
	impact := &models.RollbackImpact{Kind: desc.Kind}
	prior := desc.PriorState

	switch desc.Kind {
	case models.OpEntityCreate:
		current, err := s.store.Load(ctx, models.TargetEntity, desc.TargetID)
		if err != nil || current == nil {
			return nil, errOrMissing(err, "entity")
		}
		rels, count, err := s.store.EntityRelationships(ctx, desc.TargetID, s.previewLimit)
		if err != nil {
			return nil, err
		}
		impact.EntityName = current.Entity.Name
		impact.Summary = fmt.Sprintf("delete entity %q", current.Entity.Name)
		impact.RelationshipCount = count
		impact.Relationships = impactRelationships(rels)
		if count > 0 {
			impact.Warning = fmt.Sprintf("%d relationship(s) reference %q and will also be deleted", count, current.Entity.Name)
		}

	case models.OpEntityUpdate:
		current, err := s.store.Load(ctx, models.TargetEntity, desc.TargetID)
		if err != nil || current == nil {
			return nil, errOrMissing(err, "entity")
		}
		impact.EntityName = current.Entity.Name
		impact.Summary = fmt.Sprintf("revert entity %q to its values before the suggestion", current.Entity.Name)
		for _, key := range models.EntityFieldKeys {
			from, to := current.Entity.FieldValue(key), prior.Entity.FieldValue(key)
			if from != to {
				impact.Fields = append(impact.Fields, models.PreviewChange{Key: key, From: from, To: to})
			}
		}

	case models.OpEntityDelete:
		impact.EntityName = prior.Entity.Name
		impact.RelationshipCount = len(prior.Relationships)
		rels := prior.Relationships
		if len(rels) > s.previewLimit {
			rels = rels[:s.previewLimit]
		}
		impact.Relationships = impactRelationships(rels)
		impact.Summary = fmt.Sprintf("restore entity %q and %d relationship(s)", prior.Entity.Name, len(prior.Relationships))

	case models.OpRelationshipCreate:
		current, err := s.store.Load(ctx, models.TargetRelationship, desc.TargetID)
		if err != nil || current == nil {
			return nil, errOrMissing(err, "relationship")
		}
		r := current.Relationship
		impact.Summary = fmt.Sprintf("delete relationship %s → %s (%s)", r.SourceName, r.TargetName, r.Type)
		impact.Relationships = impactRelationships([]models.Relationship{*r})

	case models.OpRelationshipUpdate:
		current, err := s.store.Load(ctx, models.TargetRelationship, desc.TargetID)
		if err != nil || current == nil {
			return nil, errOrMissing(err, "relationship")
		}
		r := current.Relationship
		impact.Summary = fmt.Sprintf("revert relationship %s → %s to its values before the suggestion", r.SourceName, r.TargetName)
		for _, key := range models.RelationshipFieldKeys {
			from, to := r.FieldValue(key), prior.Relationship.FieldValue(key)
			if from != to {
				impact.Fields = append(impact.Fields, models.PreviewChange{Key: key, From: from, To: to})
			}
		}

	case models.OpRelationshipDelete:
		r := prior.Relationship
		impact.Summary = fmt.Sprintf("restore relationship %s → %s (%s)", r.SourceName, r.TargetName, r.Type)
		impact.Relationships = impactRelationships([]models.Relationship{*r})

	case models.OpMemoryCommit:
		if prior.Memory == nil {
			impact.Summary = "unpin the committed memory"
			impact.Fields = []models.PreviewChange{{Key: "pinned", From: "true", To: "false"}}
			break
		}
		current, err := s.store.Load(ctx, models.TargetMemory, desc.TargetID)
		if err != nil || current == nil {
			return nil, errOrMissing(err, "memory")
		}
		impact.Summary = "restore the memory's previous content"
		impact.Fields = []models.PreviewChange{
			{Key: "content", From: current.Memory.Content, To: prior.Memory.Content},
			{Key: "pinned", From: fmt.Sprint(current.Memory.Pinned), To: fmt.Sprint(prior.Memory.Pinned)},
		}

	default:
		current, err := s.store.Load(ctx, models.TargetDocument, desc.TargetID)
		if err != nil || current == nil {
			return nil, errOrMissing(err, "document")
		}
		diff, stats := preview.UnifiedDiff(current.Document.Content, *prior.Document)
		impact.Summary = fmt.Sprintf("restore the previous content of %q (+%d/-%d lines)",
			current.Document.Title, stats.LinesAdded, stats.LinesDeleted)
		if diff != "" {
			impact.Fields = []models.PreviewChange{{Key: "content", From: current.Document.Content, To: *prior.Document}}
		}
	}
	return impact, nil
}

func errOrMissing(err error, what string) error {
	if err != nil {
		return err
	}
	return apperrors.NotFound("%s no longer exists", what)
}

func impactRelationships(rels []models.Relationship) []models.ImpactRelationship {
	if len(rels) == 0 {
		return nil
	}
	out := make([]models.ImpactRelationship, len(rels))
	for i, r := range rels {
		out[i] = models.ImpactRelationship{
			ID:           r.ID,
			SourceEntity: r.SourceName,
			TargetEntity: r.TargetName,
			Type:         r.Type,
		}
	}
	return out
}

func (s *rollbackService) Rollback(ctx context.Context, projectID, id uuid.UUID, cascade bool) (*models.RollbackResult, error) {
	prov, err := models.RequireProvenance(ctx)
	if err != nil {
		return nil, err
	}
	sug, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
	if err != nil {
		return nil, err
	}

	desc, err := eligible(sug)
	if err != nil {
		s.refused(ctx, projectID, id, err)
		return nil, err
	}
	if desc == nil {
		return s.alreadyRolledBack(ctx, projectID, sug, cascade), nil
	}

	at := s.now().UTC()
	removed := 0
	err = retry.DoIfRetryable(ctx, retry.TxConfig(), func() error {
		return s.txRunner.InTx(ctx, func(ctx context.Context) error {
			ok, err := s.suggestionRepo.MarkRolledBack(ctx, id, prov.UserID, at)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.New(apperrors.ErrAlreadyResolved, "suggestion %s was rolled back concurrently", id)
			}
			n, err := s.store.Revert(ctx, desc, cascade)
			if err != nil {
				return err
			}
			removed = n
			return nil
		})
	})
	if errors.Is(err, apperrors.ErrAlreadyResolved) {
		current, lerr := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
		if lerr != nil {
			return nil, lerr
		}
		if current.CurrentResolution() == models.ResolutionRolledBack {
			return s.alreadyRolledBack(ctx, projectID, current, cascade), nil
		}
		err = apperrors.InvalidState("suggestion is no longer eligible for rollback")
	}
	if err != nil {
		s.refused(ctx, projectID, id, err)
		return nil, err
	}

	result := &models.RollbackResult{
		SuggestionID:         id,
		RolledBackAt:         &at,
		RemovedRelationships: removed,
	}
	rollbacksPerformed.WithLabelValues(string(models.ResolutionRolledBack)).Inc()
	if s.auditor != nil {
		s.auditor.LogRollback(ctx, projectID, result, cascade)
	}
	s.logger.Info("Suggestion rolled back",
		zap.String("project_id", projectID.String()),
		zap.String("suggestion_id", id.String()),
		zap.String("kind", string(desc.Kind)),
		zap.Bool("cascade", cascade),
		zap.Int("removed_relationships", removed))
	return result, nil
}

func (s *rollbackService) alreadyRolledBack(ctx context.Context, projectID uuid.UUID, sug *models.Suggestion, cascade bool) *models.RollbackResult {
	result := &models.RollbackResult{
		SuggestionID:      sug.ID,
		AlreadyRolledBack: true,
		RolledBackAt:      sug.RolledBackAt,
	}
	rollbacksPerformed.WithLabelValues("already_rolled_back").Inc()
	if s.auditor != nil {
		s.auditor.LogRollback(ctx, projectID, result, cascade)
	}
	return result
}

func (s *rollbackService) refused(ctx context.Context, projectID, id uuid.UUID, err error) {
	code := apperrors.Code(err)
	rollbacksPerformed.WithLabelValues(code).Inc()
	if !apperrors.IsBusiness(err) {
		s.logger.Error("Rollback failed",
			zap.String("suggestion_id", id.String()),
			zap.Error(err))
	}
	if s.auditor != nil {
		s.auditor.LogRollbackFailure(ctx, projectID, id, code, err.Error())
	}
}
