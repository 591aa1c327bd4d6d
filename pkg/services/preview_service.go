package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/preview"
	"github.com/ekaya-inc/ekaya-suggest/pkg/repositories"
)

// PreviewService renders suggestions for review. It never writes.
type PreviewService interface {
	// Preview computes the before/after view of a suggestion against the current target.
	// Name references are resolved leniently so reviewers see the closest match.
	Preview(ctx context.Context, projectID, id uuid.UUID) (*models.Preview, error)
}

type previewService struct {
	suggestionRepo repositories.SuggestionRepository
	store          TargetStore
	opts           preview.Options
	logger         *zap.Logger
}

// PreviewServiceDeps contains dependencies for PreviewService.
type PreviewServiceDeps struct {
	SuggestionRepo repositories.SuggestionRepository
	Store          TargetStore
	// Options bounds text excerpts; zero values fall back to preview.DefaultOptions.
	Options preview.Options
	Logger  *zap.Logger
}

// NewPreviewService creates a new PreviewService.
func NewPreviewService(deps *PreviewServiceDeps) PreviewService {
	opts := deps.Options
	def := preview.DefaultOptions()
	if opts.ContextChars <= 0 {
		opts.ContextChars = def.ContextChars
	}
	if opts.TailChars <= 0 {
		opts.TailChars = def.TailChars
	}
	return &previewService{
		suggestionRepo: deps.SuggestionRepo,
		store:          deps.Store,
		opts:           opts,
		logger:         deps.Logger.Named("preview"),
	}
}

var _ PreviewService = (*previewService)(nil)

func (s *previewService) Preview(ctx context.Context, projectID, id uuid.UUID) (*models.Preview, error) {
	sug, err := loadSuggestion(ctx, s.suggestionRepo, projectID, id)
	if err != nil {
		return nil, err
	}
	patch, err := suggestionPatch(sug)
	if err != nil {
		return nil, err
	}

	target, err := s.resolve(ctx, sug, patch)
	if err != nil {
		return nil, err
	}
	return preview.Build(sug, patch, target, s.opts), nil
}

// resolve loads the record the preview diffs against. A missing record yields an empty target.
func (s *previewService) resolve(ctx context.Context, sug *models.Suggestion, patch *models.Patch) (preview.Target, error) {
	switch {
	case patch.Entity != nil:
		if sug.Operation == models.OpEntityCreate {
			return preview.Target{}, nil
		}
		if sug.TargetID != nil {
			return s.load(ctx, sug, *sug.TargetID)
		}
		e, err := s.store.ResolveEntity(ctx, sug.ProjectID, patch.Entity.Entity, true)
		if err != nil || e == nil {
			return preview.Target{}, err
		}
		return preview.Target{Entity: e}, nil

	case patch.Relationship != nil:
		if sug.TargetID != nil && sug.Operation != models.OpRelationshipCreate {
			t, err := s.load(ctx, sug, *sug.TargetID)
			if err != nil || t.Relationship != nil {
				return t, err
			}
		}
		rel, source, target, err := s.store.FindRelationship(ctx, sug.ProjectID, patch.Relationship, true)
		if err != nil {
			return preview.Target{}, err
		}
		t := preview.Target{SourceName: patch.Relationship.Source, TargetName: patch.Relationship.Target}
		if source != nil {
			t.SourceName = source.Name
		}
		if target != nil {
			t.TargetName = target.Name
		}
		if sug.Operation != models.OpRelationshipCreate {
			t.Relationship = rel
		}
		return t, nil

	case patch.Memory != nil:
		if patch.Memory.MemoryID == nil {
			return preview.Target{}, nil
		}
		return s.load(ctx, sug, *patch.Memory.MemoryID)

	default:
		if sug.TargetID == nil {
			return preview.Target{}, nil
		}
		return s.load(ctx, sug, *sug.TargetID)
	}
}

func (s *previewService) load(ctx context.Context, sug *models.Suggestion, id uuid.UUID) (preview.Target, error) {
	t, err := s.store.Load(ctx, sug.TargetType, id)
	if err != nil {
		return preview.Target{}, err
	}
	if t == nil || !sameProject(t, sug.ProjectID) {
		s.logger.Debug("Preview target not found",
			zap.String("suggestion_id", sug.ID.String()),
			zap.String("target_id", id.String()))
		return preview.Target{}, nil
	}
	return *t, nil
}

func sameProject(t *preview.Target, projectID uuid.UUID) bool {
	switch {
	case t.Entity != nil:
		return t.Entity.ProjectID == projectID
	case t.Relationship != nil:
		return t.Relationship.ProjectID == projectID
	case t.Memory != nil:
		return t.Memory.ProjectID == projectID
	case t.Document != nil:
		return t.Document.ProjectID == projectID
	}
	return false
}
