package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/preview"
	"github.com/ekaya-inc/ekaya-suggest/pkg/repositories"
)

// TargetStore is the backing store suggestions are validated against and applied to.
// Every write is guarded by the revision the caller observed.
type TargetStore interface {
	// Revision returns the version marker of a target, or nil if it does not exist.
	Revision(ctx context.Context, targetType models.TargetType, id uuid.UUID) (*models.TargetState, error)

	// Load returns the current record of a target, or nil if it does not exist.
	Load(ctx context.Context, targetType models.TargetType, id uuid.UUID) (*preview.Target, error)

	// ResolveEntity resolves a UUID or name reference: canonical name, then alias,
	// then (when fuzzy) the first search hit. Returns nil when nothing matches.
	ResolveEntity(ctx context.Context, projectID uuid.UUID, ref string, fuzzy bool) (*models.Entity, error)

	// FindRelationship resolves both endpoints of p and the relationship of p.Type between them.
	// Any of the results may be nil.
	FindRelationship(ctx context.Context, projectID uuid.UUID, p *models.RelationshipPatch, fuzzy bool) (rel *models.Relationship, source, target *models.Entity, err error)

	// EntityRelationships lists up to limit relationships touching an entity and the total count.
	EntityRelationships(ctx context.Context, entityID uuid.UUID, limit int) ([]models.Relationship, int, error)

	// Apply executes the mutation of s against the target preflight resolved,
	// provided it is still at the revision preflight observed.
	Apply(ctx context.Context, s *models.Suggestion, patch *models.Patch, pf *models.Preflight) (*models.ExecutionResult, error)

	// CheckRevert reports whether desc can still be inverted. It returns a NotFound or
	// Conflict error when the target was removed or modified after approval.
	CheckRevert(ctx context.Context, desc *models.RollbackDescriptor) error

	// Revert inverts desc and returns the number of relationships removed by a cascade.
	Revert(ctx context.Context, desc *models.RollbackDescriptor, cascade bool) (int, error)
}

type targetStore struct {
	entityRepo       repositories.EntityRepository
	relationshipRepo repositories.RelationshipRepository
	memoryRepo       repositories.MemoryRepository
	documentRepo     repositories.DocumentRepository
	logger           *zap.Logger
}

// TargetStoreDeps contains dependencies for TargetStore.
type TargetStoreDeps struct {
	EntityRepo       repositories.EntityRepository
	RelationshipRepo repositories.RelationshipRepository
	MemoryRepo       repositories.MemoryRepository
	DocumentRepo     repositories.DocumentRepository
	Logger           *zap.Logger
}

// NewTargetStore creates a TargetStore over the story repositories.
func NewTargetStore(deps *TargetStoreDeps) TargetStore {
	return &targetStore{
		entityRepo:       deps.EntityRepo,
		relationshipRepo: deps.RelationshipRepo,
		memoryRepo:       deps.MemoryRepo,
		documentRepo:     deps.DocumentRepo,
		logger:           deps.Logger.Named("target_store"),
	}
}

var _ TargetStore = (*targetStore)(nil)

func (t *targetStore) Revision(ctx context.Context, targetType models.TargetType, id uuid.UUID) (*models.TargetState, error) {
	target, err := t.Load(ctx, targetType, id)
	if err != nil || target == nil {
		return nil, err
	}

	state := &models.TargetState{Type: targetType, ID: id}
	switch {
	case target.Entity != nil:
		state.Name, state.Revision, state.UpdatedAt = target.Entity.Name, target.Entity.Revision, target.Entity.UpdatedAt
	case target.Relationship != nil:
		state.Name = fmt.Sprintf("%s → %s", target.SourceName, target.TargetName)
		state.Revision, state.UpdatedAt = target.Relationship.Revision, target.Relationship.UpdatedAt
	case target.Memory != nil:
		state.Revision, state.UpdatedAt = target.Memory.Revision, target.Memory.UpdatedAt
	case target.Document != nil:
		state.Name, state.Revision, state.UpdatedAt = target.Document.Title, target.Document.Revision, target.Document.UpdatedAt
	}
	return state, nil
}

func (t *targetStore) Load(ctx context.Context, targetType models.TargetType, id uuid.UUID) (*preview.Target, error) {
	switch targetType {
	case models.TargetEntity:
		e, err := t.entityRepo.GetByID(ctx, id)
		if err != nil || e == nil {
			return nil, err
		}
		return &preview.Target{Entity: e}, nil
	case models.TargetRelationship:
		r, err := t.relationshipRepo.GetByID(ctx, id)
		if err != nil || r == nil {
			return nil, err
		}
		return &preview.Target{Relationship: r, SourceName: r.SourceName, TargetName: r.TargetName}, nil
	case models.TargetMemory:
		m, err := t.memoryRepo.GetByID(ctx, id)
		if err != nil || m == nil {
			return nil, err
		}
		return &preview.Target{Memory: m}, nil
	case models.TargetDocument:
		d, err := t.documentRepo.GetByID(ctx, id)
		if err != nil || d == nil {
			return nil, err
		}
		return &preview.Target{Document: d}, nil
	default:
		return nil, apperrors.Validation("unknown target type %q", targetType)
	}
}

func (t *targetStore) ResolveEntity(ctx context.Context, projectID uuid.UUID, ref string, fuzzy bool) (*models.Entity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	if id, err := uuid.Parse(ref); err == nil {
		e, err := t.entityRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil || e.ProjectID != projectID {
			return nil, nil
		}
		return e, nil
	}

	e, err := t.entityRepo.GetByName(ctx, projectID, ref)
	if err != nil || e != nil {
		return e, err
	}

	e, err = t.entityRepo.GetByAlias(ctx, projectID, ref)
	if err != nil || e != nil {
		return e, err
	}

	if !fuzzy {
		return nil, nil
	}

	hits, err := t.entityRepo.Search(ctx, projectID, searchTerms(ref), 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	t.logger.Debug("Resolved entity reference by search",
		zap.String("ref", ref),
		zap.String("entity", hits[0].Name))
	return hits[0], nil
}

// searchTerms expands a reference into its singular and plural forms.
func searchTerms(ref string) []string {
	terms := []string{ref}
	for _, form := range []string{inflection.Singular(ref), inflection.Plural(ref)} {
		dup := false
		for _, existing := range terms {
			if strings.EqualFold(existing, form) {
				dup = true
				break
			}
		}
		if !dup {
			terms = append(terms, form)
		}
	}
	return terms
}

func (t *targetStore) FindRelationship(ctx context.Context, projectID uuid.UUID, p *models.RelationshipPatch, fuzzy bool) (*models.Relationship, *models.Entity, *models.Entity, error) {
	source, err := t.ResolveEntity(ctx, projectID, p.Source, fuzzy)
	if err != nil {
		return nil, nil, nil, err
	}
	target, err := t.ResolveEntity(ctx, projectID, p.Target, fuzzy)
	if err != nil {
		return nil, nil, nil, err
	}
	if source == nil || target == nil || p.Type == "" {
		return nil, source, target, nil
	}

	rel, err := t.relationshipRepo.FindByEndpoints(ctx, source.ID, target.ID, p.Type)
	if err != nil {
		return nil, nil, nil, err
	}
	return rel, source, target, nil
}

func (t *targetStore) EntityRelationships(ctx context.Context, entityID uuid.UUID, limit int) ([]models.Relationship, int, error) {
	count, err := t.relationshipRepo.CountByEntity(ctx, entityID)
	if err != nil {
		return nil, 0, err
	}
	if count == 0 {
		return nil, 0, nil
	}
	rels, err := t.relationshipRepo.ListByEntity(ctx, entityID, limit)
	if err != nil {
		return nil, 0, err
	}
	return rels, count, nil
}

func (t *targetStore) Apply(ctx context.Context, s *models.Suggestion, patch *models.Patch, pf *models.Preflight) (*models.ExecutionResult, error) {
	switch s.Operation {
	case models.OpEntityCreate:
		return t.createEntity(ctx, s, patch.Entity)
	case models.OpEntityUpdate:
		return t.updateEntity(ctx, patch.Entity, pf)
	case models.OpEntityDelete:
		return t.deleteEntity(ctx, pf)
	case models.OpRelationshipCreate:
		return t.createRelationship(ctx, s, patch.Relationship)
	case models.OpRelationshipUpdate:
		return t.updateRelationship(ctx, patch.Relationship, pf)
	case models.OpRelationshipDelete:
		return t.deleteRelationship(ctx, pf)
	case models.OpMemoryCommit:
		return t.commitMemory(ctx, s, patch.Memory, pf)
	case models.OpReplaceSelection, models.OpInsertAtCursor, models.OpAppendDocument:
		return t.writeDocument(ctx, s.Operation, patch.Document, pf)
	default:
		return nil, apperrors.Validation("unsupported operation %q", s.Operation)
	}
}

func (t *targetStore) createEntity(ctx context.Context, s *models.Suggestion, p *models.EntityPatch) (*models.ExecutionResult, error) {
	e := models.Entity{ProjectID: s.ProjectID}.WithFields(p.Set)
	if err := t.entityRepo.Create(ctx, &e); err != nil {
		return nil, err
	}
	return &models.ExecutionResult{
		TargetID: &e.ID,
		Revision: e.Revision,
		Summary:  fmt.Sprintf("created entity %q", e.Name),
		Rollback: &models.RollbackDescriptor{
			Kind:         models.OpEntityCreate,
			TargetID:     e.ID,
			PostRevision: e.Revision,
		},
	}, nil
}

func (t *targetStore) updateEntity(ctx context.Context, p *models.EntityPatch, pf *models.Preflight) (*models.ExecutionResult, error) {
	current, err := t.guardedEntity(ctx, pf)
	if err != nil {
		return nil, err
	}

	next := current.WithFields(p.Set)
	if err := t.entityRepo.Update(ctx, &next, current.Revision); err != nil {
		return nil, err
	}
	return &models.ExecutionResult{
		TargetID: &next.ID,
		Revision: next.Revision,
		Summary:  fmt.Sprintf("updated %s on entity %q", strings.Join(p.Set.Keys(), ", "), next.Name),
		Rollback: &models.RollbackDescriptor{
			Kind:         models.OpEntityUpdate,
			TargetID:     next.ID,
			PostRevision: next.Revision,
			PriorState:   models.PriorState{Entity: current},
		},
	}, nil
}

// deleteEntity removes the entity and its relationships explicitly so they can be restored.
func (t *targetStore) deleteEntity(ctx context.Context, pf *models.Preflight) (*models.ExecutionResult, error) {
	current, err := t.guardedEntity(ctx, pf)
	if err != nil {
		return nil, err
	}

	rels, err := t.relationshipRepo.ListByEntity(ctx, current.ID, 0)
	if err != nil {
		return nil, err
	}
	if len(rels) > 0 {
		if _, err := t.relationshipRepo.DeleteByEntity(ctx, current.ID); err != nil {
			return nil, err
		}
	}
	if err := t.entityRepo.Delete(ctx, current.ID, current.Revision); err != nil {
		return nil, err
	}

	return &models.ExecutionResult{
		TargetID: &current.ID,
		Revision: current.Revision,
		Summary:  fmt.Sprintf("deleted entity %q and %d relationship(s)", current.Name, len(rels)),
		Rollback: &models.RollbackDescriptor{
			Kind:         models.OpEntityDelete,
			TargetID:     current.ID,
			PostRevision: current.Revision,
			PriorState:   models.PriorState{Entity: current, Relationships: rels},
		},
	}, nil
}

func (t *targetStore) createRelationship(ctx context.Context, s *models.Suggestion, p *models.RelationshipPatch) (*models.ExecutionResult, error) {
	existing, source, target, err := t.FindRelationship(ctx, s.ProjectID, p, false)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, apperrors.NotFound("source entity %q not found", p.Source)
	}
	if target == nil {
		return nil, apperrors.NotFound("target entity %q not found", p.Target)
	}
	if existing != nil {
		return nil, apperrors.Conflict("relationship %q from %q to %q already exists", p.Type, source.Name, target.Name)
	}

	rel := models.Relationship{
		ProjectID:      s.ProjectID,
		SourceEntityID: source.ID,
		TargetEntityID: target.ID,
		Type:           p.Type,
	}.WithFields(models.RelationshipFields{Description: p.Set.Description})
	if err := t.relationshipRepo.Create(ctx, &rel); err != nil {
		return nil, err
	}

	return &models.ExecutionResult{
		TargetID: &rel.ID,
		Revision: rel.Revision,
		Summary:  fmt.Sprintf("created relationship %s → %s (%s)", source.Name, target.Name, rel.Type),
		Rollback: &models.RollbackDescriptor{
			Kind:         models.OpRelationshipCreate,
			TargetID:     rel.ID,
			PostRevision: rel.Revision,
		},
	}, nil
}

func (t *targetStore) updateRelationship(ctx context.Context, p *models.RelationshipPatch, pf *models.Preflight) (*models.ExecutionResult, error) {
	current, err := t.guardedRelationship(ctx, pf)
	if err != nil {
		return nil, err
	}

	next := current.WithFields(p.Set)
	if err := t.relationshipRepo.Update(ctx, &next, current.Revision); err != nil {
		return nil, err
	}
	return &models.ExecutionResult{
		TargetID: &next.ID,
		Revision: next.Revision,
		Summary:  fmt.Sprintf("updated relationship %s → %s", current.SourceName, current.TargetName),
		Rollback: &models.RollbackDescriptor{
			Kind:         models.OpRelationshipUpdate,
			TargetID:     next.ID,
			PostRevision: next.Revision,
			PriorState:   models.PriorState{Relationship: current},
		},
	}, nil
}

func (t *targetStore) deleteRelationship(ctx context.Context, pf *models.Preflight) (*models.ExecutionResult, error) {
	current, err := t.guardedRelationship(ctx, pf)
	if err != nil {
		return nil, err
	}

	if err := t.relationshipRepo.Delete(ctx, current.ID, current.Revision); err != nil {
		return nil, err
	}
	return &models.ExecutionResult{
		TargetID: &current.ID,
		Revision: current.Revision,
		Summary:  fmt.Sprintf("deleted relationship %s → %s (%s)", current.SourceName, current.TargetName, current.Type),
		Rollback: &models.RollbackDescriptor{
			Kind:         models.OpRelationshipDelete,
			TargetID:     current.ID,
			PostRevision: current.Revision,
			PriorState:   models.PriorState{Relationship: current},
		},
	}, nil
}

func (t *targetStore) commitMemory(ctx context.Context, s *models.Suggestion, p *models.MemoryPatch, pf *models.Preflight) (*models.ExecutionResult, error) {
	if p.MemoryID == nil {
		m := models.Memory{
			ProjectID:          s.ProjectID,
			Content:            p.Content,
			Pinned:             true,
			SourceSuggestionID: &s.ID,
		}
		if err := t.memoryRepo.Create(ctx, &m); err != nil {
			return nil, err
		}
		return &models.ExecutionResult{
			TargetID: &m.ID,
			Revision: m.Revision,
			Summary:  "committed a new pinned memory",
			Rollback: &models.RollbackDescriptor{
				Kind:         models.OpMemoryCommit,
				TargetID:     m.ID,
				PostRevision: m.Revision,
			},
		}, nil
	}

	current, err := t.memoryRepo.GetByID(ctx, *p.MemoryID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperrors.NotFound("memory %s not found", *p.MemoryID)
	}
	if err := checkGuard(pf, current.Revision, "memory"); err != nil {
		return nil, err
	}

	next := *current
	if p.Content != "" {
		next.Content = p.Content
	}
	next.Pinned = true
	next.SourceSuggestionID = &s.ID
	if err := t.memoryRepo.Update(ctx, &next, current.Revision); err != nil {
		return nil, err
	}
	return &models.ExecutionResult{
		TargetID: &next.ID,
		Revision: next.Revision,
		Summary:  "committed and pinned an existing memory",
		Rollback: &models.RollbackDescriptor{
			Kind:         models.OpMemoryCommit,
			TargetID:     next.ID,
			PostRevision: next.Revision,
			PriorState:   models.PriorState{Memory: current},
		},
	}, nil
}

func (t *targetStore) writeDocument(ctx context.Context, op models.Operation, p *models.DocumentPatch, pf *models.Preflight) (*models.ExecutionResult, error) {
	if pf.ResolvedTargetID == nil {
		return nil, apperrors.Validation("document target is not resolved")
	}
	current, err := t.documentRepo.GetByID(ctx, *pf.ResolvedTargetID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperrors.NotFound("document %s not found", *pf.ResolvedTargetID)
	}
	if err := checkGuard(pf, current.Revision, "document"); err != nil {
		return nil, err
	}

	text, anchored, _ := preview.ApplyDocumentPatch(op, current.Content, p)
	if op == models.OpReplaceSelection && !anchored {
		return nil, apperrors.Validation("selection text not found in document %q", current.Title)
	}

	prior := current.Content
	next := *current
	next.Content = text
	if err := t.documentRepo.UpdateContent(ctx, &next, current.Revision); err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("applied %s to %q", op, current.Title)
	if op == models.OpInsertAtCursor && !anchored {
		summary = fmt.Sprintf("appended content to %q (cursor position unknown)", current.Title)
	}
	return &models.ExecutionResult{
		TargetID: &next.ID,
		Revision: next.Revision,
		Summary:  summary,
		Rollback: &models.RollbackDescriptor{
			Kind:         op,
			TargetID:     next.ID,
			PostRevision: next.Revision,
			PriorState:   models.PriorState{Document: &prior},
		},
	}, nil
}

func (t *targetStore) guardedEntity(ctx context.Context, pf *models.Preflight) (*models.Entity, error) {
	if pf.ResolvedTargetID == nil {
		return nil, apperrors.Validation("entity target is not resolved")
	}
	e, err := t.entityRepo.GetByID(ctx, *pf.ResolvedTargetID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperrors.NotFound("entity %s not found", *pf.ResolvedTargetID)
	}
	if err := checkGuard(pf, e.Revision, "entity"); err != nil {
		return nil, err
	}
	return e, nil
}

func (t *targetStore) guardedRelationship(ctx context.Context, pf *models.Preflight) (*models.Relationship, error) {
	if pf.ResolvedTargetID == nil {
		return nil, apperrors.Validation("relationship target is not resolved")
	}
	r, err := t.relationshipRepo.GetByID(ctx, *pf.ResolvedTargetID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, apperrors.NotFound("relationship %s not found", *pf.ResolvedTargetID)
	}
	if err := checkGuard(pf, r.Revision, "relationship"); err != nil {
		return nil, err
	}
	return r, nil
}

// checkGuard fails when the target moved past the revision preflight observed.
func checkGuard(pf *models.Preflight, current int64, what string) error {
	if pf.TargetRevision != nil && *pf.TargetRevision != current {
		return apperrors.Conflict("%s changed after validation (revision %d, now %d)", what, *pf.TargetRevision, current)
	}
	return nil
}

func (t *targetStore) CheckRevert(ctx context.Context, desc *models.RollbackDescriptor) error {
	switch desc.Kind {
	case models.OpEntityCreate, models.OpEntityUpdate:
		_, err := t.revertableEntity(ctx, desc)
		return err
	case models.OpEntityDelete:
		return t.checkEntityRestore(ctx, desc)
	case models.OpRelationshipCreate, models.OpRelationshipUpdate:
		_, err := t.revertableRelationship(ctx, desc)
		return err
	case models.OpRelationshipDelete:
		return t.checkRelationshipRestore(ctx, desc)
	case models.OpMemoryCommit:
		_, err := t.revertableMemory(ctx, desc)
		return err
	case models.OpReplaceSelection, models.OpInsertAtCursor, models.OpAppendDocument:
		_, err := t.revertableDocument(ctx, desc)
		return err
	default:
		return apperrors.InvalidState("operation %q cannot be rolled back", desc.Kind)
	}
}

func (t *targetStore) Revert(ctx context.Context, desc *models.RollbackDescriptor, cascade bool) (int, error) {
	switch desc.Kind {
	case models.OpEntityCreate:
		e, err := t.revertableEntity(ctx, desc)
		if err != nil {
			return 0, err
		}
		count, err := t.relationshipRepo.CountByEntity(ctx, e.ID)
		if err != nil {
			return 0, err
		}
		if count > 0 && !cascade {
			return 0, apperrors.New(apperrors.ErrCascadeRequired,
				"entity %q is referenced by %d relationship(s); roll back with cascade to remove them", e.Name, count)
		}
		removed := 0
		if count > 0 {
			if removed, err = t.relationshipRepo.DeleteByEntity(ctx, e.ID); err != nil {
				return 0, err
			}
		}
		return removed, t.entityRepo.Delete(ctx, e.ID, e.Revision)

	case models.OpEntityUpdate:
		e, err := t.revertableEntity(ctx, desc)
		if err != nil {
			return 0, err
		}
		prior := desc.PriorState.Entity
		restored := *e
		restored.Name, restored.Kind, restored.Description, restored.Notes = prior.Name, prior.Kind, prior.Description, prior.Notes
		restored.Aliases = append([]string(nil), prior.Aliases...)
		return 0, t.entityRepo.Update(ctx, &restored, e.Revision)

	case models.OpEntityDelete:
		if err := t.checkEntityRestore(ctx, desc); err != nil {
			return 0, err
		}
		restored := *desc.PriorState.Entity
		if err := t.entityRepo.Create(ctx, &restored); err != nil {
			return 0, err
		}
		for _, rel := range desc.PriorState.Relationships {
			if err := t.relationshipRepo.Create(ctx, &rel); err != nil {
				return 0, err
			}
		}
		return 0, nil

	case models.OpRelationshipCreate:
		r, err := t.revertableRelationship(ctx, desc)
		if err != nil {
			return 0, err
		}
		return 0, t.relationshipRepo.Delete(ctx, r.ID, r.Revision)

	case models.OpRelationshipUpdate:
		r, err := t.revertableRelationship(ctx, desc)
		if err != nil {
			return 0, err
		}
		prior := desc.PriorState.Relationship
		restored := *r
		restored.Type, restored.Description = prior.Type, prior.Description
		return 0, t.relationshipRepo.Update(ctx, &restored, r.Revision)

	case models.OpRelationshipDelete:
		if err := t.checkRelationshipRestore(ctx, desc); err != nil {
			return 0, err
		}
		restored := *desc.PriorState.Relationship
		return 0, t.relationshipRepo.Create(ctx, &restored)

	case models.OpMemoryCommit:
		m, err := t.revertableMemory(ctx, desc)
		if err != nil {
			return 0, err
		}
		restored := *m
		if prior := desc.PriorState.Memory; prior != nil {
			restored.Content, restored.Pinned, restored.SourceSuggestionID = prior.Content, prior.Pinned, prior.SourceSuggestionID
		} else {
			restored.Pinned = false
		}
		return 0, t.memoryRepo.Update(ctx, &restored, m.Revision)

	case models.OpReplaceSelection, models.OpInsertAtCursor, models.OpAppendDocument:
		d, err := t.revertableDocument(ctx, desc)
		if err != nil {
			return 0, err
		}
		restored := *d
		restored.Content = *desc.PriorState.Document
		return 0, t.documentRepo.UpdateContent(ctx, &restored, d.Revision)

	default:
		return 0, apperrors.InvalidState("operation %q cannot be rolled back", desc.Kind)
	}
}

func (t *targetStore) revertableEntity(ctx context.Context, desc *models.RollbackDescriptor) (*models.Entity, error) {
	if desc.Kind == models.OpEntityUpdate && desc.PriorState.Entity == nil {
		return nil, apperrors.InvalidState("rollback snapshot is missing the prior entity")
	}
	e, err := t.entityRepo.GetByID(ctx, desc.TargetID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperrors.NotFound("entity %s no longer exists", desc.TargetID)
	}
	if e.Revision != desc.PostRevision {
		return nil, apperrors.Conflict("entity %q was modified since the suggestion was approved", e.Name)
	}
	return e, nil
}

func (t *targetStore) checkEntityRestore(ctx context.Context, desc *models.RollbackDescriptor) error {
	prior := desc.PriorState.Entity
	if prior == nil {
		return apperrors.InvalidState("rollback snapshot is missing the deleted entity")
	}
	existing, err := t.entityRepo.GetByID(ctx, desc.TargetID)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.Conflict("entity %q already exists again", existing.Name)
	}
	if clash, err := t.entityRepo.GetByName(ctx, prior.ProjectID, prior.Name); err != nil {
		return err
	} else if clash != nil {
		return apperrors.Conflict("an entity named %q was created since the suggestion was approved", prior.Name)
	}
	for _, rel := range desc.PriorState.Relationships {
		other := rel.SourceEntityID
		if other == desc.TargetID {
			other = rel.TargetEntityID
		}
		if other == desc.TargetID {
			continue
		}
		e, err := t.entityRepo.GetByID(ctx, other)
		if err != nil {
			return err
		}
		if e == nil {
			return apperrors.NotFound("cannot restore relationship %q: entity %s no longer exists", rel.Type, other)
		}
	}
	return nil
}

func (t *targetStore) revertableRelationship(ctx context.Context, desc *models.RollbackDescriptor) (*models.Relationship, error) {
	if desc.Kind == models.OpRelationshipUpdate && desc.PriorState.Relationship == nil {
		return nil, apperrors.InvalidState("rollback snapshot is missing the prior relationship")
	}
	r, err := t.relationshipRepo.GetByID(ctx, desc.TargetID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, apperrors.NotFound("relationship %s no longer exists", desc.TargetID)
	}
	if r.Revision != desc.PostRevision {
		return nil, apperrors.Conflict("relationship %s → %s was modified since the suggestion was approved", r.SourceName, r.TargetName)
	}
	return r, nil
}

func (t *targetStore) checkRelationshipRestore(ctx context.Context, desc *models.RollbackDescriptor) error {
	prior := desc.PriorState.Relationship
	if prior == nil {
		return apperrors.InvalidState("rollback snapshot is missing the deleted relationship")
	}
	existing, err := t.relationshipRepo.GetByID(ctx, desc.TargetID)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.Conflict("relationship %s already exists again", desc.TargetID)
	}
	for _, id := range []uuid.UUID{prior.SourceEntityID, prior.TargetEntityID} {
		e, err := t.entityRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			return apperrors.NotFound("cannot restore relationship: entity %s no longer exists", id)
		}
	}
	return nil
}

func (t *targetStore) revertableMemory(ctx context.Context, desc *models.RollbackDescriptor) (*models.Memory, error) {
	m, err := t.memoryRepo.GetByID(ctx, desc.TargetID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.NotFound("memory %s no longer exists", desc.TargetID)
	}
	if m.Revision != desc.PostRevision {
		return nil, apperrors.Conflict("memory was modified since the suggestion was approved")
	}
	return m, nil
}

func (t *targetStore) revertableDocument(ctx context.Context, desc *models.RollbackDescriptor) (*models.Document, error) {
	if desc.PriorState.Document == nil {
		return nil, apperrors.InvalidState("rollback snapshot is missing the prior document content")
	}
	d, err := t.documentRepo.GetByID(ctx, desc.TargetID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apperrors.NotFound("document %s no longer exists", desc.TargetID)
	}
	if d.Revision != desc.PostRevision {
		return nil, apperrors.Conflict("document %q was modified since the suggestion was approved", d.Title)
	}
	return d, nil
}
