package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/preview"
)

// PreflightValidator recomputes whether a suggestion can still be applied to the
// current state of its target. It only reads.
type PreflightValidator interface {
	// Validate returns ok, invalid (permanent) or conflict (the target moved past the
	// suggestion's base revision). Only infrastructure failures are returned as errors.
	Validate(ctx context.Context, s *models.Suggestion) (*models.Preflight, error)
}

type preflightValidator struct {
	store TargetStore
	now   func() time.Time
}

// NewPreflightValidator creates a PreflightValidator reading from store.
func NewPreflightValidator(store TargetStore) PreflightValidator {
	return &preflightValidator{store: store, now: time.Now}
}

var _ PreflightValidator = (*preflightValidator)(nil)

// preflightCheck accumulates findings. invalid outranks conflict, which outranks ok.
type preflightCheck struct {
	pf *models.Preflight
}

func (c *preflightCheck) fail(status models.PreflightStatus, format string, args ...any) {
	c.pf.Errors = append(c.pf.Errors, fmt.Sprintf(format, args...))
	if c.pf.Status != models.PreflightInvalid {
		c.pf.Status = status
	}
}

func (c *preflightCheck) warn(format string, args ...any) {
	c.pf.Warnings = append(c.pf.Warnings, fmt.Sprintf(format, args...))
}

func (c *preflightCheck) observe(id uuid.UUID, revision int64, updatedAt time.Time) {
	c.pf.ResolvedTargetID = &id
	c.pf.TargetRevision = &revision
	c.pf.TargetUpdatedAt = &updatedAt
}

// compare reports a conflict when the observed revision differs from the baseline.
func (c *preflightCheck) compare(base *int64, what string) {
	if base == nil || c.pf.TargetRevision == nil || *base == *c.pf.TargetRevision {
		return
	}
	c.fail(models.PreflightConflict, "%s changed since it was proposed (revision %d, now %d)",
		what, *base, *c.pf.TargetRevision)
}

func (v *preflightValidator) Validate(ctx context.Context, s *models.Suggestion) (*models.Preflight, error) {
	// Stamped before any read so a concurrent write always looks newer than the result.
	c := &preflightCheck{pf: &models.Preflight{
		Status:     models.PreflightOK,
		Errors:     []string{},
		Warnings:   []string{},
		ComputedAt: v.now().UTC(),
	}}

	patch, err := suggestionPatch(s)
	if err != nil {
		if apperrors.IsBusiness(err) {
			c.fail(models.PreflightInvalid, "%s", err.Error())
			return c.pf, nil
		}
		return nil, err
	}

	switch {
	case patch.Entity != nil:
		err = v.checkEntity(ctx, c, s, patch.Entity)
	case patch.Relationship != nil:
		err = v.checkRelationship(ctx, c, s, patch.Relationship)
	case patch.Memory != nil:
		err = v.checkMemory(ctx, c, s, patch.Memory)
	case patch.Document != nil:
		err = v.checkDocument(ctx, c, s, patch.Document)
	}
	if err != nil {
		return nil, err
	}
	return c.pf, nil
}

func (v *preflightValidator) checkEntity(ctx context.Context, c *preflightCheck, s *models.Suggestion, p *models.EntityPatch) error {
	if s.Operation == models.OpEntityCreate {
		name := *p.Set.Name
		existing, err := v.store.ResolveEntity(ctx, s.ProjectID, name, false)
		if err != nil {
			return err
		}
		if existing != nil {
			if strings.EqualFold(existing.Name, name) {
				c.fail(models.PreflightInvalid, "an entity named %q already exists", existing.Name)
			} else {
				c.warn("%q is already an alias of %q", name, existing.Name)
			}
		}
		return nil
	}

	e, err := v.entityTarget(ctx, s, p)
	if err != nil {
		return err
	}
	if e == nil {
		switch {
		case s.TargetID != nil:
			c.fail(models.PreflightInvalid, "entity %s no longer exists", *s.TargetID)
		case p.Entity == "":
			c.fail(models.PreflightInvalid, "an entity reference or target_id is required")
		default:
			c.fail(models.PreflightInvalid, "entity %q could not be resolved", p.Entity)
		}
		return nil
	}

	c.observe(e.ID, e.Revision, e.UpdatedAt)
	if s.TargetID != nil && p.Entity != "" && p.Entity != e.ID.String() && !e.MatchesRef(p.Entity) {
		c.fail(models.PreflightInvalid, "entity is no longer named %q (now %q)", p.Entity, e.Name)
	}
	c.compare(s.BaseRevision, fmt.Sprintf("entity %q", e.Name))

	switch s.Operation {
	case models.OpEntityUpdate:
		if p.Set.Name != nil && !strings.EqualFold(*p.Set.Name, e.Name) {
			other, err := v.store.ResolveEntity(ctx, s.ProjectID, *p.Set.Name, false)
			if err != nil {
				return err
			}
			if other != nil && other.ID != e.ID && strings.EqualFold(other.Name, *p.Set.Name) {
				c.fail(models.PreflightInvalid, "an entity named %q already exists", other.Name)
			}
		}
	case models.OpEntityDelete:
		_, count, err := v.store.EntityRelationships(ctx, e.ID, 1)
		if err != nil {
			return err
		}
		if count > 0 {
			c.warn("deleting %q also removes %d relationship(s)", e.Name, count)
		}
	}
	return nil
}

func (v *preflightValidator) entityTarget(ctx context.Context, s *models.Suggestion, p *models.EntityPatch) (*models.Entity, error) {
	if s.TargetID == nil {
		return v.store.ResolveEntity(ctx, s.ProjectID, p.Entity, false)
	}
	t, err := v.store.Load(ctx, models.TargetEntity, *s.TargetID)
	if err != nil || t == nil || t.Entity.ProjectID != s.ProjectID {
		return nil, err
	}
	return t.Entity, nil
}

func (v *preflightValidator) checkRelationship(ctx context.Context, c *preflightCheck, s *models.Suggestion, p *models.RelationshipPatch) error {
	if s.Operation == models.OpRelationshipCreate {
		existing, source, target, err := v.store.FindRelationship(ctx, s.ProjectID, p, false)
		if err != nil {
			return err
		}
		if source == nil {
			c.fail(models.PreflightInvalid, "source entity %q could not be resolved", p.Source)
		}
		if target == nil {
			c.fail(models.PreflightInvalid, "target entity %q could not be resolved", p.Target)
		}
		if existing != nil {
			c.fail(models.PreflightInvalid, "relationship %q from %q to %q already exists", p.Type, source.Name, target.Name)
		}
		return nil
	}

	var rel *models.Relationship
	if s.TargetID != nil {
		t, err := v.store.Load(ctx, models.TargetRelationship, *s.TargetID)
		if err != nil {
			return err
		}
		if t != nil && t.Relationship.ProjectID == s.ProjectID {
			rel = t.Relationship
		}
	} else {
		found, _, _, err := v.store.FindRelationship(ctx, s.ProjectID, p, false)
		if err != nil {
			return err
		}
		rel = found
	}
	if rel == nil {
		if s.TargetID != nil {
			c.fail(models.PreflightInvalid, "relationship %s no longer exists", *s.TargetID)
		} else {
			c.fail(models.PreflightInvalid, "relationship %q from %q to %q could not be resolved", p.Type, p.Source, p.Target)
		}
		return nil
	}

	c.observe(rel.ID, rel.Revision, rel.UpdatedAt)
	if s.TargetID != nil {
		if err := v.checkEndpoint(ctx, c, s.ProjectID, "source", p.Source, rel.SourceEntityID); err != nil {
			return err
		}
		if err := v.checkEndpoint(ctx, c, s.ProjectID, "target", p.Target, rel.TargetEntityID); err != nil {
			return err
		}
		if p.Type != "" && !strings.EqualFold(p.Type, rel.Type) {
			c.fail(models.PreflightInvalid, "relationship type is no longer %q (now %q)", p.Type, rel.Type)
		}
	}
	c.compare(s.BaseRevision, fmt.Sprintf("relationship %s → %s", rel.SourceName, rel.TargetName))
	return nil
}

// checkEndpoint verifies that ref still names the entity at one end of a relationship.
func (v *preflightValidator) checkEndpoint(ctx context.Context, c *preflightCheck, projectID uuid.UUID, side, ref string, entityID uuid.UUID) error {
	if ref == "" {
		return nil
	}
	e, err := v.store.ResolveEntity(ctx, projectID, ref, false)
	if err != nil {
		return err
	}
	if e == nil || e.ID != entityID {
		c.fail(models.PreflightInvalid, "relationship %s is no longer %q", side, ref)
	}
	return nil
}

func (v *preflightValidator) checkMemory(ctx context.Context, c *preflightCheck, s *models.Suggestion, p *models.MemoryPatch) error {
	if p.MemoryID == nil {
		return nil
	}

	t, err := v.store.Load(ctx, models.TargetMemory, *p.MemoryID)
	if err != nil {
		return err
	}
	if t == nil || t.Memory.ProjectID != s.ProjectID {
		c.fail(models.PreflightInvalid, "memory %s not found", *p.MemoryID)
		return nil
	}

	m := t.Memory
	c.observe(m.ID, m.Revision, m.UpdatedAt)
	c.compare(s.BaseRevision, "memory")
	if m.Pinned && (p.Content == "" || p.Content == m.Content) {
		c.warn("memory is already pinned")
	}
	return nil
}

func (v *preflightValidator) checkDocument(ctx context.Context, c *preflightCheck, s *models.Suggestion, p *models.DocumentPatch) error {
	if s.TargetID == nil {
		c.fail(models.PreflightInvalid, "document target_id is required")
		return nil
	}

	t, err := v.store.Load(ctx, models.TargetDocument, *s.TargetID)
	if err != nil {
		return err
	}
	if t == nil || t.Document.ProjectID != s.ProjectID {
		c.fail(models.PreflightInvalid, "document %s not found", *s.TargetID)
		return nil
	}

	d := t.Document
	c.observe(d.ID, d.Revision, d.UpdatedAt)
	c.compare(s.BaseRevision, fmt.Sprintf("document %q", d.Title))

	switch s.Operation {
	case models.OpReplaceSelection:
		switch n := strings.Count(d.Content, p.SelectionText); {
		case n == 0:
			c.fail(models.PreflightInvalid, "selection text not found in the current document")
		case n > 1:
			c.warn("selection text occurs %d times; the first occurrence will be replaced", n)
		}
	case models.OpInsertAtCursor:
		if preview.CursorOffset(d.Content, p.CursorContext) < 0 {
			c.warn("cursor position unknown; content will be appended to the end of the document")
		}
	}
	return nil
}
