package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/database"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// RelationshipRepository provides data access for story relationships.
// Reads join endpoint entity names.
type RelationshipRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Relationship, error)
	// FindByEndpoints returns the relationship of the given type between two entities, or nil.
	FindByEndpoints(ctx context.Context, sourceID, targetID uuid.UUID, relType string) (*models.Relationship, error)
	// ListByEntity returns relationships touching an entity. limit <= 0 returns all.
	ListByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]models.Relationship, error)
	CountByEntity(ctx context.Context, entityID uuid.UUID) (int, error)
	// Create inserts rel. A preset rel.ID is kept.
	Create(ctx context.Context, rel *models.Relationship) error
	Update(ctx context.Context, rel *models.Relationship, expectedRevision int64) error
	Delete(ctx context.Context, id uuid.UUID, expectedRevision int64) error
	// DeleteByEntity removes every relationship touching an entity and returns how many were removed.
	DeleteByEntity(ctx context.Context, entityID uuid.UUID) (int, error)
}

type relationshipRepository struct{}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository() RelationshipRepository {
	return &relationshipRepository{}
}

var _ RelationshipRepository = (*relationshipRepository)(nil)

const relationshipSelect = `
	SELECT r.id, r.project_id, r.source_entity_id, r.target_entity_id, r.type, r.description,
	       r.revision, r.created_at, r.updated_at, s.name, t.name
	FROM story_relationships r
	JOIN story_entities s ON s.id = r.source_entity_id
	JOIN story_entities t ON t.id = r.target_entity_id`

func (r *relationshipRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Relationship, error) {
	return r.getOne(ctx, relationshipSelect+` WHERE r.id = $1`, id)
}

func (r *relationshipRepository) FindByEndpoints(ctx context.Context, sourceID, targetID uuid.UUID, relType string) (*models.Relationship, error) {
	return r.getOne(ctx, relationshipSelect+`
		WHERE r.source_entity_id = $1 AND r.target_entity_id = $2 AND lower(r.type) = lower($3)
		ORDER BY r.created_at
		LIMIT 1`, sourceID, targetID, relType)
}

func (r *relationshipRepository) ListByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]models.Relationship, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := relationshipSelect + `
		WHERE r.source_entity_id = $1 OR r.target_entity_id = $1
		ORDER BY r.created_at, r.id`
	args := []any{entityID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	var out []models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return out, nil
}

func (r *relationshipRepository) CountByEntity(ctx context.Context, entityID uuid.UUID) (int, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = q.QueryRow(ctx, `
		SELECT COUNT(*) FROM story_relationships
		WHERE source_entity_id = $1 OR target_entity_id = $1`, entityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count relationships: %w", err)
	}
	return count, nil
}

func (r *relationshipRepository) Create(ctx context.Context, rel *models.Relationship) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}

	err = q.QueryRow(ctx, `
		INSERT INTO story_relationships (id, project_id, source_entity_id, target_entity_id, type, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING revision, created_at, updated_at`,
		rel.ID, rel.ProjectID, rel.SourceEntityID, rel.TargetEntityID, rel.Type, rel.Description,
	).Scan(&rel.Revision, &rel.CreatedAt, &rel.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.Wrap(apperrors.ErrNotFound, err, "relationship endpoint no longer exists")
		}
		return fmt.Errorf("failed to create relationship: %w", err)
	}
	return nil
}

func (r *relationshipRepository) Update(ctx context.Context, rel *models.Relationship, expectedRevision int64) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		UPDATE story_relationships
		SET type = $3, description = $4, revision = revision + 1, updated_at = now()
		WHERE id = $1 AND revision = $2
		RETURNING revision, updated_at`,
		rel.ID, expectedRevision, rel.Type, rel.Description,
	).Scan(&rel.Revision, &rel.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.Conflict("relationship %s changed since revision %d", rel.ID, expectedRevision)
		}
		return fmt.Errorf("failed to update relationship: %w", err)
	}
	return nil
}

func (r *relationshipRepository) Delete(ctx context.Context, id uuid.UUID, expectedRevision int64) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `DELETE FROM story_relationships WHERE id = $1 AND revision = $2`, id, expectedRevision)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("relationship %s changed or was removed since revision %d", id, expectedRevision)
	}
	return nil
}

func (r *relationshipRepository) DeleteByEntity(ctx context.Context, entityID uuid.UUID) (int, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		DELETE FROM story_relationships
		WHERE source_entity_id = $1 OR target_entity_id = $1`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete relationships: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *relationshipRepository) getOne(ctx context.Context, query string, args ...any) (*models.Relationship, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	rel, err := scanRelationship(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rel, nil
}

func scanRelationship(row rowScanner) (*models.Relationship, error) {
	var rel models.Relationship
	err := row.Scan(&rel.ID, &rel.ProjectID, &rel.SourceEntityID, &rel.TargetEntityID, &rel.Type,
		&rel.Description, &rel.Revision, &rel.CreatedAt, &rel.UpdatedAt, &rel.SourceName, &rel.TargetName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}
	return &rel, nil
}
