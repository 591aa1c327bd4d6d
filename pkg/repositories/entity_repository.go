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

// EntityRepository provides data access for story entities.
// Writes are guarded by the caller's expected revision.
type EntityRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// GetByName matches the canonical name case-insensitively.
	GetByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Entity, error)
	// GetByAlias returns the first entity (by name) carrying alias, case-insensitively.
	GetByAlias(ctx context.Context, projectID uuid.UUID, alias string) (*models.Entity, error)
	// Search returns entities whose name or aliases contain any of terms.
	Search(ctx context.Context, projectID uuid.UUID, terms []string, limit int) ([]*models.Entity, error)
	// Create inserts e. A preset e.ID is kept (used when a rollback restores a deleted entity).
	Create(ctx context.Context, e *models.Entity) error
	// Update writes e if its stored revision is still expectedRevision.
	Update(ctx context.Context, e *models.Entity, expectedRevision int64) error
	// Delete removes the entity if its stored revision is still expectedRevision.
	Delete(ctx context.Context, id uuid.UUID, expectedRevision int64) error
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `id, project_id, name, kind, description, notes, aliases, revision, created_at, updated_at`

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return r.getOne(ctx, `SELECT `+entityColumns+` FROM story_entities WHERE id = $1`, id)
}

func (r *entityRepository) GetByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Entity, error) {
	return r.getOne(ctx,
		`SELECT `+entityColumns+` FROM story_entities WHERE project_id = $1 AND lower(name) = lower($2)`,
		projectID, name)
}

func (r *entityRepository) GetByAlias(ctx context.Context, projectID uuid.UUID, alias string) (*models.Entity, error) {
	return r.getOne(ctx, `
		SELECT `+entityColumns+`
		FROM story_entities
		WHERE project_id = $1
		  AND EXISTS (SELECT 1 FROM unnest(aliases) a WHERE lower(a) = lower($2))
		ORDER BY name
		LIMIT 1`, projectID, alias)
}

func (r *entityRepository) Search(ctx context.Context, projectID uuid.UUID, terms []string, limit int) ([]*models.Entity, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + escapeLike(t) + "%"
	}

	rows, err := q.Query(ctx, `
		SELECT `+entityColumns+`
		FROM story_entities
		WHERE project_id = $1
		  AND (name ILIKE ANY($2)
		       OR EXISTS (SELECT 1 FROM unnest(aliases) a WHERE a ILIKE ANY($2)))
		ORDER BY length(name), name
		LIMIT $3`, projectID, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return out, nil
}

func (r *entityRepository) Create(ctx context.Context, e *models.Entity) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Aliases == nil {
		e.Aliases = []string{}
	}

	err = q.QueryRow(ctx, `
		INSERT INTO story_entities (id, project_id, name, kind, description, notes, aliases)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING revision, created_at, updated_at`,
		e.ID, e.ProjectID, e.Name, e.Kind, e.Description, e.Notes, e.Aliases,
	).Scan(&e.Revision, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Wrap(apperrors.ErrConflict, err, "an entity named %q already exists", e.Name)
		}
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

func (r *entityRepository) Update(ctx context.Context, e *models.Entity, expectedRevision int64) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	if e.Aliases == nil {
		e.Aliases = []string{}
	}

	err = q.QueryRow(ctx, `
		UPDATE story_entities
		SET name = $3, kind = $4, description = $5, notes = $6, aliases = $7,
		    revision = revision + 1, updated_at = now()
		WHERE id = $1 AND revision = $2
		RETURNING revision, updated_at`,
		e.ID, expectedRevision, e.Name, e.Kind, e.Description, e.Notes, e.Aliases,
	).Scan(&e.Revision, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.Conflict("entity %q changed since revision %d", e.Name, expectedRevision)
		}
		if isUniqueViolation(err) {
			return apperrors.Wrap(apperrors.ErrConflict, err, "an entity named %q already exists", e.Name)
		}
		return fmt.Errorf("failed to update entity: %w", err)
	}
	return nil
}

func (r *entityRepository) Delete(ctx context.Context, id uuid.UUID, expectedRevision int64) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `DELETE FROM story_entities WHERE id = $1 AND revision = $2`, id, expectedRevision)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.Wrap(apperrors.ErrCascadeRequired, err, "entity is still referenced by relationships")
		}
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("entity %s changed or was removed since revision %d", id, expectedRevision)
	}
	return nil
}

func (r *entityRepository) getOne(ctx context.Context, query string, args ...any) (*models.Entity, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	e, err := scanEntity(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Kind, &e.Description, &e.Notes,
		&e.Aliases, &e.Revision, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	return &e, nil
}

// escapeLike escapes LIKE wildcards so search terms match literally.
func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
