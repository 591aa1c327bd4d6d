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

// MemoryRepository provides data access for long-term memories.
type MemoryRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Memory, error)
	Create(ctx context.Context, m *models.Memory) error
	// Update writes content and pinned if the stored revision is still expectedRevision.
	Update(ctx context.Context, m *models.Memory, expectedRevision int64) error
}

type memoryRepository struct{}

// NewMemoryRepository creates a new MemoryRepository.
func NewMemoryRepository() MemoryRepository {
	return &memoryRepository{}
}

var _ MemoryRepository = (*memoryRepository)(nil)

func (r *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Memory, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	var m models.Memory
	err = q.QueryRow(ctx, `
		SELECT id, project_id, content, pinned, source_suggestion_id, revision, created_at, updated_at
		FROM story_memories WHERE id = $1`, id,
	).Scan(&m.ID, &m.ProjectID, &m.Content, &m.Pinned, &m.SourceSuggestionID, &m.Revision, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return &m, nil
}

func (r *memoryRepository) Create(ctx context.Context, m *models.Memory) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	err = q.QueryRow(ctx, `
		INSERT INTO story_memories (id, project_id, content, pinned, source_suggestion_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING revision, created_at, updated_at`,
		m.ID, m.ProjectID, m.Content, m.Pinned, m.SourceSuggestionID,
	).Scan(&m.Revision, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create memory: %w", err)
	}
	return nil
}

func (r *memoryRepository) Update(ctx context.Context, m *models.Memory, expectedRevision int64) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		UPDATE story_memories
		SET content = $3, pinned = $4, source_suggestion_id = $5,
		    revision = revision + 1, updated_at = now()
		WHERE id = $1 AND revision = $2
		RETURNING revision, updated_at`,
		m.ID, expectedRevision, m.Content, m.Pinned, m.SourceSuggestionID,
	).Scan(&m.Revision, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.Conflict("memory %s changed since revision %d", m.ID, expectedRevision)
		}
		return fmt.Errorf("failed to update memory: %w", err)
	}
	return nil
}
