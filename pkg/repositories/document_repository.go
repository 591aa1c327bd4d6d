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

// DocumentRepository provides data access for documents.
type DocumentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	Create(ctx context.Context, d *models.Document) error
	// UpdateContent replaces the content if the stored revision is still expectedRevision.
	UpdateContent(ctx context.Context, d *models.Document, expectedRevision int64) error
}

type documentRepository struct{}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

var _ DocumentRepository = (*documentRepository)(nil)

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	var d models.Document
	err = q.QueryRow(ctx, `
		SELECT id, project_id, title, content, revision, created_at, updated_at
		FROM story_documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.ProjectID, &d.Title, &d.Content, &d.Revision, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &d, nil
}

func (r *documentRepository) Create(ctx context.Context, d *models.Document) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	err = q.QueryRow(ctx, `
		INSERT INTO story_documents (id, project_id, title, content)
		VALUES ($1, $2, $3, $4)
		RETURNING revision, created_at, updated_at`,
		d.ID, d.ProjectID, d.Title, d.Content,
	).Scan(&d.Revision, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *documentRepository) UpdateContent(ctx context.Context, d *models.Document, expectedRevision int64) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		UPDATE story_documents
		SET content = $3, revision = revision + 1, updated_at = now()
		WHERE id = $1 AND revision = $2
		RETURNING revision, updated_at`,
		d.ID, expectedRevision, d.Content,
	).Scan(&d.Revision, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.Conflict("document %q changed since revision %d", d.Title, expectedRevision)
		}
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}
