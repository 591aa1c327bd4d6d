package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-suggest/pkg/database"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// SuggestionRepository provides data access for suggestions.
// Every status-changing method is a compare-and-set: it reports false when the
// row was no longer in the expected state.
type SuggestionRepository interface {
	// Create inserts a suggestion unless one with the same tool call ID exists.
	// Returns false (and fills s from the existing row) on a duplicate.
	Create(ctx context.Context, s *models.Suggestion) (bool, error)

	// GetByID returns a suggestion, or nil if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Suggestion, error)

	// GetByToolCallID returns the suggestion created for a tool call, or nil.
	GetByToolCallID(ctx context.Context, projectID uuid.UUID, toolCallID string) (*models.Suggestion, error)

	// List returns up to filter.Limit suggestions ordered by (created_at, id) descending,
	// starting after filter.After.
	List(ctx context.Context, projectID uuid.UUID, filter models.SuggestionFilter) ([]*models.Suggestion, error)

	// ListByTarget returns suggestions that targeted a record, newest first.
	ListByTarget(ctx context.Context, projectID, targetID uuid.UUID, limit int) ([]*models.Suggestion, error)

	// CountByStatus returns counts grouped by status.
	CountByStatus(ctx context.Context, projectID uuid.UUID) (models.StatusCounts, error)

	// RecordPreflight stores a preflight result. A non-nil baseRevision replaces the stored baseline.
	// A resolved target ID is recorded only if none was set.
	RecordPreflight(ctx context.Context, id uuid.UUID, preflight *models.Preflight, baseRevision *int64) error

	// Transition moves a still-unresolved suggestion from one status to another.
	Transition(ctx context.Context, id uuid.UUID, from, to models.SuggestionStatus, resolution models.Resolution, reviewedBy string) (bool, error)

	// SaveResult stores the execution result of an accepted suggestion.
	SaveResult(ctx context.Context, id uuid.UUID, result *models.ExecutionResult) error

	// RecordExecutionFailure marks a proposed suggestion execution_failed with a message.
	RecordExecutionFailure(ctx context.Context, id uuid.UUID, message string) (bool, error)

	// MarkRolledBack moves an accepted/executed suggestion to resolved/rolled_back.
	MarkRolledBack(ctx context.Context, id uuid.UUID, actor string, at time.Time) (bool, error)
}

type suggestionRepository struct{}

// NewSuggestionRepository creates a new SuggestionRepository.
func NewSuggestionRepository() SuggestionRepository {
	return &suggestionRepository{}
}

var _ SuggestionRepository = (*suggestionRepository)(nil)

const suggestionColumns = `
	id, project_id, target_type, target_id, operation,
	proposed_patch, normalized_patch, base_revision,
	status, resolution, risk_level, approval_type, approval_reasons,
	actor_type, actor_name, tool_call_id, tool_name, stream_id, thread_id,
	preflight, result, error_message, reviewed_by, rolled_back_by,
	created_at, updated_at, resolved_at, rolled_back_at`

func (r *suggestionRepository) Create(ctx context.Context, s *models.Suggestion) (bool, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return false, err
	}

	normalized, err := jsonbValue(s.NormalizedPatch)
	if err != nil {
		return false, err
	}
	preflight, err := jsonbValue(s.Preflight)
	if err != nil {
		return false, err
	}

	if s.ApprovalReasons == nil {
		s.ApprovalReasons = []string{}
	}

	query := `
		INSERT INTO suggestions (
			project_id, target_type, target_id, operation,
			proposed_patch, normalized_patch, base_revision,
			status, risk_level, approval_type, approval_reasons,
			actor_type, actor_name, tool_call_id, tool_name, stream_id, thread_id,
			preflight
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (project_id, tool_call_id) DO NOTHING
		RETURNING ` + suggestionColumns

	row := q.QueryRow(ctx, query,
		s.ProjectID, s.TargetType, s.TargetID, s.Operation,
		[]byte(s.ProposedPatch), normalized, s.BaseRevision,
		models.StatusProposed, s.RiskLevel, s.ApprovalType, s.ApprovalReasons,
		s.ActorType, s.ActorName, s.ToolCallID, s.ToolName, s.StreamID, s.ThreadID,
		preflight,
	)
	created, err := scanSuggestion(row)
	if err != nil {
		return false, fmt.Errorf("failed to create suggestion: %w", err)
	}
	if created != nil {
		*s = *created
		return true, nil
	}

	existing, err := r.GetByToolCallID(ctx, s.ProjectID, s.ToolCallID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("suggestion for tool call %q conflicted but could not be read", s.ToolCallID)
	}
	*s = *existing
	return false, nil
}

func (r *suggestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Suggestion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id)
	s, err := scanSuggestion(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	return s, nil
}

func (r *suggestionRepository) GetByToolCallID(ctx context.Context, projectID uuid.UUID, toolCallID string) (*models.Suggestion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx,
		`SELECT `+suggestionColumns+` FROM suggestions WHERE project_id = $1 AND tool_call_id = $2`,
		projectID, toolCallID)
	s, err := scanSuggestion(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestion by tool call: %w", err)
	}
	return s, nil
}

func (r *suggestionRepository) List(ctx context.Context, projectID uuid.UUID, filter models.SuggestionFilter) ([]*models.Suggestion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	status := filter.Status
	if status == "" {
		status = models.StatusAll
	}

	var afterTime *time.Time
	afterID := uuid.Nil
	if filter.After != nil {
		afterTime = &filter.After.CreatedAt
		afterID = filter.After.ID
	}

	// Row comparison keeps ties on created_at stable across pages.
	query := `
		SELECT ` + suggestionColumns + `
		FROM suggestions
		WHERE project_id = $1
		  AND ($2::text = 'all' OR status = $2::text)
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4::uuid))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`

	rows, err := q.Query(ctx, query, projectID, string(status), afterTime, afterID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	return scanSuggestions(rows)
}

func (r *suggestionRepository) ListByTarget(ctx context.Context, projectID, targetID uuid.UUID, limit int) ([]*models.Suggestion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + suggestionColumns + `
		FROM suggestions
		WHERE project_id = $1 AND target_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	rows, err := q.Query(ctx, query, projectID, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions by target: %w", err)
	}
	defer rows.Close()

	return scanSuggestions(rows)
}

func (r *suggestionRepository) CountByStatus(ctx context.Context, projectID uuid.UUID) (models.StatusCounts, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT status, COUNT(*)
		FROM suggestions
		WHERE project_id = $1
		GROUP BY status`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count suggestions: %w", err)
	}
	defer rows.Close()

	counts := models.StatusCounts{
		models.StatusProposed: 0,
		models.StatusAccepted: 0,
		models.StatusRejected: 0,
		models.StatusResolved: 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.SuggestionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

func (r *suggestionRepository) RecordPreflight(ctx context.Context, id uuid.UUID, preflight *models.Preflight, baseRevision *int64) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	pf, err := jsonbValue(preflight)
	if err != nil {
		return err
	}

	query := `
		UPDATE suggestions
		SET preflight = $2,
		    base_revision = COALESCE($3, base_revision),
		    target_id = COALESCE(target_id, $4),
		    updated_at = now()
		WHERE id = $1`

	result, err := q.Exec(ctx, query, id, pf, baseRevision, preflight.ResolvedTargetID)
	if err != nil {
		return fmt.Errorf("failed to record preflight: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("suggestion %s not found", id)
	}
	return nil
}

func (r *suggestionRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.SuggestionStatus, resolution models.Resolution, reviewedBy string) (bool, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE suggestions
		SET status = $3, resolution = $4, reviewed_by = $5,
		    error_message = NULL, resolved_at = now(), updated_at = now()
		WHERE id = $1
		  AND status = $2
		  AND (resolution IS NULL OR resolution = 'execution_failed')`

	result, err := q.Exec(ctx, query, id, from, to, resolution, nullableString(reviewedBy))
	if err != nil {
		return false, fmt.Errorf("failed to transition suggestion: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *suggestionRepository) SaveResult(ctx context.Context, id uuid.UUID, result *models.ExecutionResult) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	res, err := jsonbValue(result)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE suggestions
		SET result = $2, target_id = COALESCE(target_id, $3), updated_at = now()
		WHERE id = $1`, id, res, result.TargetID)
	if err != nil {
		return fmt.Errorf("failed to save suggestion result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("suggestion %s not found", id)
	}
	return nil
}

func (r *suggestionRepository) RecordExecutionFailure(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return false, err
	}

	tag, err := q.Exec(ctx, `
		UPDATE suggestions
		SET resolution = 'execution_failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'proposed'`, id, message)
	if err != nil {
		return false, fmt.Errorf("failed to record execution failure: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *suggestionRepository) MarkRolledBack(ctx context.Context, id uuid.UUID, actor string, at time.Time) (bool, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return false, err
	}

	tag, err := q.Exec(ctx, `
		UPDATE suggestions
		SET status = 'resolved', resolution = 'rolled_back',
		    rolled_back_by = $2, rolled_back_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'accepted' AND resolution = 'executed'`, id, actor, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark suggestion rolled back: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanSuggestions(rows pgx.Rows) ([]*models.Suggestion, error) {
	var out []*models.Suggestion
	for rows.Next() {
		s, err := scanSuggestionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suggestions: %w", err)
	}
	return out, nil
}

// scanSuggestion scans a single-row result. Returns nil, nil when there is no row.
func scanSuggestion(row pgx.Row) (*models.Suggestion, error) {
	s, err := scanSuggestionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSuggestionRow(row rowScanner) (*models.Suggestion, error) {
	var s models.Suggestion
	var resolution *string
	var proposed, normalized, preflight, result []byte

	err := row.Scan(
		&s.ID, &s.ProjectID, &s.TargetType, &s.TargetID, &s.Operation,
		&proposed, &normalized, &s.BaseRevision,
		&s.Status, &resolution, &s.RiskLevel, &s.ApprovalType, &s.ApprovalReasons,
		&s.ActorType, &s.ActorName, &s.ToolCallID, &s.ToolName, &s.StreamID, &s.ThreadID,
		&preflight, &result, &s.ErrorMessage, &s.ReviewedBy, &s.RolledBackBy,
		&s.CreatedAt, &s.UpdatedAt, &s.ResolvedAt, &s.RolledBackAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan suggestion: %w", err)
	}

	if resolution != nil {
		res := models.Resolution(*resolution)
		s.Resolution = &res
	}
	s.ProposedPatch = proposed
	if len(normalized) > 0 {
		s.NormalizedPatch = normalized
	}
	if err := unmarshalJSONB(preflight, &s.Preflight, "preflight"); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(result, &s.Result, "result"); err != nil {
		return nil, err
	}

	return &s, nil
}
