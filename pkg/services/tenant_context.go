package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-suggest/pkg/database"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// TenantContextFunc acquires a tenant-scoped database connection.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type TenantContextFunc func(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error)

// NewTenantContextFunc creates a TenantContextFunc that uses the given database.
func NewTenantContextFunc(db *database.DB) TenantContextFunc {
	return database.NewTenantScopeProvider(db).WithTenantScope
}

// WithMCPProvenanceWrapper wraps a TenantContextFunc so the scoped context also
// attributes actions to subject over MCP.
func WithMCPProvenanceWrapper(inner TenantContextFunc, subject string) TenantContextFunc {
	return func(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error) {
		tenantCtx, cleanup, err := inner(ctx, projectID)
		if err != nil {
			return nil, nil, err
		}
		return models.WithMCPProvenance(tenantCtx, subject), cleanup, nil
	}
}
