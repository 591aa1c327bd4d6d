package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tenantSetting is read by every RLS policy in migrations/.
const tenantSetting = "app.current_project_id"

// TenantScope is a pooled connection pinned to one project.
type TenantScope struct {
	Conn      *pgxpool.Conn
	ProjectID uuid.UUID
}

// Close clears the project setting and returns the connection to the pool.
// A connection released without the reset would carry the project into the next request.
func (s *TenantScope) Close() {
	if s == nil || s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET "+tenantSetting)
	s.Conn.Release()
	s.Conn = nil
}

// WithTenant acquires a connection scoped to projectID. Callers must Close it.
func (db *DB) WithTenant(ctx context.Context, projectID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT set_config($1, $2, false)", tenantSetting, projectID.String()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set tenant: %w", err)
	}

	return &TenantScope{Conn: conn, ProjectID: projectID}, nil
}

// WithoutTenant acquires an unscoped connection for test setup and cleanup.
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &TenantScope{Conn: conn}, nil
}
