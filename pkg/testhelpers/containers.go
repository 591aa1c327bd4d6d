package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/database"
)

// PostgresImage is the image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// SuggestDB holds the shared test database with migrations applied.
type SuggestDB struct {
	Container *postgres.PostgresContainer
	DB        *database.DB
	ConnStr   string
}

var (
	sharedSuggestDB     *SuggestDB
	sharedSuggestDBOnce sync.Once
	sharedSuggestDBErr  error
)

// GetSuggestDB returns a shared PostgreSQL container for integration tests.
// The container is created once, migrated, and reused across all tests in the run.
func GetSuggestDB(t *testing.T) *SuggestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedSuggestDBOnce.Do(func() {
		sharedSuggestDB, sharedSuggestDBErr = setupSuggestDB()
	})

	if sharedSuggestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedSuggestDBErr)
	}

	return sharedSuggestDB
}

func setupSuggestDB() (*SuggestDB, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("ekaya_suggest_test"),
		postgres.WithUsername("ekaya"),
		postgres.WithPassword("test_password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	// golang-migrate needs database/sql
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	return &SuggestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// TenantContext returns a context carrying a tenant scope for projectID.
// The scope is released when the test finishes.
func (s *SuggestDB) TenantContext(t *testing.T, projectID uuid.UUID) context.Context {
	t.Helper()

	ctx := context.Background()
	scope, err := s.DB.WithTenant(ctx, projectID)
	if err != nil {
		t.Fatalf("Failed to create tenant scope: %v", err)
	}
	t.Cleanup(scope.Close)

	return database.SetTenantScope(ctx, scope)
}

// CleanupProject removes every row owned by projectID.
// Suggestions are never deleted by the service itself; this exists only for test isolation.
func (s *SuggestDB) CleanupProject(t *testing.T, projectID uuid.UUID) {
	t.Helper()

	ctx := context.Background()
	scope, err := s.DB.WithoutTenant(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire cleanup connection: %v", err)
	}
	defer scope.Close()

	for _, table := range []string{"suggestions", "story_relationships", "story_memories", "story_documents", "story_entities"} {
		if _, err := scope.Conn.Exec(ctx, "DELETE FROM "+table+" WHERE project_id = $1", projectID); err != nil {
			t.Fatalf("Failed to clean %s: %v", table, err)
		}
	}
}
