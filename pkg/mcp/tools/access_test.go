package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

func TestAcquireToolAccess(t *testing.T) {
	projectID := uuid.New()
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "agent-7"},
		ProjectID:        projectID.String(),
		Roles:            []string{auth.RoleAgent},
	}
	cleaned := false
	tenant := func(ctx context.Context, pid uuid.UUID) (context.Context, func(), error) {
		assert.Equal(t, projectID, pid)
		return ctx, func() { cleaned = true }, nil
	}

	access, err := AcquireToolAccess(auth.WithClaims(context.Background(), claims, "token"), tenant)
	require.NoError(t, err)
	assert.Equal(t, projectID, access.ProjectID)
	assert.Same(t, claims, access.Claims)

	prov, err := models.RequireProvenance(access.Ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SourceMCP, prov.Source)
	assert.Equal(t, "agent-7", prov.UserID)

	access.Cleanup()
	assert.True(t, cleaned)
}

func TestAcquireToolAccess_Errors(t *testing.T) {
	tenant := func(ctx context.Context, pid uuid.UUID) (context.Context, func(), error) {
		return ctx, func() {}, nil
	}

	t.Run("missing claims", func(t *testing.T) {
		_, err := AcquireToolAccess(context.Background(), tenant)
		var accessErr *ToolAccessError
		require.ErrorAs(t, err, &accessErr)
		assert.Equal(t, "authentication_required", accessErr.Code)
	})

	t.Run("invalid project id", func(t *testing.T) {
		ctx := auth.WithClaims(context.Background(), &auth.Claims{ProjectID: "project-123"}, "token")
		_, err := AcquireToolAccess(ctx, tenant)
		var accessErr *ToolAccessError
		require.ErrorAs(t, err, &accessErr)
		assert.Equal(t, "invalid_project_id", accessErr.Code)
	})

	t.Run("connection failure is a system error", func(t *testing.T) {
		ctx := auth.WithClaims(context.Background(), &auth.Claims{ProjectID: uuid.NewString()}, "token")
		failing := func(ctx context.Context, pid uuid.UUID) (context.Context, func(), error) {
			return nil, nil, errors.New("pool closed")
		}
		_, err := AcquireToolAccess(ctx, failing)
		require.Error(t, err)
		assert.Nil(t, AsToolAccessResult(err))
		assert.Contains(t, err.Error(), "pool closed")
	})
}

func TestToolAccessError(t *testing.T) {
	err := newToolAccessError("authentication_required", "authentication required")
	assert.Equal(t, "authentication required", err.Error())

	result := AsToolAccessResult(err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	assert.Nil(t, AsToolAccessResult(assert.AnError), "regular errors should not convert to tool access results")
	assert.Nil(t, AsToolAccessResult(nil))
}
