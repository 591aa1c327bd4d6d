// Package tools provides the MCP tools agents use to propose changes for review.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
	"github.com/ekaya-inc/ekaya-suggest/pkg/services"
)

// ToolAccessError is an actionable error returned to the MCP client as a tool
// result, not as a Go error, so the agent can see it and react.
type ToolAccessError struct {
	Code    string
	Message string
	// MCPResult contains the pre-built MCP response for this error
	MCPResult *mcp.CallToolResult
}

func (e *ToolAccessError) Error() string {
	return e.Message
}

// AsToolAccessResult returns the prebuilt result when err is a ToolAccessError:
//
//	access, err := AcquireToolAccess(ctx, deps.TenantContext)
//	if err != nil {
//	    if result := AsToolAccessResult(err); result != nil {
//	        return result, nil
//	    }
//	    return nil, err
//	}
func AsToolAccessResult(err error) *mcp.CallToolResult {
	var accessErr *ToolAccessError
	if errors.As(err, &accessErr) {
		return accessErr.MCPResult
	}
	return nil
}

func newToolAccessError(code, message string) *ToolAccessError {
	return &ToolAccessError{
		Code:      code,
		Message:   message,
		MCPResult: NewErrorResult(code, message),
	}
}

// ToolAccess is a tenant-scoped, attributed context for one tool call.
type ToolAccess struct {
	ProjectID uuid.UUID
	Claims    *auth.Claims
	// Ctx carries the tenant scope and MCP provenance for the caller.
	Ctx     context.Context
	Cleanup func()
}

// AcquireToolAccess resolves the caller's project from its token, acquires a
// tenant-scoped connection, and attributes the call to the token subject.
// Authentication problems are returned as ToolAccessError.
// Cleanup MUST be called on success.
func AcquireToolAccess(ctx context.Context, tenantCtx services.TenantContextFunc) (*ToolAccess, error) {
	claims, ok := auth.GetClaims(ctx)
	if !ok {
		return nil, newToolAccessError("authentication_required", "authentication required")
	}

	projectID, err := uuid.Parse(claims.ProjectID)
	if err != nil {
		return nil, newToolAccessError("invalid_project_id", fmt.Sprintf("invalid project ID: %v", err))
	}

	scoped, cleanup, err := services.WithMCPProvenanceWrapper(tenantCtx, claims.Subject)(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}

	return &ToolAccess{
		ProjectID: projectID,
		Claims:    claims,
		Ctx:       scoped,
		Cleanup:   cleanup,
	}, nil
}
