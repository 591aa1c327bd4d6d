package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// mockSuggestionService is a hand-written services.SuggestionService.
type mockSuggestionService struct {
	created    bool
	suggestion *models.Suggestion
	page       *models.SuggestionPage
	err        error

	gotCtx        context.Context
	gotProjectID  uuid.UUID
	gotRequest    *models.NewSuggestionRequest
	gotID         uuid.UUID
	gotToolCallID string
	gotStatus     models.SuggestionStatus
	gotCursor     string
	gotLimit      int
}

func (m *mockSuggestionService) Create(ctx context.Context, projectID uuid.UUID, req *models.NewSuggestionRequest) (*models.Suggestion, bool, error) {
	m.gotCtx, m.gotProjectID, m.gotRequest = ctx, projectID, req
	if m.err != nil {
		return nil, false, m.err
	}
	return m.suggestion, m.created, nil
}

func (m *mockSuggestionService) Get(ctx context.Context, projectID, id uuid.UUID) (*models.Suggestion, error) {
	m.gotProjectID, m.gotID = projectID, id
	if m.err != nil {
		return nil, m.err
	}
	return m.suggestion, nil
}

func (m *mockSuggestionService) GetByToolCallID(ctx context.Context, projectID uuid.UUID, toolCallID string) (*models.Suggestion, error) {
	m.gotProjectID, m.gotToolCallID = projectID, toolCallID
	if m.err != nil {
		return nil, m.err
	}
	return m.suggestion, nil
}

func (m *mockSuggestionService) List(ctx context.Context, projectID uuid.UUID, status models.SuggestionStatus, cursor string, limit int) (*models.SuggestionPage, error) {
	m.gotProjectID, m.gotStatus, m.gotCursor, m.gotLimit = projectID, status, cursor, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.page, nil
}

func (m *mockSuggestionService) ListByTarget(ctx context.Context, projectID, targetID uuid.UUID, limit int) ([]*models.Suggestion, error) {
	return nil, apperrors.InvalidState("not used by tools")
}

func (m *mockSuggestionService) CountByStatus(ctx context.Context, projectID uuid.UUID) (models.StatusCounts, error) {
	return nil, apperrors.InvalidState("not used by tools")
}

func (m *mockSuggestionService) RecheckPreflight(ctx context.Context, projectID, id uuid.UUID) (*models.Preflight, error) {
	return nil, apperrors.InvalidState("not used by tools")
}

func (m *mockSuggestionService) PreflightStale(ctx context.Context, s *models.Suggestion) (bool, error) {
	return false, nil
}

// passthroughTenant stands in for a tenant-scoped connection.
func passthroughTenant(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

type rpcResponse struct {
	Result *struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func handle(t *testing.T, s *server.MCPServer, ctx context.Context, message map[string]any) rpcResponse {
	t.Helper()
	message["jsonrpc"] = "2.0"
	message["id"] = 1
	body, err := json.Marshal(message)
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(ctx, body))
	require.NoError(t, err)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

// callTool invokes a tool and returns its text and IsError flag. A JSON-RPC
// level error fails the test; use callToolRPCError for those.
func callTool(t *testing.T, s *server.MCPServer, ctx context.Context, name string, args map[string]any) (string, bool) {
	t.Helper()
	resp := handle(t, s, ctx, map[string]any{
		"method": "tools/call",
		"params": map[string]any{"name": name, "arguments": args},
	})
	require.Nil(t, resp.Error, "unexpected JSON-RPC error")
	require.NotNil(t, resp.Result)
	require.NotEmpty(t, resp.Result.Content)
	return resp.Result.Content[0].Text, resp.Result.IsError
}

// callToolRPCError invokes a tool expected to fail with a Go error.
func callToolRPCError(t *testing.T, s *server.MCPServer, ctx context.Context, name string, args map[string]any) string {
	t.Helper()
	resp := handle(t, s, ctx, map[string]any{
		"method": "tools/call",
		"params": map[string]any{"name": name, "arguments": args},
	})
	require.NotNil(t, resp.Error, "expected a JSON-RPC error")
	return resp.Error.Message
}

func listToolNames(t *testing.T, s *server.MCPServer) []string {
	t.Helper()
	resp := handle(t, s, context.Background(), map[string]any{"method": "tools/list"})
	require.NotNil(t, resp.Result)
	names := make([]string, 0, len(resp.Result.Tools))
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	return names
}
