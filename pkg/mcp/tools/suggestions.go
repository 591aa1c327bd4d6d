package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/services"
)

// Tool names.
const (
	ToolProposeChange       = "propose_change"
	ToolGetSuggestionStatus = "get_suggestion_status"
	ToolListPending         = "list_pending_suggestions"
)

// SuggestionToolDeps contains dependencies for the suggestion tools.
type SuggestionToolDeps struct {
	TenantContext     services.TenantContextFunc
	SuggestionService services.SuggestionService
	Logger            *zap.Logger
}

// RegisterSuggestionTools registers the tools agents use to propose changes
// and follow their review.
func RegisterSuggestionTools(s *server.MCPServer, deps *SuggestionToolDeps) {
	registerProposeChangeTool(s, deps)
	registerGetSuggestionStatusTool(s, deps)
	registerListPendingTool(s, deps)
}

// proposeChangeResponse is returned by propose_change.
type proposeChangeResponse struct {
	SuggestionID    uuid.UUID               `json:"suggestion_id"`
	Created         bool                    `json:"created"`
	Status          models.SuggestionStatus `json:"status"`
	RiskLevel       models.RiskLevel        `json:"risk_level"`
	ApprovalReasons []string                `json:"approval_reasons"`
	Preflight       *models.PreflightStatus `json:"preflight,omitempty"`
	Errors          []string                `json:"preflight_errors,omitempty"`
	Warnings        []string                `json:"preflight_warnings,omitempty"`
}

func registerProposeChangeTool(s *server.MCPServer, deps *SuggestionToolDeps) {
	tool := mcp.NewTool(
		ToolProposeChange,
		mcp.WithDescription(
			"Propose a change to the story for human review. Nothing is written until a reviewer approves. "+
				"Retrying with the same tool_call_id returns the existing suggestion instead of creating another."),
		mcp.WithString(
			"tool_call_id",
			mcp.Required(),
			mcp.Description("Identifier of the agent tool call that produced this change; used to deduplicate retries"),
		),
		mcp.WithString(
			"tool_name",
			mcp.Description("Optional - Name of the agent tool that produced the change (default: propose_change)"),
		),
		mcp.WithString(
			"target_type",
			mcp.Required(),
			mcp.Enum(string(models.TargetDocument), string(models.TargetEntity), string(models.TargetRelationship), string(models.TargetMemory)),
			mcp.Description("Kind of record the change applies to"),
		),
		mcp.WithString(
			"target_id",
			mcp.Description("Optional - UUID of the record being changed; omit for creates or when referring by name"),
		),
		mcp.WithString(
			"operation",
			mcp.Required(),
			mcp.Description("Operation tag, e.g. 'entity.update', 'relationship.create', 'memory.commit', 'replace_selection'"),
		),
		mcp.WithObject(
			"proposed_patch",
			mcp.Required(),
			mcp.Description("Operation payload, e.g. {\"entity\": \"Mara\", \"set\": {\"notes\": \"...\"}}"),
		),
		mcp.WithString(
			"risk_level",
			mcp.Enum(string(models.RiskLow), string(models.RiskHigh), string(models.RiskCore)),
			mcp.Description("Optional - Risk grade; computed from the operation when omitted"),
		),
		mcp.WithArray(
			"approval_reasons",
			mcp.Description("Optional - Reason codes shown to the reviewer; computed when omitted"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString(
			"stream_id",
			mcp.Description("Optional - Agent stream the tool call belongs to"),
		),
		mcp.WithString(
			"thread_id",
			mcp.Description("Optional - Conversation thread the tool call belongs to"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		access, err := AcquireToolAccess(ctx, deps.TenantContext)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer access.Cleanup()

		newReq, result := buildSuggestionRequest(req, access)
		if result != nil {
			return result, nil
		}

		sug, created, err := deps.SuggestionService.Create(access.Ctx, access.ProjectID, newReq)
		if err != nil {
			return serviceErrorResult(err)
		}

		if created {
			deps.Logger.Info("Suggestion proposed over MCP",
				zap.String("project_id", access.ProjectID.String()),
				zap.String("suggestion_id", sug.ID.String()),
				zap.String("tool_call_id", sug.ToolCallID),
				zap.String("operation", string(sug.Operation)))
		}

		resp := proposeChangeResponse{
			SuggestionID:    sug.ID,
			Created:         created,
			Status:          sug.Status,
			RiskLevel:       sug.RiskLevel,
			ApprovalReasons: sug.ApprovalReasons,
		}
		if sug.Preflight != nil {
			resp.Preflight = &sug.Preflight.Status
			resp.Errors = sug.Preflight.Errors
			resp.Warnings = sug.Preflight.Warnings
		}
		return jsonResult(resp)
	})
}

// buildSuggestionRequest maps tool arguments onto the producer contract.
// Invalid arguments come back as an error result.
func buildSuggestionRequest(req mcp.CallToolRequest, access *ToolAccess) (*models.NewSuggestionRequest, *mcp.CallToolResult) {
	toolCallID := getOptionalString(req, "tool_call_id")
	if toolCallID == "" {
		return nil, NewErrorResult("invalid_parameters", "parameter 'tool_call_id' cannot be empty")
	}
	toolName := getOptionalString(req, "tool_name")
	if toolName == "" {
		toolName = ToolProposeChange
	}

	var targetID *uuid.UUID
	if raw := getOptionalString(req, "target_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, NewErrorResult("invalid_parameters", fmt.Sprintf("parameter 'target_id' is not a valid UUID: %q", raw))
		}
		targetID = &id
	}

	patch, err := extractJSONObject(req, "proposed_patch")
	if err != nil {
		return nil, NewErrorResult("invalid_parameters", err.Error())
	}
	reasons, err := extractStringSlice(req, "approval_reasons")
	if err != nil {
		return nil, NewErrorResult("invalid_parameters", err.Error())
	}

	newReq := &models.NewSuggestionRequest{
		ToolCallID:      toolCallID,
		ToolName:        toolName,
		TargetType:      models.TargetType(getOptionalString(req, "target_type")),
		TargetID:        targetID,
		Operation:       models.Operation(getOptionalString(req, "operation")),
		ProposedPatch:   patch,
		RiskLevel:       models.RiskLevel(getOptionalString(req, "risk_level")),
		ApprovalReasons: reasons,
		ActorType:       models.ActorUser,
		ActorName:       access.Claims.Email,
		StreamID:        getOptionalStringPtr(req, "stream_id"),
		ThreadID:        getOptionalStringPtr(req, "thread_id"),
	}
	if access.Claims.IsAgent() {
		newReq.ActorType = models.ActorAgent
		newReq.ActorName = ""
	}
	return newReq, nil
}

// suggestionStatusResponse is returned by get_suggestion_status.
type suggestionStatusResponse struct {
	SuggestionID uuid.UUID               `json:"suggestion_id"`
	ToolCallID   string                  `json:"tool_call_id"`
	Operation    models.Operation        `json:"operation"`
	Status       models.SuggestionStatus `json:"status"`
	Resolution   models.Resolution       `json:"resolution,omitempty"`
	Preflight    models.PreflightStatus  `json:"preflight,omitempty"`
	Summary      string                  `json:"summary,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	ReviewedBy   string                  `json:"reviewed_by,omitempty"`
	ResolvedAt   *time.Time              `json:"resolved_at,omitempty"`
	RolledBackAt *time.Time              `json:"rolled_back_at,omitempty"`
}

func newStatusResponse(sug *models.Suggestion) suggestionStatusResponse {
	resp := suggestionStatusResponse{
		SuggestionID: sug.ID,
		ToolCallID:   sug.ToolCallID,
		Operation:    sug.Operation,
		Status:       sug.Status,
		Resolution:   sug.CurrentResolution(),
		ResolvedAt:   sug.ResolvedAt,
		RolledBackAt: sug.RolledBackAt,
	}
	if sug.Preflight != nil {
		resp.Preflight = sug.Preflight.Status
	}
	if sug.Result != nil {
		resp.Summary = sug.Result.Summary
	}
	if sug.ErrorMessage != nil {
		resp.ErrorMessage = *sug.ErrorMessage
	}
	if sug.ReviewedBy != nil {
		resp.ReviewedBy = *sug.ReviewedBy
	}
	return resp
}

func registerGetSuggestionStatusTool(s *server.MCPServer, deps *SuggestionToolDeps) {
	tool := mcp.NewTool(
		ToolGetSuggestionStatus,
		mcp.WithDescription(
			"Get the review status of a proposed change. Provide exactly one of suggestion_id or tool_call_id."),
		mcp.WithString(
			"suggestion_id",
			mcp.Description("UUID returned by propose_change"),
		),
		mcp.WithString(
			"tool_call_id",
			mcp.Description("Tool call ID the change was proposed with"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		access, err := AcquireToolAccess(ctx, deps.TenantContext)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer access.Cleanup()

		rawID := getOptionalString(req, "suggestion_id")
		toolCallID := getOptionalString(req, "tool_call_id")
		if (rawID == "") == (toolCallID == "") {
			return NewErrorResult("invalid_parameters", "provide exactly one of 'suggestion_id' or 'tool_call_id'"), nil
		}

		var sug *models.Suggestion
		if rawID != "" {
			id, err := uuid.Parse(rawID)
			if err != nil {
				return NewErrorResult("invalid_parameters", fmt.Sprintf("parameter 'suggestion_id' is not a valid UUID: %q", rawID)), nil
			}
			sug, err = deps.SuggestionService.Get(access.Ctx, access.ProjectID, id)
			if err != nil {
				return serviceErrorResult(err)
			}
		} else {
			sug, err = deps.SuggestionService.GetByToolCallID(access.Ctx, access.ProjectID, toolCallID)
			if err != nil {
				return serviceErrorResult(err)
			}
		}

		return jsonResult(newStatusResponse(sug))
	})
}

// pendingSuggestionsResponse is returned by list_pending_suggestions.
type pendingSuggestionsResponse struct {
	Suggestions []suggestionStatusResponse `json:"suggestions"`
	NextCursor  string                     `json:"next_cursor,omitempty"`
}

func registerListPendingTool(s *server.MCPServer, deps *SuggestionToolDeps) {
	tool := mcp.NewTool(
		ToolListPending,
		mcp.WithDescription(
			"List changes still awaiting review, newest first. Use next_cursor to fetch the following page."),
		mcp.WithNumber(
			"limit",
			mcp.Description("Optional - Page size (server default and maximum apply)"),
		),
		mcp.WithString(
			"cursor",
			mcp.Description("Optional - next_cursor from the previous page"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		access, err := AcquireToolAccess(ctx, deps.TenantContext)
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer access.Cleanup()

		limit := 0
		if v, ok := getOptionalFloat(req, "limit"); ok {
			if v < 1 {
				return NewErrorResult("invalid_parameters", "parameter 'limit' must be a positive number"), nil
			}
			limit = int(v)
		}

		page, err := deps.SuggestionService.List(access.Ctx, access.ProjectID, models.StatusProposed, getOptionalString(req, "cursor"), limit)
		if err != nil {
			return serviceErrorResult(err)
		}

		resp := pendingSuggestionsResponse{
			Suggestions: make([]suggestionStatusResponse, 0, len(page.Items)),
			NextCursor:  page.NextCursor,
		}
		for _, sug := range page.Items {
			resp.Suggestions = append(resp.Suggestions, newStatusResponse(sug))
		}
		return jsonResult(resp)
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
