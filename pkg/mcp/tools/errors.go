package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// ErrorResponse represents a structured error in tool results.
// It is returned as the tool result text so the agent sees the code and
// message instead of a transport-level failure.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the agent can act on (bad parameters, missing suggestion).
// System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult converts a service error into a tool result when the agent
// can act on it. Any other error is returned unchanged for the server to report.
func serviceErrorResult(err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, models.ErrNoProvenance) {
		return NewErrorResult("authentication_required", "authentication required"), nil
	}
	if apperrors.IsBusiness(err) {
		return NewErrorResult(apperrors.Code(err), err.Error()), nil
	}
	return nil, err
}
