package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

// getOptionalString returns the trimmed string argument, or "" when absent.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	val, _ := arguments(req)[key].(string)
	return trimString(val)
}

// getOptionalStringPtr is getOptionalString with nil for absent or blank values.
func getOptionalStringPtr(req mcp.CallToolRequest, key string) *string {
	if val := getOptionalString(req, key); val != "" {
		return &val
	}
	return nil
}

// getOptionalFloat extracts an optional number argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	val, ok := arguments(req)[key].(float64)
	return val, ok
}

// extractStringSlice reads an array-of-strings argument. Absent means nil.
func extractStringSlice(req mcp.CallToolRequest, key string) ([]string, error) {
	raw, ok := arguments(req)[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter '%s' must be an array of strings", key)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("parameter '%s[%d]' must be a string", key, i)
		}
		if s = trimString(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// extractJSONObject reads an argument that is either a JSON object or a string
// holding one.
func extractJSONObject(req mcp.CallToolRequest, key string) (json.RawMessage, error) {
	raw, ok := arguments(req)[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("parameter '%s' is required", key)
	}

	if s, ok := raw.(string); ok {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
			return nil, fmt.Errorf("parameter '%s' must be a JSON object", key)
		}
		return json.RawMessage(trimString(s)), nil
	}

	if _, ok := raw.(map[string]any); !ok {
		return nil, fmt.Errorf("parameter '%s' must be a JSON object", key)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parameter '%s' must be a JSON object: %w", key, err)
	}
	return b, nil
}
