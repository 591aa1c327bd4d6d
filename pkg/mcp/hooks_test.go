package mcp

import (
	"context"
	"errors"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func toolRequest(name string) *mcplib.CallToolRequest {
	req := &mcplib.CallToolRequest{}
	req.Params.Name = name
	return req
}

func TestToolCallRecorder_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewToolCallRecorder(reg, zap.NewNop())
	ctx := context.Background()

	r.beforeCallTool(ctx, 1, toolRequest("propose_change"))
	r.afterCallTool(ctx, 1, toolRequest("propose_change"), mcplib.NewToolResultText("{}"))

	errResult := mcplib.NewToolResultText(`{"error":true}`)
	errResult.IsError = true
	r.beforeCallTool(ctx, 2, toolRequest("propose_change"))
	r.afterCallTool(ctx, 2, toolRequest("propose_change"), errResult)

	r.beforeCallTool(ctx, 3, toolRequest("get_suggestion_status"))
	r.onError(ctx, 3, mcplib.MethodToolsCall, toolRequest("get_suggestion_status"), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.calls.WithLabelValues("propose_change", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.calls.WithLabelValues("propose_change", OutcomeToolError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.calls.WithLabelValues("get_suggestion_status", OutcomeFailure)))
	assert.Equal(t, 2, testutil.CollectAndCount(r.duration))
}

func TestToolCallRecorder_IgnoresNonToolErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewToolCallRecorder(nil, zap.New(core))

	r.onError(context.Background(), 1, mcplib.MethodToolsList, nil, errors.New("boom"))
	r.onError(context.Background(), 2, mcplib.MethodToolsCall, "not a request", errors.New("boom"))

	assert.Equal(t, 0, logs.Len())
	assert.Equal(t, 0, testutil.CollectAndCount(r.calls))
}

func TestToolCallRecorder_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewToolCallRecorder(nil, zap.New(core))

	r.onError(context.Background(), 7, mcplib.MethodToolsCall, toolRequest("propose_change"), errors.New("db down"))

	entries := logs.FilterMessage("MCP tool call failed").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "propose_change", entries[0].ContextMap()["tool"])
	}
}
