package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
)

// Tool call outcomes recorded by ToolCallRecorder.
const (
	OutcomeSuccess   = "success"
	OutcomeToolError = "tool_error" // handler returned an error result the agent can act on
	OutcomeFailure   = "failure"    // handler returned a Go error
)

// ToolCallRecorder observes MCP tool calls through mcp-go hooks. It counts calls
// by tool and outcome, times them, and logs failures.
type ToolCallRecorder struct {
	logger   *zap.Logger
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolCallRecorder creates a recorder and registers its metrics with reg.
func NewToolCallRecorder(reg prometheus.Registerer, logger *zap.Logger) *ToolCallRecorder {
	r := &ToolCallRecorder{
		logger: logger.Named("mcp-tools"),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ekaya_suggest",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Total MCP tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ekaya_suggest",
			Subsystem: "mcp",
			Name:      "tool_call_duration_seconds",
			Help:      "MCP tool call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	if reg != nil {
		reg.MustRegister(r.calls, r.duration)
	}
	return r
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (r *ToolCallRecorder) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(r.beforeCallTool)
	hooks.AddAfterCallTool(r.afterCallTool)
	hooks.AddOnError(r.onError)
	return hooks
}

func (r *ToolCallRecorder) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	r.startTimes.Store(id, time.Now())
}

func (r *ToolCallRecorder) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	outcome := OutcomeSuccess
	if result != nil && result.IsError {
		outcome = OutcomeToolError
	}
	r.observe(id, req.Params.Name, outcome)

	if outcome == OutcomeToolError {
		r.logger.Debug("MCP tool returned an error result",
			zap.String("tool", req.Params.Name),
			zap.String("subject", subject(ctx)))
	}
}

func (r *ToolCallRecorder) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}
	r.observe(id, req.Params.Name, OutcomeFailure)

	r.logger.Error("MCP tool call failed",
		zap.String("tool", req.Params.Name),
		zap.String("subject", subject(ctx)),
		zap.Error(err))
}

func (r *ToolCallRecorder) observe(id any, tool, outcome string) {
	r.calls.WithLabelValues(tool, outcome).Inc()
	if v, ok := r.startTimes.LoadAndDelete(id); ok {
		r.duration.WithLabelValues(tool).Observe(time.Since(v.(time.Time)).Seconds())
	}
}

func subject(ctx context.Context) string {
	if claims, ok := auth.GetClaims(ctx); ok {
		return claims.Subject
	}
	return ""
}
