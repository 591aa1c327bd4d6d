// Package audit writes the reviewer decision trail in structured JSON so it can be
// shipped to a log pipeline alongside the suggestion rows themselves.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// EventType categorizes audit events for filtering.
type EventType string

const (
	EventApprove         EventType = "suggestion_approved"
	EventReject          EventType = "suggestion_rejected"
	EventAppliedInEditor EventType = "suggestion_applied_in_editor"
	EventDecisionFailed  EventType = "suggestion_decision_failed"
	EventRollback        EventType = "suggestion_rolled_back"
	EventRollbackFailed  EventType = "suggestion_rollback_failed"
)

// Event is one auditable reviewer action.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	EventType    EventType `json:"event_type"`
	ProjectID    uuid.UUID `json:"project_id"`
	SuggestionID uuid.UUID `json:"suggestion_id"`
	UserID       string    `json:"user_id,omitempty"`
	Source       string    `json:"source,omitempty"`
	Details      any       `json:"details,omitempty"`
	Severity     string    `json:"severity"` // info, warning
}

// DecisionAuditor logs reviewer decisions and rollbacks on a dedicated logger namespace.
type DecisionAuditor struct {
	logger *zap.Logger
}

// NewDecisionAuditor creates an auditor logging under "suggestion_audit".
func NewDecisionAuditor(logger *zap.Logger) *DecisionAuditor {
	return &DecisionAuditor{logger: logger.Named("suggestion_audit")}
}

// LogDecision records the outcome of applying a decision to one suggestion.
// Failed outcomes are logged at WARN with the error code and message.
func (a *DecisionAuditor) LogDecision(ctx context.Context, projectID uuid.UUID, decision models.Decision, outcome models.DecisionOutcome) {
	eventType := EventReject
	switch {
	case outcome.Error != nil:
		eventType = EventDecisionFailed
	case outcome.Resolution == models.ResolutionAppliedInEditor:
		eventType = EventAppliedInEditor
	case decision == models.DecisionApprove:
		eventType = EventApprove
	}

	details := map[string]any{
		"decision":         decision,
		"status":           outcome.Status,
		"resolution":       outcome.Resolution,
		"already_resolved": outcome.AlreadyResolved,
	}
	if outcome.Error != nil {
		details["error_code"] = outcome.Error.Code
		details["error"] = outcome.Error.Message
	}

	if outcome.Error != nil {
		a.log(ctx, projectID, outcome.SuggestionID, eventType, details, "warning")
		return
	}
	a.log(ctx, projectID, outcome.SuggestionID, eventType, details, "info")
}

// LogRollback records a completed rollback.
func (a *DecisionAuditor) LogRollback(ctx context.Context, projectID uuid.UUID, result *models.RollbackResult, cascade bool) {
	a.log(ctx, projectID, result.SuggestionID, EventRollback, map[string]any{
		"cascade":               cascade,
		"already_rolled_back":   result.AlreadyRolledBack,
		"removed_relationships": result.RemovedRelationships,
	}, "info")
}

// LogRollbackFailure records a refused or failed rollback with the reviewer-facing message.
func (a *DecisionAuditor) LogRollbackFailure(ctx context.Context, projectID, suggestionID uuid.UUID, code, message string) {
	a.log(ctx, projectID, suggestionID, EventRollbackFailed, map[string]string{
		"error_code": code,
		"error":      message,
	}, "warning")
}

func (a *DecisionAuditor) log(ctx context.Context, projectID, suggestionID uuid.UUID, eventType EventType, details any, severity string) {
	var userID, source string
	if prov, ok := models.GetProvenance(ctx); ok {
		userID = prov.UserID
		source = prov.Source.String()
	}

	event := Event{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		ProjectID:    projectID,
		SuggestionID: suggestionID,
		UserID:       userID,
		Source:       source,
		Details:      details,
		Severity:     severity,
	}

	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(eventType)),
		zap.String("project_id", projectID.String()),
		zap.String("suggestion_id", suggestionID.String()),
		zap.String("user_id", userID),
		zap.String("severity", severity),
	}

	if severity == "warning" {
		a.logger.Warn("Suggestion review action failed", fields...)
		return
	}
	a.logger.Info("Suggestion review action", fields...)
}
