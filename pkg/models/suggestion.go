package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TargetType is the kind of backing-store record a suggestion mutates.
type TargetType string

const (
	TargetDocument     TargetType = "document"
	TargetEntity       TargetType = "entity"
	TargetRelationship TargetType = "relationship"
	TargetMemory       TargetType = "memory"
)

// IsValid returns true if t is a known target type.
func (t TargetType) IsValid() bool {
	switch t {
	case TargetDocument, TargetEntity, TargetRelationship, TargetMemory:
		return true
	default:
		return false
	}
}

// SuggestionStatus is the review state. It only advances:
// proposed -> accepted|rejected, and accepted -> resolved through rollback.
type SuggestionStatus string

const (
	StatusProposed SuggestionStatus = "proposed"
	StatusAccepted SuggestionStatus = "accepted"
	StatusRejected SuggestionStatus = "rejected"
	StatusResolved SuggestionStatus = "resolved"

	// StatusAll is a list filter, never stored.
	StatusAll SuggestionStatus = "all"
)

// IsValidFilter returns true if s can be used to filter a list.
func (s SuggestionStatus) IsValidFilter() bool {
	switch s {
	case StatusProposed, StatusAccepted, StatusRejected, StatusResolved, StatusAll:
		return true
	default:
		return false
	}
}

// Resolution records how a suggestion left (or failed to leave) the proposed state.
type Resolution string

const (
	ResolutionExecuted        Resolution = "executed"
	ResolutionUserRejected    Resolution = "user_rejected"
	ResolutionExecutionFailed Resolution = "execution_failed"
	ResolutionRolledBack      Resolution = "rolled_back"
	ResolutionAppliedInEditor Resolution = "applied_in_editor"
)

// IsTerminal reports whether the resolution ends review.
// execution_failed is recorded on a still-proposed suggestion so it can be approved again.
func (r Resolution) IsTerminal() bool {
	return r != "" && r != ResolutionExecutionFailed
}

// RiskLevel grades how much damage an unreviewed suggestion could do.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
	RiskCore RiskLevel = "core"
)

// IsValid returns true if r is a known risk level.
func (r RiskLevel) IsValid() bool {
	return r == RiskLow || r == RiskHigh || r == RiskCore
}

// Approval reason codes attached to a suggestion when it is created.
const (
	ReasonAgentInitiated         = "agent_initiated"
	ReasonDestructiveOperation   = "destructive_operation"
	ReasonModifiesExistingRecord = "modifies_existing_record"
	ReasonCoreEntity             = "core_entity"
	ReasonDocumentWrite          = "document_write"
	ReasonWholeDocumentReplace   = "whole_document_replacement"
	ReasonRelationshipRewire     = "relationship_rewire"
	ReasonLongTermMemory         = "long_term_memory"
)

// Defaults applied when the producer omits them.
const (
	DefaultApprovalType = "human_review"
	DefaultActorName    = "assistant"
)

// ActorType identifies who proposed a suggestion.
type ActorType string

const (
	ActorAgent ActorType = "agent"
	ActorUser  ActorType = "user"
)

// Suggestion is a proposed mutation awaiting (or past) human review.
// Rows are never deleted; a suggestion is its own audit record.
type Suggestion struct {
	ID         uuid.UUID  `json:"id"`
	ProjectID  uuid.UUID  `json:"project_id"`
	TargetType TargetType `json:"target_type"`
	TargetID   *uuid.UUID `json:"target_id,omitempty"`
	Operation  Operation  `json:"operation"`

	ProposedPatch   json.RawMessage `json:"proposed_patch"`
	NormalizedPatch json.RawMessage `json:"normalized_patch,omitempty"`
	// BaseRevision is the target revision the review is anchored to.
	BaseRevision *int64 `json:"base_revision,omitempty"`

	Status          SuggestionStatus `json:"status"`
	Resolution      *Resolution      `json:"resolution,omitempty"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	ApprovalType    string           `json:"approval_type"`
	ApprovalReasons []string         `json:"approval_reasons"`

	ActorType  ActorType `json:"actor_type"`
	ActorName  string    `json:"actor_name"`
	ToolCallID string    `json:"tool_call_id"`
	ToolName   string    `json:"tool_name"`
	StreamID   *string   `json:"stream_id,omitempty"`
	ThreadID   *string   `json:"thread_id,omitempty"`

	Preflight    *Preflight       `json:"preflight,omitempty"`
	Result       *ExecutionResult `json:"result,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	ReviewedBy   *string          `json:"reviewed_by,omitempty"`
	RolledBackBy *string          `json:"rolled_back_by,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// CurrentResolution returns the resolution or "" when none is recorded.
func (s *Suggestion) CurrentResolution() Resolution {
	if s.Resolution == nil {
		return ""
	}
	return *s.Resolution
}

// IsResolved reports whether a terminal resolution has been recorded.
func (s *Suggestion) IsResolved() bool {
	return s.CurrentResolution().IsTerminal()
}

// PreflightStatus is the outcome of validating a suggestion against live state.
type PreflightStatus string

const (
	PreflightOK       PreflightStatus = "ok"
	PreflightInvalid  PreflightStatus = "invalid"
	PreflightConflict PreflightStatus = "conflict"
)

// Preflight is the cached result of the last validation pass.
type Preflight struct {
	Status           PreflightStatus `json:"status"`
	Errors           []string        `json:"errors"`
	Warnings         []string        `json:"warnings"`
	ResolvedTargetID *uuid.UUID      `json:"resolved_target_id,omitempty"`
	// TargetRevision and TargetUpdatedAt are what the validator observed.
	TargetRevision  *int64     `json:"target_revision,omitempty"`
	TargetUpdatedAt *time.Time `json:"target_updated_at,omitempty"`
	ComputedAt      time.Time  `json:"computed_at"`
}

// IsCurrent reports whether the preflight was computed no earlier than the
// target's last observed mutation. A stale preflight must be recomputed.
func (p *Preflight) IsCurrent(targetUpdatedAt time.Time) bool {
	return p != nil && !p.ComputedAt.Before(targetUpdatedAt)
}

// ExecutionResult is stored on an executed suggestion.
type ExecutionResult struct {
	TargetID *uuid.UUID          `json:"target_id,omitempty"`
	Revision int64               `json:"revision,omitempty"`
	Summary  string              `json:"summary"`
	Rollback *RollbackDescriptor `json:"rollback,omitempty"`
}

// RollbackDescriptor captures everything needed to invert an executed mutation.
type RollbackDescriptor struct {
	Kind     Operation `json:"kind"`
	TargetID uuid.UUID `json:"target_id"`
	// PostRevision is the target revision written by the approval.
	// Any other revision at rollback time means the target was modified since.
	PostRevision int64      `json:"post_revision"`
	PriorState   PriorState `json:"prior_state"`
}

// PriorState is the pre-approval snapshot. Only the field matching Kind is set.
type PriorState struct {
	Entity        *Entity        `json:"entity,omitempty"`
	Relationship  *Relationship  `json:"relationship,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Memory        *Memory        `json:"memory,omitempty"`
	Document      *string        `json:"document_content,omitempty"`
}

// NewSuggestionRequest is the producer contract from the agent pipeline.
type NewSuggestionRequest struct {
	ToolCallID      string          `json:"tool_call_id" validate:"required,max=200"`
	ToolName        string          `json:"tool_name" validate:"required,max=200"`
	TargetType      TargetType      `json:"target_type" validate:"required,oneof=document entity relationship memory"`
	TargetID        *uuid.UUID      `json:"target_id,omitempty"`
	Operation       Operation       `json:"operation" validate:"required"`
	ProposedPatch   json.RawMessage `json:"proposed_patch" validate:"required"`
	ApprovalType    string          `json:"approval_type,omitempty" validate:"omitempty,max=100"`
	RiskLevel       RiskLevel       `json:"risk_level,omitempty" validate:"omitempty,oneof=low high core"`
	ApprovalReasons []string        `json:"approval_reasons,omitempty" validate:"omitempty,dive,required,max=100"`
	ActorType       ActorType       `json:"actor_type,omitempty" validate:"omitempty,oneof=agent user"`
	ActorName       string          `json:"actor_name,omitempty" validate:"omitempty,max=200"`
	StreamID        *string         `json:"stream_id,omitempty"`
	ThreadID        *string         `json:"thread_id,omitempty"`
}

// SuggestionCursor is the decoded keyset position: the last item of the previous page.
type SuggestionCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// SuggestionFilter selects a page of suggestions.
type SuggestionFilter struct {
	Status SuggestionStatus
	After  *SuggestionCursor
	Limit  int
}

// SuggestionPage is one page of a listing.
type SuggestionPage struct {
	Items      []*Suggestion `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// StatusCounts maps each stored status to its number of suggestions.
type StatusCounts map[SuggestionStatus]int

// Decision is a reviewer verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid returns true if d is approve or reject.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// OutcomeError is the per-suggestion failure inside a batch decision.
type OutcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecisionOutcome is the result of applying a decision to one suggestion.
type DecisionOutcome struct {
	SuggestionID    uuid.UUID        `json:"suggestion_id"`
	Status          SuggestionStatus `json:"status,omitempty"`
	Resolution      Resolution       `json:"resolution,omitempty"`
	AlreadyResolved bool             `json:"already_resolved,omitempty"`
	Error           *OutcomeError    `json:"error,omitempty"`
	Result          *ExecutionResult `json:"result,omitempty"`
	// EditorCommand is set when an approved document write should be reflected in an open editor.
	EditorCommand *EditorCommand `json:"editor_command,omitempty"`
}

// OK reports whether the decision took effect or was already in effect.
func (o DecisionOutcome) OK() bool {
	return o.Error == nil
}

// EditorCommand tells an editor client how to mirror an executed document write.
type EditorCommand struct {
	DocumentID    uuid.UUID `json:"document_id"`
	Operation     Operation `json:"operation"`
	Content       string    `json:"content"`
	SelectionText string    `json:"selection_text,omitempty"`
	Revision      int64     `json:"revision"`
}
