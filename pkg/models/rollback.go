package models

import (
	"time"

	"github.com/google/uuid"
)

// ImpactRelationship is a relationship that a rollback would remove.
type ImpactRelationship struct {
	ID           uuid.UUID `json:"id"`
	SourceEntity string    `json:"source_entity,omitempty"`
	TargetEntity string    `json:"target_entity,omitempty"`
	Type         string    `json:"type"`
}

// RollbackImpact describes what reversing a suggestion would do.
type RollbackImpact struct {
	Kind              Operation            `json:"kind"`
	Summary           string               `json:"summary"`
	EntityName        string               `json:"entity_name,omitempty"`
	RelationshipCount int                  `json:"relationship_count,omitempty"`
	Relationships     []ImpactRelationship `json:"relationships,omitempty"`
	Fields            []PreviewChange      `json:"fields,omitempty"`
	Warning           string               `json:"warning,omitempty"`
}

// RollbackCheck is the read-only answer to "can this suggestion be rolled back".
type RollbackCheck struct {
	CanRollback       bool            `json:"can_rollback"`
	Error             string          `json:"error,omitempty"`
	ErrorCode         string          `json:"error_code,omitempty"`
	AlreadyRolledBack bool            `json:"already_rolled_back,omitempty"`
	Impact            *RollbackImpact `json:"impact,omitempty"`
}

// RollbackResult reports a completed (or previously completed) rollback.
type RollbackResult struct {
	SuggestionID         uuid.UUID  `json:"suggestion_id"`
	AlreadyRolledBack    bool       `json:"already_rolled_back"`
	RolledBackAt         *time.Time `json:"rolled_back_at,omitempty"`
	RemovedRelationships int        `json:"removed_relationships,omitempty"`
}
