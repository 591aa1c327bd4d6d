package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityKindCore marks canonical story entities; edits to them are graded core risk.
const EntityKindCore = "core"

// Entity is a node in the story knowledge graph.
type Entity struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Notes       string    `json:"notes"`
	Aliases     []string  `json:"aliases"`
	Revision    int64     `json:"revision"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FieldValue returns the current value of a settable field as display text.
func (e *Entity) FieldValue(key string) string {
	switch key {
	case "name":
		return e.Name
	case "kind":
		return e.Kind
	case "description":
		return e.Description
	case "notes":
		return e.Notes
	case "aliases":
		return strings.Join(e.Aliases, ", ")
	default:
		return ""
	}
}

// WithFields returns a copy of e with the present fields of f applied.
func (e Entity) WithFields(f EntityFields) Entity {
	if f.Name != nil {
		e.Name = *f.Name
	}
	if f.Kind != nil {
		e.Kind = *f.Kind
	}
	if f.Description != nil {
		e.Description = *f.Description
	}
	if f.Notes != nil {
		e.Notes = *f.Notes
	}
	if f.Aliases != nil {
		e.Aliases = append([]string(nil), (*f.Aliases)...)
	}
	return e
}

// MatchesRef reports whether ref names e by canonical name or alias (case-insensitive).
func (e *Entity) MatchesRef(ref string) bool {
	if strings.EqualFold(e.Name, ref) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.EqualFold(a, ref) {
			return true
		}
	}
	return false
}

// Relationship is a typed edge between two entities.
type Relationship struct {
	ID             uuid.UUID `json:"id"`
	ProjectID      uuid.UUID `json:"project_id"`
	SourceEntityID uuid.UUID `json:"source_entity_id"`
	TargetEntityID uuid.UUID `json:"target_entity_id"`
	Type           string    `json:"type"`
	Description    string    `json:"description"`
	Revision       int64     `json:"revision"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Populated by reads that join entity names; not stored.
	SourceName string `json:"source_name,omitempty"`
	TargetName string `json:"target_name,omitempty"`
}

// FieldValue returns the current value of a settable field.
func (r *Relationship) FieldValue(key string) string {
	switch key {
	case "type":
		return r.Type
	case "description":
		return r.Description
	default:
		return ""
	}
}

// WithFields returns a copy of r with the present fields of f applied.
func (r Relationship) WithFields(f RelationshipFields) Relationship {
	if f.Type != nil {
		r.Type = *f.Type
	}
	if f.Description != nil {
		r.Description = *f.Description
	}
	return r
}

// Memory is a long-term memory item. Pinned memories are included in agent context.
type Memory struct {
	ID                 uuid.UUID  `json:"id"`
	ProjectID          uuid.UUID  `json:"project_id"`
	Content            string     `json:"content"`
	Pinned             bool       `json:"pinned"`
	SourceSuggestionID *uuid.UUID `json:"source_suggestion_id,omitempty"`
	Revision           int64      `json:"revision"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Document is an editable text document.
type Document struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetState is the version marker of a backing-store record.
type TargetState struct {
	Type      TargetType `json:"type"`
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name,omitempty"`
	Revision  int64      `json:"revision"`
	UpdatedAt time.Time  `json:"updated_at"`
}
