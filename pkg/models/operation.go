package models

import (
	"strings"

	"github.com/google/uuid"
)

// Operation is the mutation a suggestion proposes.
type Operation string

const (
	OpEntityCreate       Operation = "entity.create"
	OpEntityUpdate       Operation = "entity.update"
	OpEntityDelete       Operation = "entity.delete"
	OpRelationshipCreate Operation = "relationship.create"
	OpRelationshipUpdate Operation = "relationship.update"
	OpRelationshipDelete Operation = "relationship.delete"
	OpMemoryCommit       Operation = "memory.commit"
	OpReplaceSelection   Operation = "replace_selection"
	OpInsertAtCursor     Operation = "insert_at_cursor"
	OpAppendDocument     Operation = "append_document"
)

// TargetType returns the target type the operation mutates, or "" if unknown.
func (o Operation) TargetType() TargetType {
	switch o {
	case OpEntityCreate, OpEntityUpdate, OpEntityDelete:
		return TargetEntity
	case OpRelationshipCreate, OpRelationshipUpdate, OpRelationshipDelete:
		return TargetRelationship
	case OpMemoryCommit:
		return TargetMemory
	case OpReplaceSelection, OpInsertAtCursor, OpAppendDocument:
		return TargetDocument
	default:
		return ""
	}
}

// IsValid returns true if o is a known operation.
func (o Operation) IsValid() bool {
	return o.TargetType() != ""
}

// IsDocument reports whether o edits document text.
func (o Operation) IsDocument() bool {
	return o.TargetType() == TargetDocument
}

// IsCreate reports whether o creates a new record (no existing target to anchor to).
func (o Operation) IsCreate() bool {
	return o == OpEntityCreate || o == OpRelationshipCreate
}

// IsDelete reports whether o removes a record.
func (o Operation) IsDelete() bool {
	return strings.HasSuffix(string(o), ".delete")
}

// EntityFields is the update set of an entity patch. Nil means "not in the patch".
type EntityFields struct {
	Name        *string   `json:"name,omitempty"`
	Kind        *string   `json:"kind,omitempty"`
	Description *string   `json:"description,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	Aliases     *[]string `json:"aliases,omitempty"`
}

// EntityFieldKeys lists settable entity fields in canonical order.
var EntityFieldKeys = []string{"name", "kind", "description", "notes", "aliases"}

// Keys returns the fields present in the set, in canonical order.
func (f EntityFields) Keys() []string {
	var keys []string
	if f.Name != nil {
		keys = append(keys, "name")
	}
	if f.Kind != nil {
		keys = append(keys, "kind")
	}
	if f.Description != nil {
		keys = append(keys, "description")
	}
	if f.Notes != nil {
		keys = append(keys, "notes")
	}
	if f.Aliases != nil {
		keys = append(keys, "aliases")
	}
	return keys
}

// Value returns the proposed value of key as display text.
func (f EntityFields) Value(key string) string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	switch key {
	case "name":
		return deref(f.Name)
	case "kind":
		return deref(f.Kind)
	case "description":
		return deref(f.Description)
	case "notes":
		return deref(f.Notes)
	case "aliases":
		if f.Aliases == nil {
			return ""
		}
		return strings.Join(*f.Aliases, ", ")
	default:
		return ""
	}
}

// EntityPatch targets an entity by name reference (or the suggestion's target ID).
type EntityPatch struct {
	Entity string       `json:"entity,omitempty"`
	Set    EntityFields `json:"set"`
}

// RelationshipFields is the update set of a relationship patch.
type RelationshipFields struct {
	Type        *string `json:"type,omitempty"`
	Description *string `json:"description,omitempty"`
}

// RelationshipFieldKeys lists settable relationship fields in canonical order.
var RelationshipFieldKeys = []string{"type", "description"}

// Keys returns the fields present in the set, in canonical order.
func (f RelationshipFields) Keys() []string {
	var keys []string
	if f.Type != nil {
		keys = append(keys, "type")
	}
	if f.Description != nil {
		keys = append(keys, "description")
	}
	return keys
}

// Value returns the proposed value of key.
func (f RelationshipFields) Value(key string) string {
	switch {
	case key == "type" && f.Type != nil:
		return *f.Type
	case key == "description" && f.Description != nil:
		return *f.Description
	default:
		return ""
	}
}

// RelationshipPatch identifies a relationship by its endpoints and type.
// Source and Target are entity names or UUIDs.
type RelationshipPatch struct {
	Source string             `json:"source"`
	Target string             `json:"target"`
	Type   string             `json:"type"`
	Set    RelationshipFields `json:"set"`
}

// MemoryPatch commits content to long-term memory, or pins an existing memory.
type MemoryPatch struct {
	Content  string     `json:"content"`
	MemoryID *uuid.UUID `json:"memory_id,omitempty"`
}

// CursorContext is the text immediately around the editor cursor when the tool was called.
type CursorContext struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// IsEmpty reports whether no cursor context was captured.
func (c *CursorContext) IsEmpty() bool {
	return c == nil || (c.Before == "" && c.After == "")
}

// DocumentPatch is a text edit against a document.
type DocumentPatch struct {
	Content       string         `json:"content"`
	SelectionText string         `json:"selection_text,omitempty"`
	CursorContext *CursorContext `json:"cursor_context,omitempty"`
}

// Patch is a parsed, normalized proposed patch. Exactly one field is set.
type Patch struct {
	Entity       *EntityPatch       `json:"entity_patch,omitempty"`
	Relationship *RelationshipPatch `json:"relationship_patch,omitempty"`
	Memory       *MemoryPatch       `json:"memory_patch,omitempty"`
	Document     *DocumentPatch     `json:"document_patch,omitempty"`
}
