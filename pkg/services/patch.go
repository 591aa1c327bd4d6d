package services

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-suggest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-suggest/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// ParsePatch decodes a proposed patch for op into its typed form.
// Scalar values sent as numbers or booleans are coerced to strings; graph fields are trimmed.
// Structural problems are reported as validation errors.
func ParsePatch(op models.Operation, raw json.RawMessage) (*models.Patch, error) {
	if !op.IsValid() {
		return nil, apperrors.Validation("unsupported operation %q", op)
	}

	obj, err := jsonutil.DecodeObject(raw)
	if err != nil {
		return nil, apperrors.Validation("proposed_patch: %s", err.Error())
	}

	switch op.TargetType() {
	case models.TargetEntity:
		p, err := parseEntityPatch(op, obj)
		if err != nil {
			return nil, err
		}
		return &models.Patch{Entity: p}, nil
	case models.TargetRelationship:
		p, err := parseRelationshipPatch(op, obj)
		if err != nil {
			return nil, err
		}
		return &models.Patch{Relationship: p}, nil
	case models.TargetMemory:
		p, err := parseMemoryPatch(obj)
		if err != nil {
			return nil, err
		}
		return &models.Patch{Memory: p}, nil
	default:
		p, err := parseDocumentPatch(op, obj)
		if err != nil {
			return nil, err
		}
		return &models.Patch{Document: p}, nil
	}
}

// NormalizePatch returns the canonical JSON form of a parsed patch.
func NormalizePatch(p *models.Patch) (json.RawMessage, error) {
	var v any
	switch {
	case p.Entity != nil:
		v = p.Entity
	case p.Relationship != nil:
		v = p.Relationship
	case p.Memory != nil:
		v = p.Memory
	case p.Document != nil:
		v = p.Document
	default:
		return nil, fmt.Errorf("empty patch")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal normalized patch: %w", err)
	}
	return data, nil
}

// suggestionPatch parses the stored patch of s, preferring the normalized form.
func suggestionPatch(s *models.Suggestion) (*models.Patch, error) {
	raw := s.NormalizedPatch
	if len(raw) == 0 {
		raw = s.ProposedPatch
	}
	return ParsePatch(s.Operation, raw)
}

func parseEntityPatch(op models.Operation, obj map[string]json.RawMessage) (*models.EntityPatch, error) {
	if err := rejectUnknown(obj, "", "entity", "set"); err != nil {
		return nil, err
	}

	p := &models.EntityPatch{Entity: trimmed(obj["entity"])}

	if raw, ok := obj["set"]; ok && string(raw) != "null" {
		set, err := jsonutil.DecodeObject(raw)
		if err != nil {
			return nil, apperrors.Validation("set: %s", err.Error())
		}
		if err := rejectUnknown(set, "set.", models.EntityFieldKeys...); err != nil {
			return nil, err
		}
		p.Set = models.EntityFields{
			Name:        optionalString(set, "name"),
			Kind:        optionalString(set, "kind"),
			Description: optionalString(set, "description"),
			Notes:       optionalString(set, "notes"),
		}
		if raw, ok := set["aliases"]; ok {
			aliases := jsonutil.FlexibleStringSlice(raw)
			if aliases == nil {
				aliases = []string{}
			}
			p.Set.Aliases = &aliases
		}
	}

	switch op {
	case models.OpEntityCreate:
		if p.Set.Name == nil || *p.Set.Name == "" {
			return nil, apperrors.Validation("set.name is required to create an entity")
		}
	case models.OpEntityUpdate:
		if len(p.Set.Keys()) == 0 {
			return nil, apperrors.Validation("set must contain at least one field to update")
		}
		if p.Set.Name != nil && *p.Set.Name == "" {
			return nil, apperrors.Validation("set.name cannot be empty")
		}
	case models.OpEntityDelete:
		if len(p.Set.Keys()) > 0 {
			return nil, apperrors.Validation("set is not allowed on %s", op)
		}
	}
	return p, nil
}

func parseRelationshipPatch(op models.Operation, obj map[string]json.RawMessage) (*models.RelationshipPatch, error) {
	if err := rejectUnknown(obj, "", "source", "target", "type", "set"); err != nil {
		return nil, err
	}

	p := &models.RelationshipPatch{
		Source: trimmed(obj["source"]),
		Target: trimmed(obj["target"]),
		Type:   trimmed(obj["type"]),
	}

	if raw, ok := obj["set"]; ok && string(raw) != "null" {
		set, err := jsonutil.DecodeObject(raw)
		if err != nil {
			return nil, apperrors.Validation("set: %s", err.Error())
		}
		if err := rejectUnknown(set, "set.", models.RelationshipFieldKeys...); err != nil {
			return nil, err
		}
		p.Set = models.RelationshipFields{
			Type:        optionalString(set, "type"),
			Description: optionalString(set, "description"),
		}
	}

	switch op {
	case models.OpRelationshipCreate:
		if p.Source == "" || p.Target == "" {
			return nil, apperrors.Validation("source and target are required to create a relationship")
		}
		if p.Type == "" && p.Set.Type != nil {
			p.Type = *p.Set.Type
		}
		if p.Type == "" {
			return nil, apperrors.Validation("type is required to create a relationship")
		}
	case models.OpRelationshipUpdate:
		if len(p.Set.Keys()) == 0 {
			return nil, apperrors.Validation("set must contain at least one field to update")
		}
		if p.Set.Type != nil && *p.Set.Type == "" {
			return nil, apperrors.Validation("set.type cannot be empty")
		}
	}
	return p, nil
}

func parseMemoryPatch(obj map[string]json.RawMessage) (*models.MemoryPatch, error) {
	if err := rejectUnknown(obj, "", "content", "memory_id"); err != nil {
		return nil, err
	}

	p := &models.MemoryPatch{Content: trimmed(obj["content"])}

	if ref := trimmed(obj["memory_id"]); ref != "" {
		id, err := uuid.Parse(ref)
		if err != nil {
			return nil, apperrors.Validation("memory_id %q is not a valid UUID", ref)
		}
		p.MemoryID = &id
	}

	if p.Content == "" && p.MemoryID == nil {
		return nil, apperrors.Validation("content is required to commit a memory")
	}
	return p, nil
}

func parseDocumentPatch(op models.Operation, obj map[string]json.RawMessage) (*models.DocumentPatch, error) {
	if err := rejectUnknown(obj, "", "content", "selection_text", "cursor_context"); err != nil {
		return nil, err
	}

	// Document text is kept verbatim: whitespace is content.
	p := &models.DocumentPatch{
		Content:       jsonutil.FlexibleStringValue(obj["content"]),
		SelectionText: jsonutil.FlexibleStringValue(obj["selection_text"]),
	}

	if raw, ok := obj["cursor_context"]; ok && string(raw) != "null" {
		cc, err := jsonutil.DecodeObject(raw)
		if err != nil {
			return nil, apperrors.Validation("cursor_context: %s", err.Error())
		}
		if err := rejectUnknown(cc, "cursor_context.", "before", "after"); err != nil {
			return nil, err
		}
		p.CursorContext = &models.CursorContext{
			Before: jsonutil.FlexibleStringValue(cc["before"]),
			After:  jsonutil.FlexibleStringValue(cc["after"]),
		}
		if p.CursorContext.IsEmpty() {
			p.CursorContext = nil
		}
	}

	switch op {
	case models.OpReplaceSelection:
		if p.SelectionText == "" {
			return nil, apperrors.Validation("selection_text is required for %s", op)
		}
	default:
		if p.Content == "" {
			return nil, apperrors.Validation("content is required for %s", op)
		}
	}
	return p, nil
}

// rejectUnknown fails on keys outside allowed. Keys are reported in sorted order.
func rejectUnknown(obj map[string]json.RawMessage, prefix string, allowed ...string) error {
	var unknown []string
	for key := range obj {
		if !slices.Contains(allowed, key) {
			unknown = append(unknown, prefix+key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return apperrors.Validation("unknown field(s): %s", strings.Join(unknown, ", "))
}

func trimmed(raw json.RawMessage) string {
	return strings.TrimSpace(jsonutil.FlexibleStringValue(raw))
}

func optionalString(obj map[string]json.RawMessage, key string) *string {
	raw, ok := obj[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	s := trimmed(raw)
	return &s
}
