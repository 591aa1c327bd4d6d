package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// PreviewChange is one field of a graph diff.
type PreviewChange struct {
	Key  string `json:"key"`
	From string `json:"from"`
	To   string `json:"to"`
}

// DiffStats summarizes a unified diff.
type DiffStats struct {
	Hunks        int `json:"hunks"`
	LinesAdded   int `json:"lines_added"`
	LinesDeleted int `json:"lines_deleted"`
}

// TextPreview is a bounded before/after excerpt of a document edit.
type TextPreview struct {
	Before      string    `json:"before"`
	After       string    `json:"after"`
	UnifiedDiff string    `json:"unified_diff,omitempty"`
	Stats       DiffStats `json:"stats"`
	// Anchored is false when the edit location could not be found in the current text.
	Anchored bool            `json:"anchored"`
	RawPatch json.RawMessage `json:"raw_patch,omitempty"`
}

// Preview is the reviewable representation of a suggestion. It is computed on demand.
type Preview struct {
	SuggestionID uuid.UUID       `json:"suggestion_id"`
	Operation    Operation       `json:"operation"`
	TargetType   TargetType      `json:"target_type"`
	TargetID     *uuid.UUID      `json:"target_id,omitempty"`
	TargetName   string          `json:"target_name,omitempty"`
	Changes      []PreviewChange `json:"changes,omitempty"`
	Text         *TextPreview    `json:"text,omitempty"`
	Notes        []string        `json:"notes,omitempty"`
}
