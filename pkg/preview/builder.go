// Package preview builds reviewer-facing before/after views of suggestions.
// Everything here is a pure function of a suggestion and the current target state.
package preview

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// Notes attached to previews.
const (
	NoteMultipleMatches   = "multiple matches found; showing the first occurrence"
	NoteSelectionNotFound = "selection text not found in the current document; showing the proposed patch without a textual anchor"
	NoteCursorUnknown     = "cursor position unknown; showing the content appended to the end of the document"
	NoteTargetNotFound    = "target could not be resolved; showing proposed values only"
	NoteDocumentNotFound  = "document not found; showing the proposed patch"
)

// Options bounds the size of text excerpts.
type Options struct {
	// ContextChars is the context shown on each side of an edit.
	ContextChars int
	// TailChars is the document tail shown for appends.
	TailChars int
}

// DefaultOptions returns the default excerpt bounds.
func DefaultOptions() Options {
	return Options{ContextChars: 160, TailChars: 400}
}

// Target is the current backing-store state a preview is computed against.
// Nil fields mean the record could not be resolved.
type Target struct {
	Entity       *models.Entity
	Relationship *models.Relationship
	Memory       *models.Memory
	Document     *models.Document
	// SourceName and TargetName label relationship endpoints.
	SourceName string
	TargetName string
}

// Build produces the preview of s. patch is the parsed form of s.ProposedPatch.
func Build(s *models.Suggestion, patch *models.Patch, target Target, opts Options) *models.Preview {
	p := &models.Preview{
		SuggestionID: s.ID,
		Operation:    s.Operation,
		TargetType:   s.TargetType,
		TargetID:     s.TargetID,
	}

	switch {
	case patch.Entity != nil:
		buildEntity(p, s.Operation, patch.Entity, target.Entity)
	case patch.Relationship != nil:
		buildRelationship(p, s.Operation, patch.Relationship, target)
	case patch.Memory != nil:
		buildMemory(p, patch.Memory, target.Memory)
	case patch.Document != nil:
		buildDocument(p, s.Operation, patch.Document, target.Document, s.ProposedPatch, opts)
	}

	return p
}

func buildEntity(p *models.Preview, op models.Operation, patch *models.EntityPatch, current *models.Entity) {
	if current != nil {
		p.TargetID = &current.ID
		p.TargetName = current.Name
	} else if patch.Set.Name != nil {
		p.TargetName = *patch.Set.Name
	} else {
		p.TargetName = patch.Entity
	}

	switch op {
	case models.OpEntityCreate:
		p.Changes = EntityChanges(nil, patch.Set)
	case models.OpEntityDelete:
		if current == nil {
			p.Notes = append(p.Notes, NoteTargetNotFound)
			return
		}
		p.Changes = entityRemoval(current)
	default:
		if current == nil {
			p.Notes = append(p.Notes, NoteTargetNotFound)
		}
		p.Changes = EntityChanges(current, patch.Set)
	}
}

// EntityChanges diffs the fields present in set against current. A nil current diffs against empty values.
func EntityChanges(current *models.Entity, set models.EntityFields) []models.PreviewChange {
	keys := set.Keys()
	changes := make([]models.PreviewChange, 0, len(keys))
	for _, key := range keys {
		var from string
		if current != nil {
			from = current.FieldValue(key)
		}
		changes = append(changes, models.PreviewChange{Key: key, From: from, To: set.Value(key)})
	}
	return changes
}

func entityRemoval(current *models.Entity) []models.PreviewChange {
	var changes []models.PreviewChange
	for _, key := range models.EntityFieldKeys {
		if v := current.FieldValue(key); v != "" {
			changes = append(changes, models.PreviewChange{Key: key, From: v})
		}
	}
	return changes
}

func buildRelationship(p *models.Preview, op models.Operation, patch *models.RelationshipPatch, target Target) {
	source, dest := target.SourceName, target.TargetName
	if source == "" {
		source = patch.Source
	}
	if dest == "" {
		dest = patch.Target
	}
	p.TargetName = fmt.Sprintf("%s → %s", source, dest)

	current := target.Relationship
	if current != nil {
		p.TargetID = &current.ID
	}

	switch op {
	case models.OpRelationshipCreate:
		set := patch.Set
		if set.Type == nil && patch.Type != "" {
			t := patch.Type
			set.Type = &t
		}
		p.Changes = RelationshipChanges(nil, set)
	case models.OpRelationshipDelete:
		if current == nil {
			p.Notes = append(p.Notes, NoteTargetNotFound)
			return
		}
		p.Changes = []models.PreviewChange{{Key: "type", From: current.Type}}
		if current.Description != "" {
			p.Changes = append(p.Changes, models.PreviewChange{Key: "description", From: current.Description})
		}
	default:
		if current == nil {
			p.Notes = append(p.Notes, NoteTargetNotFound)
		}
		p.Changes = RelationshipChanges(current, patch.Set)
	}
}

// RelationshipChanges diffs the fields present in set against current.
func RelationshipChanges(current *models.Relationship, set models.RelationshipFields) []models.PreviewChange {
	keys := set.Keys()
	changes := make([]models.PreviewChange, 0, len(keys))
	for _, key := range keys {
		var from string
		if current != nil {
			from = current.FieldValue(key)
		}
		changes = append(changes, models.PreviewChange{Key: key, From: from, To: set.Value(key)})
	}
	return changes
}

func buildMemory(p *models.Preview, patch *models.MemoryPatch, current *models.Memory) {
	var fromContent string
	fromPinned := false
	if current != nil {
		p.TargetID = &current.ID
		fromContent = current.Content
		fromPinned = current.Pinned
	} else if patch.MemoryID != nil {
		p.Notes = append(p.Notes, NoteTargetNotFound)
	}

	toContent := patch.Content
	if toContent == "" {
		toContent = fromContent
	}
	p.Changes = []models.PreviewChange{
		{Key: "content", From: fromContent, To: toContent},
		{Key: "pinned", From: strconv.FormatBool(fromPinned), To: "true"},
	}
}

func buildDocument(p *models.Preview, op models.Operation, patch *models.DocumentPatch, doc *models.Document, raw json.RawMessage, opts Options) {
	if doc == nil {
		p.Notes = append(p.Notes, NoteDocumentNotFound)
		p.Text = &models.TextPreview{After: patch.Content, RawPatch: raw}
		return
	}
	p.TargetID = &doc.ID
	p.TargetName = doc.Title

	var text *models.TextPreview
	var notes []string
	switch op {
	case models.OpReplaceSelection:
		text, notes = ReplaceSelection(doc.Content, patch, raw, opts)
	case models.OpInsertAtCursor:
		text, notes = InsertAtCursor(doc.Content, patch, opts)
	default:
		text = AppendDocument(doc.Content, patch, opts)
	}
	p.Text = text
	p.Notes = append(p.Notes, notes...)
}

// ReplaceSelection previews replacing the first occurrence of the selection.
// The document itself is never modified.
func ReplaceSelection(doc string, patch *models.DocumentPatch, raw json.RawMessage, opts Options) (*models.TextPreview, []string) {
	sel := patch.SelectionText
	idx := -1
	if sel != "" {
		idx = strings.Index(doc, sel)
	}
	if idx < 0 {
		return &models.TextPreview{After: patch.Content, RawPatch: raw}, []string{NoteSelectionNotFound}
	}

	var notes []string
	if strings.Count(doc, sel) > 1 {
		notes = append(notes, NoteMultipleMatches)
	}

	end := idx + len(sel)
	from, to := window(doc, idx, end, opts.ContextChars)
	prefix, suffix := marks(doc, from, to)

	return withDiff(&models.TextPreview{
		Before:   prefix + doc[from:to] + suffix,
		After:    prefix + doc[from:idx] + patch.Content + doc[end:to] + suffix,
		Anchored: true,
	}), notes
}

// InsertAtCursor previews inserting content at the stored cursor context, falling back
// to an append excerpt when the cursor cannot be located.
func InsertAtCursor(doc string, patch *models.DocumentPatch, opts Options) (*models.TextPreview, []string) {
	pos := CursorOffset(doc, patch.CursorContext)
	if pos < 0 {
		text := AppendDocument(doc, patch, opts)
		text.Anchored = false
		return text, []string{NoteCursorUnknown}
	}

	from, to := window(doc, pos, pos, opts.ContextChars)
	prefix, suffix := marks(doc, from, to)

	return withDiff(&models.TextPreview{
		Before:   prefix + doc[from:to] + suffix,
		After:    prefix + doc[from:pos] + patch.Content + doc[pos:to] + suffix,
		Anchored: true,
	}), nil
}

// AppendDocument previews appending content after a bounded tail of the document.
func AppendDocument(doc string, patch *models.DocumentPatch, opts Options) *models.TextPreview {
	before := tail(doc, opts.TailChars)
	return withDiff(&models.TextPreview{
		Before:   before,
		After:    ApplyAppend(before, patch.Content),
		Anchored: true,
	})
}

func withDiff(t *models.TextPreview) *models.TextPreview {
	t.UnifiedDiff, t.Stats = UnifiedDiff(t.Before, t.After)
	return t
}
