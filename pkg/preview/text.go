package preview

import (
	"strings"

	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// ApplyReplace replaces the first occurrence of selection with content.
// Returns the new text and the number of occurrences found (0 means unchanged).
func ApplyReplace(doc, selection, content string) (string, int) {
	if selection == "" {
		return doc, 0
	}
	n := strings.Count(doc, selection)
	if n == 0 {
		return doc, 0
	}
	return strings.Replace(doc, selection, content, 1), n
}

// ApplyAppend appends content on a new line.
func ApplyAppend(doc, content string) string {
	if doc == "" || strings.HasSuffix(doc, "\n") {
		return doc + content
	}
	return doc + "\n" + content
}

// CursorOffset locates the insertion point described by cc, or -1 if it cannot be found.
// With both sides present the pair must be adjacent; otherwise the single side is used.
func CursorOffset(doc string, cc *models.CursorContext) int {
	if cc.IsEmpty() {
		return -1
	}
	switch {
	case cc.Before != "" && cc.After != "":
		if i := strings.Index(doc, cc.Before+cc.After); i >= 0 {
			return i + len(cc.Before)
		}
		return -1
	case cc.Before != "":
		if i := strings.Index(doc, cc.Before); i >= 0 {
			return i + len(cc.Before)
		}
		return -1
	default:
		return strings.Index(doc, cc.After)
	}
}

// ApplyInsert inserts content at the cursor. When the cursor cannot be located the
// content is appended and anchored is false.
func ApplyInsert(doc string, cc *models.CursorContext, content string) (string, bool) {
	pos := CursorOffset(doc, cc)
	if pos < 0 {
		return ApplyAppend(doc, content), false
	}
	return doc[:pos] + content + doc[pos:], true
}

// ApplyDocumentPatch computes the new document text for a document operation.
// anchored is false when the edit location was not found; a replace that is not
// anchored leaves the text unchanged.
func ApplyDocumentPatch(op models.Operation, doc string, patch *models.DocumentPatch) (text string, anchored bool, matches int) {
	switch op {
	case models.OpReplaceSelection:
		out, n := ApplyReplace(doc, patch.SelectionText, patch.Content)
		return out, n > 0, n
	case models.OpInsertAtCursor:
		out, ok := ApplyInsert(doc, patch.CursorContext, patch.Content)
		return out, ok, boolToInt(ok)
	default:
		return ApplyAppend(doc, patch.Content), true, 1
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
