package preview

import (
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
)

// UnifiedDiff renders a line diff of before -> after and summarizes its hunks.
// Identical inputs produce an empty diff.
func UnifiedDiff(before, after string) (string, models.DiffStats) {
	if before == after {
		return "", models.DiffStats{}
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "current",
		ToFile:   "proposed",
		Context:  2,
	})
	if err != nil || text == "" {
		return "", models.DiffStats{}
	}

	return text, diffStats(text)
}

func diffStats(text string) models.DiffStats {
	fd, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return models.DiffStats{}
	}

	st := fd.Stat()
	// go-diff folds paired -/+ lines into Changed.
	return models.DiffStats{
		Hunks:        len(fd.Hunks),
		LinesAdded:   int(st.Added + st.Changed),
		LinesDeleted: int(st.Deleted + st.Changed),
	}
}
