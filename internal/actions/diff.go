package actions

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffPreview renders a line-oriented +/- preview of an edit for the
// confirmation prompt, capped at maxLines.
func diffPreview(before, after string, maxLines int) string {
	if before == after {
		return "(no change)"
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []string
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffEqual:
			// Context lines drown out the edit in a terminal prompt.
			continue
		}
		for _, line := range splitLines(d.Text) {
			lines = append(lines, prefix+line)
		}
	}

	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "(diff truncated)")
	}
	return strings.Join(lines, "\n")
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
