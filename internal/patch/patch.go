// Package patch renders converter changes as diff-match-patch text for
// review.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Change is one file's raw input and canonical output.
type Change struct {
	File   string
	Before string // raw input text
	After  string // canonical output text
}

// GenerateDiff converts each change into a line-level patch suitable for
// writing to --patch-out. Raw JSON is re-indented before diffing so only
// semantic edits show. Changes whose input is empty are skipped with a
// warning written to w (may be nil).
func GenerateDiff(changes []Change, w io.Writer) string {
	if len(changes) == 0 {
		return ""
	}

	dmp := diffmatchpatch.New()
	var out strings.Builder

	for _, c := range changes {
		if strings.TrimSpace(c.Before) == "" {
			if w != nil {
				fmt.Fprintf(w, "WARN: no input text for %s, patch skipped\n", c.File)
			}
			continue
		}
		before := normalize(indent(c.Before))
		after := normalize(c.After)
		if before == after {
			continue
		}

		a, b, lines := dmp.DiffLinesToChars(before, after)
		diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
		patchList := dmp.PatchMake(before, diffs)
		patchText := dmp.PatchToText(patchList)
		if patchText == "" {
			continue
		}

		out.WriteString(fmt.Sprintf("# patch for %s\n", c.File))
		out.WriteString(patchText)
		out.WriteString("\n")
	}

	return out.String()
}

// indent re-indents s when it is valid JSON and returns it unchanged
// otherwise.
func indent(s string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))), "", "  "); err != nil {
		return s
	}
	buf.WriteByte('\n')
	return buf.String()
}

// normalize trims trailing whitespace from each line and converts CRLF to LF.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
