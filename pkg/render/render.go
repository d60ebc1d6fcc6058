// Package render formats command output for cmd/blockvault: a plain
// column table by default, or JSON when the caller asks for
// machine-readable output.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Table prints rows under header as fixed-width columns, sizing each
// column to the widest of its header and its cells.
func Table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	fmt.Fprintln(w, formatRow(header, widths))
	for _, row := range rows {
		fmt.Fprintln(w, formatRow(row, widths))
	}
}

func formatRow(cells []string, widths []int) string {
	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%-*s", widths[i], cell)
	}
	return strings.TrimRight(b.String(), " ")
}

// JSON marshals v as indented JSON to w.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
