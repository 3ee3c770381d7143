// Package output renders plain terminal tables and JSON for forge commands
// whose output is meant to be piped or grepped.
package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// TableWriter builds a column-aligned table.
type TableWriter struct {
	writer    *tabwriter.Writer
	headers   []string
	rows      [][]string
	separator string
}

// NewTableTo creates a table writer that outputs to w.
func NewTableTo(w io.Writer) *TableWriter {
	return &TableWriter{
		writer:    tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		separator: "-",
	}
}

// WithHeaders sets the column headers.
func (t *TableWriter) WithHeaders(headers ...string) *TableWriter {
	t.headers = headers
	return t
}

// AddRow adds one row. Cells containing tabs or newlines are flattened.
func (t *TableWriter) AddRow(values ...string) *TableWriter {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = strings.NewReplacer("\t", " ", "\n", " ").Replace(v)
	}
	t.rows = append(t.rows, row)
	return t
}

// Render writes headers, an underline and every row, then flushes.
func (t *TableWriter) Render() error {
	if len(t.headers) > 0 {
		fmt.Fprintln(t.writer, strings.Join(t.headers, "\t"))
		underline := make([]string, len(t.headers))
		for i, h := range t.headers {
			underline[i] = strings.Repeat(t.separator, len(h))
		}
		fmt.Fprintln(t.writer, strings.Join(underline, "\t"))
	}
	for _, row := range t.rows {
		fmt.Fprintln(t.writer, strings.Join(row, "\t"))
	}
	return t.writer.Flush()
}
