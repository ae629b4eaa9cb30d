package output

import (
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jmylchreest/listinglens/pkg/listing"
)

// DefaultCellWidth caps table cells.
const DefaultCellWidth = 60

// TableWriter renders records as aligned columns for a terminal. Rows are
// buffered until Flush so every column is sized to its widest cell.
type TableWriter struct {
	tw      *tabwriter.Writer
	columns []string
	width   int
	rows    [][]string
}

// NewTableWriter creates a table writer. width caps each cell, in runes.
func NewTableWriter(w io.Writer, columns []string, width int) *TableWriter {
	return &TableWriter{
		tw:      tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		columns: columns,
		width:   width,
	}
}

// Write buffers one row.
func (w *TableWriter) Write(rec listing.Record) error {
	w.rows = append(w.rows, rec.Row(w.columns))
	return nil
}

// WriteAll buffers one row per record.
func (w *TableWriter) WriteAll(recs []listing.Record) error {
	for _, rec := range recs {
		_ = w.Write(rec)
	}
	return nil
}

// Flush writes the header and buffered rows.
func (w *TableWriter) Flush() error {
	if w.columns == nil {
		return nil
	}
	header := make([]string, len(w.columns))
	for i, c := range w.columns {
		header[i] = strings.ToUpper(c)
	}
	if err := w.line(header); err != nil {
		return err
	}
	for _, row := range w.rows {
		if err := w.line(row); err != nil {
			return err
		}
	}
	w.rows = nil
	w.columns = nil
	return w.tw.Flush()
}

func (w *TableWriter) line(cells []string) error {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = cell(c, w.width)
	}
	_, err := io.WriteString(w.tw, strings.Join(out, "\t")+"\n")
	return err
}

// cell flattens whitespace and tabs and truncates to width runes.
func cell(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width > 0 {
		if rs := []rune(s); len(rs) > width {
			if width > 3 {
				return string(rs[:width-3]) + "..."
			}
			return string(rs[:width])
		}
	}
	return s
}

// Close flushes the writer.
func (w *TableWriter) Close() error {
	return w.Flush()
}
