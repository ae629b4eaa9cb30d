package output

import (
	"encoding/csv"
	"io"

	"github.com/jmylchreest/listinglens/pkg/listing"
)

// CSVWriter writes a header row followed by one row per record. Empty
// cells are written as "N/A".
type CSVWriter struct {
	w       *csv.Writer
	columns []string
	header  bool
}

// NewCSVWriter creates a CSV writer for columns.
func NewCSVWriter(w io.Writer, columns []string) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), columns: columns}
}

func (w *CSVWriter) writeHeader() error {
	if w.header {
		return nil
	}
	w.header = true
	return w.w.Write(w.columns)
}

// Write writes one row.
func (w *CSVWriter) Write(rec listing.Record) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.w.Write(rec.Row(w.columns))
}

// WriteAll writes one row per record.
func (w *CSVWriter) WriteAll(recs []listing.Record) error {
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes the header if nothing was written yet and flushes.
func (w *CSVWriter) Flush() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.w.Flush()
	return w.w.Error()
}

// Close flushes the writer.
func (w *CSVWriter) Close() error {
	return w.Flush()
}
