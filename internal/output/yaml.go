package output

import (
	"bufio"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/listinglens/pkg/listing"
)

// YAMLWriter writes records as one YAML sequence.
type YAMLWriter struct {
	w     *bufio.Writer
	items []listing.Record
	done  bool
}

// NewYAMLWriter creates a YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	return &YAMLWriter{
		w:     bufio.NewWriter(w),
		items: make([]listing.Record, 0),
	}
}

// Write buffers a single record.
func (w *YAMLWriter) Write(rec listing.Record) error {
	w.items = append(w.items, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *YAMLWriter) WriteAll(recs []listing.Record) error {
	w.items = append(w.items, recs...)
	return nil
}

// Flush writes the buffered records.
func (w *YAMLWriter) Flush() error {
	if w.done {
		return w.w.Flush()
	}

	encoder := yaml.NewEncoder(w.w)
	encoder.SetIndent(2)
	if err := encoder.Encode(w.items); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}
	w.done = true

	return w.w.Flush()
}

// Close flushes the writer.
func (w *YAMLWriter) Close() error {
	return w.Flush()
}
