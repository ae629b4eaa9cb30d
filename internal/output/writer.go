// Package output renders listing records as json, jsonl, yaml, csv or an
// aligned text table.
package output

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/listinglens/pkg/listing"
)

// Format represents output format types.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatCSV   Format = "csv"
	FormatTable Format = "table"
)

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatJSONL, FormatYAML, FormatCSV, FormatTable}

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// FormatForPath guesses a format from a file extension, falling back to def.
func FormatForPath(path string, def Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".yaml", ".yml":
		return FormatYAML
	case ".csv":
		return FormatCSV
	case ".txt":
		return FormatTable
	}
	return def
}

// Writer serializes records.
type Writer interface {
	// Write outputs a single record.
	Write(rec listing.Record) error

	// WriteAll outputs multiple records.
	WriteAll(recs []listing.Record) error

	// Flush ensures all data is written.
	Flush() error

	// Close releases resources.
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	pretty  bool
	indent  string
	columns []string
	width   int
}

// WithPretty enables pretty-printing.
func WithPretty(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.pretty = enabled
	}
}

// WithIndent sets the indentation string.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// WithColumns sets the columns of csv and table output.
func WithColumns(columns ...string) WriterOption {
	return func(c *writerConfig) {
		c.columns = columns
	}
}

// WithCellWidth caps table cells at n runes. Zero disables the cap.
func WithCellWidth(n int) WriterOption {
	return func(c *writerConfig) {
		c.width = n
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{
		pretty:  true,
		indent:  "  ",
		columns: listing.Columns,
		width:   DefaultCellWidth,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatJSON:
		return NewJSONWriter(w, cfg.pretty, cfg.indent), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	case FormatCSV:
		return NewCSVWriter(w, cfg.columns), nil
	case FormatTable:
		return NewTableWriter(w, cfg.columns, cfg.width), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
