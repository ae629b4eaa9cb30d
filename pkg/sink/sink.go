// Package sink persists successful listing records to a database. Records
// are keyed by url; saving a url again replaces the stored listing.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/listinglens/pkg/listing"
)

// ErrUnsupported is returned by Open for an unknown DSN scheme.
var ErrUnsupported = errors.New("unsupported sink")

// Sink stores records.
type Sink interface {
	// Save stores the successful records and returns how many were written.
	// Failed records and records without a url are skipped.
	Save(ctx context.Context, batchID string, records []listing.Record) (int, error)
	Close() error
	Name() string
}

// Open connects to the sink named by dsn. postgres:// and postgresql://
// open a PostgreSQL sink, mongodb:// and mongodb+srv:// a MongoDB sink.
func Open(ctx context.Context, dsn string) (Sink, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrUnsupported, dsn)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		pg, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "mongodb", "mongodb+srv":
		m, err := OpenMongo(ctx, dsn, database(rest))
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, scheme)
	}
}

// DefaultDatabase is used when a MongoDB dsn names no database.
const DefaultDatabase = "listinglens"

// database takes the database name from the path of a dsn without its
// scheme. MongoDB URIs may list several hosts, so this does not use
// net/url.
func database(rest string) string {
	rest, _, _ = strings.Cut(rest, "?")
	_, path, ok := strings.Cut(rest, "/")
	if !ok {
		return DefaultDatabase
	}
	if name := strings.Trim(path, "/"); name != "" {
		return name
	}
	return DefaultDatabase
}

func exportable(records []listing.Record) []listing.Record {
	var out []listing.Record
	for _, rec := range records {
		if rec.Failed() || rec.URL == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// number returns the numeric value of n, or nil when it is missing or was
// not a number.
func number(n *listing.Number) any {
	if n == nil || n.Text != "" {
		return nil
	}
	return n.Value
}
