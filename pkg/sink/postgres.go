package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/listing"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS listings (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	listing_title TEXT NOT NULL DEFAULT '',
	project_name TEXT NOT NULL DEFAULT '',
	price DOUBLE PRECISION,
	area TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	sq_ft DOUBLE PRECISION,
	bedrooms DOUBLE PRECISION,
	bathrooms DOUBLE PRECISION,
	phone_number TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	processing_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	batch_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_listings_state ON listings(state);
`

const upsertSQL = `
INSERT INTO listings (url, listing_title, project_name, price, area, state,
	sq_ft, bedrooms, bathrooms, phone_number, description,
	processing_time_seconds, batch_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (url) DO UPDATE
SET
	listing_title = EXCLUDED.listing_title,
	project_name = EXCLUDED.project_name,
	price = EXCLUDED.price,
	area = EXCLUDED.area,
	state = EXCLUDED.state,
	sq_ft = EXCLUDED.sq_ft,
	bedrooms = EXCLUDED.bedrooms,
	bathrooms = EXCLUDED.bathrooms,
	phone_number = EXCLUDED.phone_number,
	description = EXCLUDED.description,
	processing_time_seconds = EXCLUDED.processing_time_seconds,
	batch_id = EXCLUDED.batch_id,
	updated_at = NOW()`

// Postgres stores listings in a "listings" table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, pings and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Name returns "postgres".
func (p *Postgres) Name() string { return "postgres" }

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Save upserts the records in one transaction.
func (p *Postgres) Save(ctx context.Context, batchID string, records []listing.Record) (n int, err error) {
	records = exportable(records)
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err = stmt.ExecContext(ctx, rowArgs(batchID, rec)...); err != nil {
			return 0, fmt.Errorf("upsert listing %q: %w", rec.URL, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	logger.DebugContext(ctx, "saved listings", "sink", p.Name(), "count", len(records))
	return len(records), nil
}

// rowArgs returns the upsert arguments in placeholder order.
func rowArgs(batchID string, rec listing.Record) []any {
	return []any{
		rec.URL,
		rec.ListingTitle,
		rec.ProjectName,
		number(rec.Price),
		rec.Area,
		rec.State,
		number(rec.SqFt),
		number(rec.Bedrooms),
		number(rec.Bathrooms),
		rec.PhoneNumber,
		rec.Description,
		rec.ProcessingTimeSeconds,
		batchID,
	}
}
