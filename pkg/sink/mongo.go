package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/listing"
)

// Mongo stores listings in a "listings" collection, one document per url.
type Mongo struct {
	client   *mongo.Client
	listings *mongo.Collection
}

// OpenMongo connects, pings and ensures the url index exists.
func OpenMongo(ctx context.Context, uri, db string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	m := &Mongo{client: client, listings: client.Database(db).Collection("listings")}
	_, err = m.listings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		logger.Warn("creating url index", "error", err)
	}
	return m, nil
}

// Name returns "mongodb".
func (m *Mongo) Name() string { return "mongodb" }

// Close disconnects the client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// Save replaces or inserts one document per record.
func (m *Mongo) Save(ctx context.Context, batchID string, records []listing.Record) (int, error) {
	records = exportable(records)
	if len(records) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"url": rec.URL}).
			SetReplacement(document(batchID, rec, now)).
			SetUpsert(true))
	}

	res, err := m.listings.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("write listings: %w", err)
	}
	n := int(res.UpsertedCount + res.MatchedCount)
	logger.DebugContext(ctx, "saved listings", "sink", m.Name(), "count", n)
	return n, nil
}

// document renders rec as a listings document.
func document(batchID string, rec listing.Record, now time.Time) bson.D {
	return bson.D{
		{Key: "url", Value: rec.URL},
		{Key: "listing_title", Value: rec.ListingTitle},
		{Key: "project_name", Value: rec.ProjectName},
		{Key: "price", Value: number(rec.Price)},
		{Key: "area", Value: rec.Area},
		{Key: "state", Value: rec.State},
		{Key: "sq_ft", Value: number(rec.SqFt)},
		{Key: "bedrooms", Value: number(rec.Bedrooms)},
		{Key: "bathrooms", Value: number(rec.Bathrooms)},
		{Key: "phone_number", Value: rec.PhoneNumber},
		{Key: "description", Value: rec.Description},
		{Key: "processing_time_seconds", Value: rec.ProcessingTimeSeconds},
		{Key: "batch_id", Value: batchID},
		{Key: "updated_at", Value: now},
	}
}
