package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
)

type MongoWriter struct {
	collection *mongo.Collection
	logger     logger.Logger
}

func NewMongoWriter(db *mongo.Database, collection string, log logger.Logger) *MongoWriter {
	return &MongoWriter{
		collection: db.Collection(collection),
		logger:     log,
	}
}

func (w *MongoWriter) Name() string { return constants.SinkTypeMongoDB }

// Write stores the payload fields at the top level and the input position under _relay.
// A redelivered position is ignored.
func (w *MongoWriter) Write(ctx context.Context, rec Record) (err error) {
	start := time.Now()
	defer func() { observe(w.Name(), start, err) }()

	doc, err := document(rec)
	if err != nil {
		return err
	}

	if _, err = w.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			w.logger.DebugwCtx(ctx, "Record already stored", "partition", rec.Partition, "offset", rec.Offset)
			return nil
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func document(rec Record) (bson.D, error) {
	var payload bson.D
	if err := bson.UnmarshalExtJSON(rec.Value, false, &payload); err != nil {
		return nil, fmt.Errorf("failed to convert record to bson: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return append(payload, bson.E{Key: "_relay", Value: bson.D{
		{Key: "topic", Value: rec.Topic},
		{Key: "partition", Value: rec.Partition},
		{Key: "offset", Value: rec.Offset},
		{Key: "key", Value: string(rec.Key)},
		{Key: "created_at", Value: createdAt},
	}}), nil
}
