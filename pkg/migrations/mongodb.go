package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoCollection creates the sink collection's indexes. Existing indexes are left alone.
func EnsureMongoCollection(ctx context.Context, db *mongo.Database, name string) error {
	collection := db.Collection(name)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "_relay.topic", Value: 1},
				{Key: "_relay.partition", Value: 1},
				{Key: "_relay.offset", Value: 1},
			},
			Options: options.Index().SetName("idx_" + name + "_source_position").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "_relay.created_at", Value: -1}},
			Options: options.Index().SetName("idx_" + name + "_created_at"),
		},
		{
			Keys:    bson.D{{Key: "title_url", Value: 1}},
			Options: options.Index().SetName("idx_" + name + "_title_url"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}
	return nil
}
