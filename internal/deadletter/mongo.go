package deadletter

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sampleflow/pkg/models"
)

// MongoSink archives dead letters in a capped-growth collection operators
// query by sample_id or time window when deciding what to replay.
type MongoSink struct {
	collection *mongo.Collection
}

func NewMongoSink(ctx context.Context, db *mongo.Database, collectionName string) (*MongoSink, error) {
	collection := db.Collection(collectionName)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sample_id", Value: 1}},
			Options: options.Index().SetName("idx_dead_letters_sample_id"),
		},
		{
			Keys:    bson.D{{Key: "dead_lettered_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_dead_lettered_at"),
		},
		{
			Keys:    bson.D{{Key: "stage", Value: 1}, {Key: "dead_lettered_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_stage_time"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create dead letter indexes: %w", err)
	}

	return &MongoSink{collection: collection}, nil
}

func (s *MongoSink) Append(ctx context.Context, rec models.DeadLetterRecord) error {
	_, err := s.collection.InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Same delivery dead-lettered twice (offset commit raced a
			// redelivery); the first write already made it durable.
			return nil
		}
		return fmt.Errorf("failed to append dead letter: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned and disconnected by the caller.
func (s *MongoSink) Close(_ context.Context) error {
	return nil
}
