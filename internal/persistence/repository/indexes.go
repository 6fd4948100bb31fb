package repository

import (
	"context"
	"fmt"

	"github.com/hilthontt/courier/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		db.ParticipantsCollection: {
			{
				Keys: bson.D{
					{Key: "conversation_id", Value: 1},
					{Key: "user_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "user_id", Value: 1}},
			},
		},
		db.MessagesCollection: {
			{
				Keys: bson.D{
					{Key: "conversation_id", Value: 1},
					{Key: "created_at", Value: -1},
				},
			},
		},
	}

	for collection, models := range indexes {
		if _, err := database.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
