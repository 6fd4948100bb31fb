package repository

import (
	"context"
	"errors"

	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const historyLimit = 500

type messageRepository struct {
	db *mongo.Database
}

func NewMessageRepository(db *mongo.Database) domain.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	if message == nil || message.ID == "" || message.ConversationID == "" {
		return domain.ErrInvalidInput
	}
	collection := r.db.Collection(db.MessagesCollection)

	_, err := collection.InsertOne(ctx, message)
	return err
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	collection := r.db.Collection(db.MessagesCollection)

	var message domain.Message
	if err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&message); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) Update(ctx context.Context, message *domain.Message) error {
	if message == nil || message.ID == "" {
		return domain.ErrInvalidInput
	}
	collection := r.db.Collection(db.MessagesCollection)

	result, err := collection.ReplaceOne(ctx, bson.M{"_id": message.ID}, message)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, excludeDeleted bool) ([]domain.Message, error) {
	collection := r.db.Collection(db.MessagesCollection)

	filter := bson.M{"conversation_id": conversationID}
	if excludeDeleted {
		filter["deleted"] = false
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(historyLimit)

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []domain.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
