package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type conversationRepository struct {
	db *mongo.Database
}

func NewConversationRepository(db *mongo.Database) domain.ConversationRepository {
	return &conversationRepository{db: db}
}

// Create inserts the conversation, then its participants. If the
// participants cannot be stored the conversation is removed again.
func (r *conversationRepository) Create(ctx context.Context, conversation *domain.Conversation, participants []domain.Participant) error {
	if conversation == nil || conversation.ID == "" {
		return domain.ErrInvalidInput
	}
	conversations := r.db.Collection(db.ConversationsCollection)

	if _, err := conversations.InsertOne(ctx, conversation); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	if len(participants) == 0 {
		return nil
	}

	docs := make([]any, 0, len(participants))
	for _, p := range participants {
		docs = append(docs, p)
	}
	if _, err := r.db.Collection(db.ParticipantsCollection).InsertMany(ctx, docs); err != nil {
		_, _ = conversations.DeleteOne(ctx, bson.M{"_id": conversation.ID})
		_, _ = r.db.Collection(db.ParticipantsCollection).DeleteMany(ctx, bson.M{"conversation_id": conversation.ID})
		return fmt.Errorf("failed to insert participants: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	collection := r.db.Collection(db.ConversationsCollection)

	var conversation domain.Conversation
	err := collection.FindOne(ctx, bson.M{"_id": id, "deleted": false}).Decode(&conversation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return &conversation, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	memberships, err := r.db.Collection(db.ParticipantsCollection).
		Distinct(ctx, "conversation_id", bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return []domain.Conversation{}, nil
	}

	filter := bson.M{
		"_id":     bson.M{"$in": memberships},
		"deleted": false,
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.db.Collection(db.ConversationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	conversations := []domain.Conversation{}
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

type participantRepository struct {
	db *mongo.Database
}

func NewParticipantRepository(db *mongo.Database) domain.ParticipantRepository {
	return &participantRepository{db: db}
}

func (r *participantRepository) Get(ctx context.Context, conversationID, userID string) (*domain.Participant, error) {
	collection := r.db.Collection(db.ParticipantsCollection)

	var participant domain.Participant
	filter := bson.M{"conversation_id": conversationID, "user_id": userID}
	if err := collection.FindOne(ctx, filter).Decode(&participant); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrParticipantNotFound
		}
		return nil, err
	}
	return &participant, nil
}

func (r *participantRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	collection := r.db.Collection(db.ParticipantsCollection)

	cursor, err := collection.Find(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	participants := []domain.Participant{}
	if err := cursor.All(ctx, &participants); err != nil {
		return nil, err
	}
	return participants, nil
}
