package conversations

import (
	"time"

	"github.com/hilthontt/courier/internal/domain"
)

type createConversationRequest struct {
	Title   string `json:"title"`
	OtherID string `json:"other_id"`
}

type createGroupRequest struct {
	Title          string   `json:"title"`
	ParticipantIDs []string `json:"participant_ids"`
}

type conversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
}

func toConversationResponse(c domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		IsGroup:   c.IsGroup,
		CreatedAt: c.CreatedAt,
	}
}
