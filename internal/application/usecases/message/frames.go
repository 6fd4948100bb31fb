package message

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/validate"
)

// Inbound request types accepted on a live connection.
const (
	RequestCreate = "message.create"
	RequestEdit   = "message.edit"
	RequestDelete = "message.delete"
)

type request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createPayload struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
}

type editPayload struct {
	ID      string `json:"id"`
	NewBody string `json:"new_body"`
}

type deletePayload struct {
	ID string `json:"id"`
}

func idField(name string) validate.Validator {
	return validate.Field(name, validate.Required(), validate.UUID())
}

func bodyField(name string) validate.Validator {
	return validate.Field(name, validate.Required(), validate.MaxLength(domain.MaxBodyLength))
}

// RequestType extracts the type of an inbound frame, or "" when the frame is
// not a request object.
func RequestType(raw []byte) string {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return ""
	}
	return req.Type
}

// HandleFrame applies one inbound frame on behalf of userID.
func (uc *messageUseCase) HandleFrame(ctx context.Context, userID string, raw []byte) Result {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return invalid(fmt.Errorf("%w: frame is not a request object: %v", domain.ErrInvalidInput, err))
	}

	switch req.Type {
	case RequestCreate:
		var p createPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return invalid(err)
		}
		if err := validatePayload(idField("conversation_id")(p.ConversationID), bodyField("body")(p.Body)); err != nil {
			return invalid(err)
		}
		return uc.Create(ctx, userID, p.ConversationID, p.Body)

	case RequestEdit:
		var p editPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return invalid(err)
		}
		if err := validatePayload(idField("id")(p.ID), bodyField("new_body")(p.NewBody)); err != nil {
			return invalid(err)
		}
		return uc.Edit(ctx, userID, p.ID, p.NewBody)

	case RequestDelete:
		var p deletePayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return invalid(err)
		}
		if err := validatePayload(idField("id")(p.ID)); err != nil {
			return invalid(err)
		}
		return uc.Delete(ctx, userID, p.ID)

	default:
		return forbidden(fmt.Errorf("%w: unknown request type %q", domain.ErrForbidden, req.Type))
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: payload is required", domain.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func validatePayload(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	return nil
}
