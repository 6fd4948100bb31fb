package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/contracts"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
)

type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeInvalid is a schema or validation failure of the request.
	OutcomeInvalid
	// OutcomeForbidden covers unknown request types and permission failures.
	OutcomeForbidden
	// OutcomeFailed means the mutation could not be applied or announced.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what every mutation returns instead of an error. Err carries the
// cause for anything other than OutcomeOK.
type Result struct {
	Outcome Outcome
	Message *domain.Message
	Err     error
}

func ok(msg *domain.Message) Result {
	return Result{Outcome: OutcomeOK, Message: msg}
}

func invalid(err error) Result {
	return Result{Outcome: OutcomeInvalid, Err: err}
}

func forbidden(err error) Result {
	return Result{Outcome: OutcomeForbidden, Err: err}
}

func failed(msg *domain.Message, err error) Result {
	return Result{Outcome: OutcomeFailed, Message: msg, Err: err}
}

// fromError sorts a domain error into an outcome.
func fromError(err error) Result {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return invalid(err)
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrConversationNotFound):
		return forbidden(err)
	default:
		return failed(nil, err)
	}
}

// Publisher announces a message event to every process.
type Publisher interface {
	PublishEvent(ctx context.Context, kind contracts.EventKind, msg domain.Message) error
}

type MessageUseCase interface {
	Create(ctx context.Context, senderID, conversationID, body string) Result
	Edit(ctx context.Context, userID, messageID, body string) Result
	Delete(ctx context.Context, userID, messageID string) Result
	MarkDelivered(ctx context.Context, userID, conversationID, messageID string) Result
	MarkSeen(ctx context.Context, userID, conversationID, messageID string) Result
	History(ctx context.Context, userID, conversationID string) ([]domain.Message, error)
	HandleFrame(ctx context.Context, userID string, raw []byte) Result
}

type messageUseCase struct {
	participants domain.ParticipantRepository
	messages     domain.MessageRepository
	publisher    Publisher
	logger       logging.Logger
	now          func() time.Time
}

func NewMessageUseCase(
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	publisher Publisher,
	logger logging.Logger,
) MessageUseCase {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &messageUseCase{
		participants: participants,
		messages:     messages,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

func (uc *messageUseCase) Create(ctx context.Context, senderID, conversationID, body string) Result {
	msg, err := domain.NewMessage(conversationID, senderID, body, uc.now())
	if err != nil {
		return invalid(err)
	}

	if _, err := uc.participants.Get(ctx, conversationID, senderID); err != nil {
		return fromError(err)
	}

	if err := uc.messages.Create(ctx, msg); err != nil {
		return failed(nil, fmt.Errorf("failed to store message: %w", err))
	}

	return uc.announce(ctx, contracts.EventCreated, msg)
}

func (uc *messageUseCase) Edit(ctx context.Context, userID, messageID, body string) Result {
	msg, err := uc.messages.GetByID(ctx, messageID)
	if err != nil {
		return fromError(err)
	}
	if msg.SenderID != userID {
		return forbidden(fmt.Errorf("%w: only the sender can edit a message", domain.ErrForbidden))
	}

	if err := msg.Edit(body, uc.now()); err != nil {
		return invalid(err)
	}
	if err := uc.messages.Update(ctx, msg); err != nil {
		return failed(nil, fmt.Errorf("failed to update message: %w", err))
	}

	return uc.announce(ctx, contracts.EventEdited, msg)
}

// Delete soft-deletes a message. The sender and conversation admins may
// delete.
func (uc *messageUseCase) Delete(ctx context.Context, userID, messageID string) Result {
	msg, err := uc.messages.GetByID(ctx, messageID)
	if err != nil {
		return fromError(err)
	}

	if msg.SenderID != userID {
		participant, err := uc.participants.Get(ctx, msg.ConversationID, userID)
		if err != nil {
			return fromError(err)
		}
		if !participant.IsAdmin() {
			return forbidden(fmt.Errorf("%w: only the sender or an admin can delete a message", domain.ErrForbidden))
		}
	}

	if msg.Deleted {
		return ok(msg)
	}

	msg.MarkDeleted()
	if err := uc.messages.Update(ctx, msg); err != nil {
		return failed(nil, fmt.Errorf("failed to delete message: %w", err))
	}

	return uc.announce(ctx, contracts.EventDeleted, msg)
}

func (uc *messageUseCase) MarkDelivered(ctx context.Context, userID, conversationID, messageID string) Result {
	return uc.receipt(ctx, contracts.EventDelivered, userID, conversationID, messageID)
}

func (uc *messageUseCase) MarkSeen(ctx context.Context, userID, conversationID, messageID string) Result {
	return uc.receipt(ctx, contracts.EventSeen, userID, conversationID, messageID)
}

// receipt is not persisted; it only fans the message snapshot out with the
// receipt kind.
func (uc *messageUseCase) receipt(ctx context.Context, kind contracts.EventKind, userID, conversationID, messageID string) Result {
	if _, err := uc.participants.Get(ctx, conversationID, userID); err != nil {
		return fromError(err)
	}

	msg, err := uc.messages.GetByID(ctx, messageID)
	if err != nil {
		return fromError(err)
	}
	if msg.ConversationID != conversationID || msg.Deleted {
		return forbidden(fmt.Errorf("%w: message %s is not in conversation %s", domain.ErrMessageNotFound, messageID, conversationID))
	}

	return uc.announce(ctx, kind, msg)
}

// History returns non-deleted messages newest first. Callers outside the
// conversation get domain.ErrForbidden.
func (uc *messageUseCase) History(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	if _, err := uc.participants.Get(ctx, conversationID, userID); err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return nil, fmt.Errorf("%w: not a participant of %s", domain.ErrForbidden, conversationID)
		}
		return nil, err
	}

	messages, err := uc.messages.ListByConversation(ctx, conversationID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// announce publishes after the mutation is durable. A publish failure leaves
// the stored state in place; history still shows it.
func (uc *messageUseCase) announce(ctx context.Context, kind contracts.EventKind, msg *domain.Message) Result {
	if err := uc.publisher.PublishEvent(ctx, kind, *msg); err != nil {
		uc.logger.Error(logging.RabbitMQ, logging.Publish, "stored mutation was not published", map[logging.ExtraKey]any{
			logging.Event:          kind.Type(),
			logging.ConversationID: msg.ConversationID,
			logging.ErrorMessage:   err.Error(),
		})
		return failed(msg, fmt.Errorf("failed to publish %s: %w", kind.Type(), err))
	}

	uc.logger.Debug(logging.RabbitMQ, logging.Publish, "message event published", map[logging.ExtraKey]any{
		logging.Event:          kind.Type(),
		logging.ConversationID: msg.ConversationID,
	})
	return ok(msg)
}
