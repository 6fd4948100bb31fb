package conversations

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/courier/internal/application/usecases/conversation"
	"github.com/hilthontt/courier/internal/application/usecases/message"
	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/json"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/hilthontt/courier/internal/presentation/utils"
)

type Handler struct {
	conversations conversation.ConversationUseCase
	messages      message.MessageUseCase
	logger        logging.Logger
}

func NewHandler(
	conversations conversation.ConversationUseCase,
	messages message.MessageUseCase,
	logger logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		conversations: conversations,
		messages:      messages,
		logger:        logger,
	}
}

func (h *Handler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := utils.IdentityFrom(r.Context())
	if !ok {
		json.WriteUnauthorized(w, "Missing or invalid authentication")
		return
	}

	var req createConversationRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	conv, err := h.conversations.CreateDirect(r.Context(), caller.UserID, req.Title, req.OtherID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusCreated, toConversationResponse(*conv))
}

func (h *Handler) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := utils.IdentityFrom(r.Context())
	if !ok {
		json.WriteUnauthorized(w, "Missing or invalid authentication")
		return
	}

	var req createGroupRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	conv, err := h.conversations.CreateGroup(r.Context(), caller.UserID, req.Title, req.ParticipantIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusCreated, toConversationResponse(*conv))
}

func (h *Handler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := utils.IdentityFrom(r.Context())
	if !ok {
		json.WriteUnauthorized(w, "Missing or invalid authentication")
		return
	}

	convs, err := h.conversations.ListForUser(r.Context(), caller.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, toConversationResponse(c))
	}
	json.Write(w, http.StatusOK, resp)
}

func (h *Handler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := utils.IdentityFrom(r.Context())
	if !ok {
		json.WriteUnauthorized(w, "Missing or invalid authentication")
		return
	}

	conversationID := chi.URLParam(r, "conversationId")
	if conversationID == "" {
		json.WriteValidationError(w, errors.New("conversation ID is missing"))
		return
	}

	msgs, err := h.messages.History(r.Context(), caller.UserID, conversationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if msgs == nil {
		msgs = []domain.Message{}
	}
	json.Write(w, http.StatusOK, msgs)
}

func (h *Handler) MarkDeliveredHandler(w http.ResponseWriter, r *http.Request) {
	h.receipt(w, r, h.messages.MarkDelivered)
}

func (h *Handler) MarkSeenHandler(w http.ResponseWriter, r *http.Request) {
	h.receipt(w, r, h.messages.MarkSeen)
}

type receiptFunc func(ctx context.Context, userID, conversationID, messageID string) message.Result

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request, mark receiptFunc) {
	caller, ok := utils.IdentityFrom(r.Context())
	if !ok {
		json.WriteUnauthorized(w, "Missing or invalid authentication")
		return
	}

	conversationID := chi.URLParam(r, "conversationId")
	messageID := chi.URLParam(r, "messageId")
	if conversationID == "" || messageID == "" {
		json.WriteValidationError(w, errors.New("conversation ID and message ID are required"))
		return
	}

	res := mark(r.Context(), caller.UserID, conversationID, messageID)
	switch res.Outcome {
	case message.OutcomeOK:
		w.WriteHeader(http.StatusNoContent)
	case message.OutcomeInvalid:
		json.WriteValidationError(w, res.Err)
	case message.OutcomeForbidden:
		json.WriteError(w, http.StatusForbidden, res.Err.Error())
	default:
		h.logFailure(r, res.Err)
		json.WriteError(w, http.StatusServiceUnavailable, "The receipt could not be delivered")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if json.WriteDomainError(w, err) {
		return
	}
	h.logFailure(r, err)
	json.WriteInternalError(w)
}

func (h *Handler) logFailure(r *http.Request, err error) {
	h.logger.Error(logging.RequestResponse, logging.ExternalService, "request failed", map[logging.ExtraKey]any{
		logging.Method:       r.Method,
		logging.Path:         r.URL.Path,
		logging.ErrorMessage: err.Error(),
	})
}
