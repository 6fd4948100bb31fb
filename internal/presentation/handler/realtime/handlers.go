package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/courier/internal/application/usecases/conversation"
	"github.com/hilthontt/courier/internal/application/usecases/message"
	"github.com/hilthontt/courier/internal/infrastructure/auth"
	"github.com/hilthontt/courier/internal/infrastructure/json"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/hilthontt/courier/internal/infrastructure/metrics"
	"github.com/hilthontt/courier/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/courier/internal/infrastructure/ws"
)

type Handler struct {
	verifier      auth.Verifier
	conversations conversation.ConversationUseCase
	messages      message.MessageUseCase
	registry      *ws.Registry
	upgrader      websocket.Upgrader
	frames        ratelimiter.Limiter
	frameTimeout  time.Duration
	metrics       *metrics.Metrics
	logger        logging.Logger
}

func NewHandler(
	verifier auth.Verifier,
	conversations conversation.ConversationUseCase,
	messages message.MessageUseCase,
	registry *ws.Registry,
	allowedOrigins []string,
	frames ratelimiter.Limiter,
	frameTimeout time.Duration,
	m *metrics.Metrics,
	logger logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		verifier:      verifier,
		conversations: conversations,
		messages:      messages,
		registry:      registry,
		upgrader:      ws.NewUpgrader(allowedOrigins),
		frames:        frames,
		frameTimeout:  frameTimeout,
		metrics:       m,
		logger:        logger,
	}
}

// ServeWS authenticates the token query parameter before upgrading. A
// rejected handshake never reaches the registry.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Info(logging.Auth, logging.Handshake, "websocket handshake rejected", map[logging.ExtraKey]any{
			logging.ClientIp:     r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
		json.WriteUnauthorized(w, "Missing or invalid token")
		return
	}

	if _, err := h.conversations.Register(r.Context(), identity.UserID, identity.Username); err != nil {
		h.logger.Error(logging.WebSocket, logging.Handshake, "failed to register user", map[logging.ExtraKey]any{
			logging.UserID:       identity.UserID,
			logging.ErrorMessage: err.Error(),
		})
		json.WriteInternalError(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.WebSocket, logging.Handshake, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.UserID:       identity.UserID,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	client := ws.NewClient(conn, identity.UserID, h.logger)
	if err := client.Authenticate(); err != nil {
		_ = conn.Close()
		return
	}
	h.registry.Connect(identity.UserID, client)
	_ = client.Activate()

	h.logger.Info(logging.WebSocket, logging.Handshake, "websocket connected", map[logging.ExtraKey]any{
		logging.UserID: identity.UserID,
	})

	go client.WritePump()
	client.ReadPump(context.WithoutCancel(r.Context()), h.registry, h.handleFrame(identity.UserID))

	h.logger.Info(logging.WebSocket, logging.Handshake, "websocket disconnected", map[logging.ExtraKey]any{
		logging.UserID: identity.UserID,
	})
}

// handleFrame applies one inbound request and turns its outcome into a close
// code when the session has to end.
func (h *Handler) handleFrame(userID string) ws.FrameHandler {
	return func(ctx context.Context, raw []byte) *ws.CloseError {
		requestType := message.RequestType(raw)

		if h.frames != nil {
			if allowed, _ := h.frames.Allow(userID); !allowed {
				h.metrics.Frame(requestType, "rate_limited")
				return ws.PolicyViolation("too many requests")
			}
		}

		if h.frameTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.frameTimeout)
			defer cancel()
		}

		res := h.messages.HandleFrame(ctx, userID, raw)
		h.metrics.Frame(requestType, res.Outcome.String())

		switch res.Outcome {
		case message.OutcomeOK:
			return nil
		case message.OutcomeInvalid:
			return ws.UnsupportedData(closeReason(res))
		case message.OutcomeForbidden:
			return ws.PolicyViolation(closeReason(res))
		default:
			h.logger.Error(logging.WebSocket, logging.Frame, "request failed", map[logging.ExtraKey]any{
				logging.UserID:       userID,
				logging.ErrorMessage: closeReason(res),
			})
			return ws.InternalError("request could not be completed")
		}
	}
}

// closeReason fits the control frame limit of 123 bytes.
func closeReason(res message.Result) string {
	if res.Err == nil {
		return res.Outcome.String()
	}
	reason := res.Err.Error()
	if len(reason) > 120 {
		reason = reason[:120]
	}
	return reason
}
