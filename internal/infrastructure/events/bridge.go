package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/contracts"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/hilthontt/courier/internal/infrastructure/metrics"
	"github.com/hilthontt/courier/internal/infrastructure/tracing"
	"github.com/hilthontt/courier/internal/infrastructure/workpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ParticipantLister resolves who belongs to a conversation.
type ParticipantLister interface {
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Participant, error)
}

// Sender writes a frame to a locally held connection, reporting false when
// the user has none in this process.
type Sender interface {
	SendToUser(payload any, userID string) (bool, error)
}

// Intent is one frame addressed to one participant.
type Intent struct {
	UserID string
	Frame  contracts.Envelope
}

type Report struct {
	Delivered int
	Absent    int
	Failed    int
}

// Bridge turns broker envelopes into writes against this process's
// connection registry. It never publishes.
type Bridge struct {
	participants ParticipantLister
	sender       Sender
	pool         *workpool.Pool
	logger       logging.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

func NewBridge(participants ParticipantLister, sender Sender, pool *workpool.Pool, logger logging.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = logging.NewNop()
	}
	if pool == nil {
		pool = workpool.New(workpool.DefaultSize)
	}
	return &Bridge{
		participants: participants,
		sender:       sender,
		pool:         pool,
		logger:       logger,
		metrics:      m,
		tracer:       tracing.GetTracer(tracerName),
	}
}

// Resolve decodes raw and returns one intent per participant. Decoding
// failures wrap contracts.ErrMalformedEnvelope. An empty routingKey skips the
// key/payload consistency check.
func (b *Bridge) Resolve(ctx context.Context, routingKey string, raw []byte) ([]Intent, error) {
	env, kind, err := contracts.DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	if routingKey != "" {
		conversationID, keyKind, err := contracts.ParseRoutingKey(routingKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contracts.ErrMalformedEnvelope, err)
		}
		if conversationID != env.Payload.ConversationID || keyKind != kind {
			return nil, fmt.Errorf("%w: payload does not match routing key %s", contracts.ErrMalformedEnvelope, routingKey)
		}
	}

	var participants []domain.Participant
	err = b.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		participants, err = b.participants.ListByConversation(ctx, env.Payload.ConversationID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve participants of %s: %w", env.Payload.ConversationID, err)
	}

	intents := make([]Intent, 0, len(participants))
	for _, p := range participants {
		intents = append(intents, Intent{UserID: p.UserID, Frame: env})
	}
	return intents, nil
}

// Deliver writes every intent to the registry. Users without a local
// connection are counted, not reported as errors.
func (b *Bridge) Deliver(intents []Intent) Report {
	var report Report
	for _, in := range intents {
		ok, err := b.sender.SendToUser(in.Frame, in.UserID)
		switch {
		case err != nil:
			report.Failed++
			b.metrics.Delivered("failed")
			b.logger.Debug(logging.Bridge, logging.Fanout, "delivery failed", map[logging.ExtraKey]any{
				logging.UserID:       in.UserID,
				logging.ErrorMessage: err.Error(),
			})
		case ok:
			report.Delivered++
			b.metrics.Delivered("delivered")
		default:
			report.Absent++
			b.metrics.Delivered("absent")
		}
	}
	return report
}

// Handle is the Consumer handler. Malformed payloads are logged and reported
// as handled.
func (b *Bridge) Handle(ctx context.Context, d Delivery) error {
	ctx, span := b.tracer.Start(ctx, "bridge fanout", trace.WithAttributes(
		attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
	))
	defer span.End()

	intents, err := b.Resolve(ctx, d.RoutingKey, d.Body)
	if errors.Is(err, contracts.ErrMalformedEnvelope) {
		b.metrics.DecodeError()
		b.logger.Warn(logging.Bridge, logging.Decode, "dropping malformed envelope", map[logging.ExtraKey]any{
			logging.RoutingKey:   d.RoutingKey,
			logging.ErrorMessage: err.Error(),
		})
		return nil
	}
	if err != nil {
		return err
	}

	report := b.Deliver(intents)
	span.SetAttributes(
		attribute.Int("courier.delivered", report.Delivered),
		attribute.Int("courier.absent", report.Absent),
	)
	return nil
}
