package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/contracts"
	"github.com/hilthontt/courier/internal/infrastructure/ids"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/hilthontt/courier/internal/infrastructure/messaging"
	"github.com/hilthontt/courier/internal/infrastructure/metrics"
	"github.com/hilthontt/courier/internal/infrastructure/tracing"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "courier/events"

var ErrRoutingMismatch = errors.New("envelope does not match routing key")

// ChannelSource hands out broker channels; *messaging.Connection is the
// production implementation.
type ChannelSource interface {
	Channel(ctx context.Context) (messaging.Channel, error)
}

// Publisher sends envelopes to the topic exchange. It keeps one channel open
// and replaces it after any failure.
type Publisher struct {
	broker   ChannelSource
	exchange string
	logger   logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu sync.Mutex
	ch messaging.Channel
}

func NewPublisher(broker ChannelSource, exchange string, logger logging.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		broker:   broker,
		exchange: exchange,
		logger:   logger,
		metrics:  m,
		tracer:   tracing.GetTracer(tracerName),
	}
}

// PublishEvent publishes msg under the routing key derived from its
// conversation.
func (p *Publisher) PublishEvent(ctx context.Context, kind contracts.EventKind, msg domain.Message) error {
	return p.Publish(ctx, contracts.RoutingKey(msg.ConversationID, kind), contracts.NewEnvelope(kind, msg))
}

// Publish is synchronous and does not retry: a failure is returned to the
// caller, who already committed the mutation.
func (p *Publisher) Publish(ctx context.Context, routingKey string, env contracts.Envelope) (err error) {
	conversationID, kind, err := contracts.ParseRoutingKey(routingKey)
	if err != nil {
		return err
	}
	if env.Payload.ConversationID != conversationID || env.Type != kind.Type() {
		return fmt.Errorf("%w: key %s, envelope %s for conversation %s",
			ErrRoutingMismatch, routingKey, env.Type, env.Payload.ConversationID)
	}

	ctx, span := p.tracer.Start(ctx, "publish "+env.Type,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.metrics.Published(string(kind), result)
	}()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, amqpHeaderCarrier(headers))

	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    ids.NewEventID(),
		Timestamp:    time.Now().UTC(),
		Type:         env.Type,
		Body:         body,
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain channel: %w", err)
	}

	if err := ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		p.discard(ch)
		p.logger.Error(logging.RabbitMQ, logging.Publish, "publish failed", map[logging.ExtraKey]any{
			logging.RoutingKey:   routingKey,
			logging.ErrorMessage: err.Error(),
		})
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.logger.Debug(logging.RabbitMQ, logging.Publish, "event published", map[logging.ExtraKey]any{
		logging.RoutingKey: routingKey,
		logging.Event:      env.Type,
	})
	return nil
}

// channel returns the cached channel or opens one. The mutex only guards the
// cache, so a caller waiting out a broker outage never holds up others past
// their own deadlines.
func (p *Publisher) channel(ctx context.Context) (messaging.Channel, error) {
	p.mu.Lock()
	cached := p.ch
	p.mu.Unlock()

	if cached != nil && !cached.IsClosed() {
		return cached, nil
	}

	ch, err := p.broker.Channel(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have opened one meanwhile; keep a single cached channel.
	if p.ch != nil && !p.ch.IsClosed() {
		_ = ch.Close()
		return p.ch, nil
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) discard(ch messaging.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == ch {
		p.ch = nil
	}
	_ = ch.Close()
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
