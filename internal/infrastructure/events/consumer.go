package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/courier/internal/infrastructure/contracts"
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

const (
	DefaultQueuePrefix = "courier.fanout"
	DefaultPrefetch    = 64
	handlerTimeout     = 30 * time.Second
)

var ErrConsumerStarted = errors.New("consumer already started")

// Delivery is what a Handler sees of a broker message.
type Delivery struct {
	RoutingKey string
	MessageID  string
	Body       []byte
}

// Handler processes one delivery. Its error is logged; the delivery is
// acknowledged either way.
type Handler func(ctx context.Context, d Delivery) error

type ConsumerConfig struct {
	Exchange    string
	QueuePrefix string
	Patterns    []string
	Prefetch    int
	RetryDelay  time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Exchange == "" {
		c.Exchange = contracts.DefaultExchange
	}
	if c.QueuePrefix == "" {
		c.QueuePrefix = DefaultQueuePrefix
	}
	if len(c.Patterns) == 0 {
		c.Patterns = contracts.DefaultPatterns()
	}
	if c.Prefetch <= 0 {
		c.Prefetch = DefaultPrefetch
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = messaging.DefaultReconnectDelay
	}
	return c
}

// Consumer owns this process's ephemeral fanout queue. The queue name is
// fresh per instance, exclusive and auto-deleted, so every process receives
// its own copy of each event and nothing is replayed after a restart.
type Consumer struct {
	broker  ChannelSource
	cfg     ConsumerConfig
	queue   string
	tag     string
	logger  logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	started  atomic.Bool
	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewConsumer(broker ChannelSource, cfg ConsumerConfig, logger logging.Logger, m *metrics.Metrics) *Consumer {
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg = cfg.withDefaults()

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	instance := uuid.NewString()

	return &Consumer{
		broker:   broker,
		cfg:      cfg,
		queue:    fmt.Sprintf("%s.%s.%s", cfg.QueuePrefix, host, instance),
		tag:      "courier-" + instance,
		logger:   logger,
		metrics:  m,
		tracer:   tracing.GetTracer(tracerName),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Consumer) Queue() string {
	return c.queue
}

// Start consumes until ctx ends or Stop is called, resubscribing whenever the
// broker drops the channel. It returns nil on a requested stop.
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrConsumerStarted
	}
	defer close(c.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopping:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		if runCtx.Err() != nil {
			return nil
		}

		ch, deliveries, err := c.subscribe(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			c.logger.Warn(logging.RabbitMQ, logging.Consume, "failed to subscribe, retrying", map[logging.ExtraKey]any{
				logging.Queue:        c.queue,
				logging.ErrorMessage: err.Error(),
			})
		} else {
			c.logger.Info(logging.RabbitMQ, logging.Consume, "consuming", map[logging.ExtraKey]any{
				logging.Queue: c.queue,
				"patterns":    c.cfg.Patterns,
			})
			c.drain(runCtx, ctx, ch, deliveries, handler)
			_ = ch.Close()

			if runCtx.Err() != nil {
				c.logger.Info(logging.RabbitMQ, logging.Shutdown, "consumer stopped", map[logging.ExtraKey]any{
					logging.Queue: c.queue,
				})
				return nil
			}
			c.logger.Warn(logging.RabbitMQ, logging.Reconnect, "delivery channel closed, resubscribing", map[logging.ExtraKey]any{
				logging.Queue: c.queue,
			})
		}

		select {
		case <-runCtx.Done():
			return nil
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

func (c *Consumer) subscribe(ctx context.Context) (messaging.Channel, <-chan amqp.Delivery, error) {
	ch, err := c.broker.Channel(ctx)
	if err != nil {
		return nil, nil, err
	}

	deliveries, err := c.declare(ch)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	return ch, deliveries, nil
}

func (c *Consumer) declare(ch messaging.Channel) (<-chan amqp.Delivery, error) {
	if err := ch.ExchangeDeclare(
		c.cfg.Exchange,         // name
		contracts.ExchangeKind, // type
		true,                   // durable
		false,                  // auto-deleted
		false,                  // internal
		false,                  // no-wait
		nil,                    // arguments
	); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	q, err := ch.QueueDeclare(
		c.queue, // name
		false,   // durable
		true,    // delete when unused
		true,    // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}

	for _, pattern := range c.cfg.Patterns {
		if err := ch.QueueBind(q.Name, pattern, c.cfg.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind queue to %s: %w", pattern, err)
		}
	}

	deliveries, err := ch.Consume(
		q.Name, // queue
		c.tag,  // consumer
		false,  // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", q.Name, err)
	}
	return deliveries, nil
}

// drain handles deliveries one at a time until the channel closes or runCtx
// ends. Handlers run on a context detached from runCtx so a stop lets the
// in-flight handler finish.
func (c *Consumer) drain(runCtx, parent context.Context, ch messaging.Channel, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-runCtx.Done():
			_ = ch.Cancel(c.tag, false)
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.dispatch(parent, d, handler)
		}
	}
}

func (c *Consumer) dispatch(parent context.Context, d amqp.Delivery, handler Handler) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), handlerTimeout)
	defer cancel()

	ctx = otel.GetTextMapPropagator().Extract(ctx, amqpHeaderCarrier(d.Headers))
	ctx, span := c.tracer.Start(ctx, "consume "+d.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.message.id", d.MessageId),
		),
	)
	defer span.End()

	result := "ok"
	if err := c.invoke(ctx, handler, Delivery{RoutingKey: d.RoutingKey, MessageID: d.MessageId, Body: d.Body}); err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn(logging.RabbitMQ, logging.Consume, "handler failed, acknowledging anyway", map[logging.ExtraKey]any{
			logging.RoutingKey:   d.RoutingKey,
			logging.ErrorMessage: err.Error(),
		})
	}

	if err := d.Ack(false); err != nil {
		result = "ack_failed"
		c.logger.Error(logging.RabbitMQ, logging.Consume, "failed to acknowledge delivery", map[logging.ExtraKey]any{
			logging.RoutingKey:   d.RoutingKey,
			logging.ErrorMessage: err.Error(),
		})
	}
	c.metrics.Consumed(result)
}

func (c *Consumer) invoke(ctx context.Context, handler Handler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, d)
}

// Stop cancels the subscription and waits for Start to return. The broker
// removes the auto-delete queue once the consumer is gone.
func (c *Consumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopping) })

	if !c.started.Load() {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
