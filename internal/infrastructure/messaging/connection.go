package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hilthontt/courier/internal/infrastructure/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultReconnectDelay = time.Second
	heartbeat             = 10 * time.Second
)

var (
	ErrClosed            = errors.New("broker connection closed")
	ErrIllegalTransition = errors.New("illegal connection state transition")
)

// Channel is the subset of *amqp.Channel used by publishers and consumers.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	IsClosed() bool
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// Conn is the subset of *amqp.Connection the Connection manages.
type Conn interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

type Dialer func(url string) (Conn, error)

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP is the production Dialer.
func DialAMQP(url string) (Conn, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

type Option func(*Connection)

func WithDialer(dial Dialer) Option {
	return func(c *Connection) { c.dial = dial }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.delay = d
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Connection) { c.logger = logger }
}

// Connection owns the process's single broker connection. It dials lazily,
// retries forever at a fixed delay and reconnects in the background when the
// broker drops it.
type Connection struct {
	url    string
	dial   Dialer
	delay  time.Duration
	logger logging.Logger

	mu      sync.Mutex
	state   State
	conn    Conn
	changed chan struct{}

	lifetime  context.Context
	cancel    context.CancelFunc
	closing   chan struct{}
	closeOnce sync.Once
	watchers  sync.WaitGroup
}

func NewConnection(url string, opts ...Option) *Connection {
	lifetime, cancel := context.WithCancel(context.Background())
	c := &Connection{
		url:      url,
		dial:     DialAMQP,
		delay:    DefaultReconnectDelay,
		logger:   logging.NewNop(),
		state:    StateDisconnected,
		changed:  make(chan struct{}),
		lifetime: lifetime,
		cancel:   cancel,
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState must be called with mu held.
func (c *Connection) setState(to State) error {
	if c.state == StateClosing {
		return ErrClosed
	}
	if !canTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.state, to)
	}
	c.state = to
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

// Connect returns once the connection is established. Only one caller dials
// at a time; concurrent callers wait for its outcome. If the dialing caller's
// ctx ends first, a waiting caller takes over.
func (c *Connection) Connect(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch c.state {
		case StateConnected:
			c.mu.Unlock()
			return nil
		case StateClosing:
			c.mu.Unlock()
			return ErrClosed
		case StateConnecting:
			wait := c.changed
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.setState(StateConnecting)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return c.establish(ctx)
	}
}

func (c *Connection) establish(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		conn, err := c.dial(c.url)
		if err == nil {
			return c.adopt(conn, attempt)
		}

		c.logger.Warn(logging.RabbitMQ, logging.Connect, "failed to connect to broker, retrying", map[logging.ExtraKey]any{
			logging.Attempt:      attempt,
			logging.ErrorMessage: err.Error(),
		})

		select {
		case <-ctx.Done():
			c.mu.Lock()
			_ = c.setState(StateDisconnected)
			c.mu.Unlock()
			return ctx.Err()
		case <-c.closing:
			return ErrClosed
		case <-time.After(c.delay):
		}
	}
}

func (c *Connection) adopt(conn Conn, attempt int) error {
	c.mu.Lock()
	if err := c.setState(StateConnected); err != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return err
	}
	c.conn = conn
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.watchers.Add(1)
	c.mu.Unlock()

	go c.watch(conn, notify)

	c.logger.Info(logging.RabbitMQ, logging.Connect, "connected to broker", map[logging.ExtraKey]any{
		logging.Attempt: attempt,
	})
	return nil
}

func (c *Connection) watch(conn Conn, notify chan *amqp.Error) {
	defer c.watchers.Done()

	var reason *amqp.Error
	select {
	case reason = <-notify:
	case <-c.closing:
		return
	}

	c.mu.Lock()
	if c.conn != conn || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	_ = c.setState(StateDisconnected)
	c.mu.Unlock()

	extra := map[logging.ExtraKey]any{}
	if reason != nil {
		extra[logging.ErrorMessage] = reason.Error()
	}
	c.logger.Warn(logging.RabbitMQ, logging.Reconnect, "broker connection lost, reconnecting", extra)

	if err := c.Connect(c.lifetime); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		c.logger.Error(logging.RabbitMQ, logging.Reconnect, "reconnect abandoned", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

// Channel opens a fresh channel, connecting first if needed. Callers own the
// returned channel and must close it.
func (c *Connection) Channel(ctx context.Context) (Channel, error) {
	for {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}

		c.mu.Lock()
		conn, wait := c.conn, c.changed
		c.mu.Unlock()

		if conn != nil && !conn.IsClosed() {
			ch, err := conn.Channel()
			if err != nil {
				return nil, fmt.Errorf("failed to open channel: %w", err)
			}
			return ch, nil
		}

		// Dropped, but the watcher has not caught up yet.
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Connection) DeclareExchange(ctx context.Context, name, kind string, durable bool) error {
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		name,    // name
		kind,    // type
		durable, // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

// Close is safe to call more than once. A Connect loop in progress returns
// ErrClosed.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.cancel()

		c.mu.Lock()
		_ = c.setState(StateClosing)
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil && !conn.IsClosed() {
			err = conn.Close()
		}
		c.watchers.Wait()

		c.logger.Info(logging.RabbitMQ, logging.Shutdown, "broker connection closed", nil)
	})
	return err
}
