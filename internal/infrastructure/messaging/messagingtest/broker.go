// Package messagingtest provides an in-memory topic broker that satisfies
// messaging.Dialer, for exercising publishers and consumers without RabbitMQ.
package messagingtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hilthontt/courier/internal/infrastructure/contracts"
	"github.com/hilthontt/courier/internal/infrastructure/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

const deliveryBuffer = 1024

var ErrDialRefused = errors.New("messagingtest: dial refused")

// Published records a message accepted by an exchange.
type Published struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

type binding struct {
	exchange string
	pattern  string
}

type queue struct {
	name       string
	exclusive  bool
	autoDelete bool
	owner      *Conn
	bindings   []binding
	consumers  map[string]*consumer
}

type consumer struct {
	ch  *Channel
	out chan amqp.Delivery
}

// Broker is a single virtual host shared by every connection it dials.
// Several Connections dialing the same Broker model several processes.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]string
	queues    map[string]*queue
	conns     []*Conn
	published []Published
	dials     int
	failDials int
	tag       uint64
	acked     int
	nacked    int
}

func NewBroker() *Broker {
	return &Broker{
		exchanges: make(map[string]string),
		queues:    make(map[string]*queue),
	}
}

// Dial implements messaging.Dialer.
func (b *Broker) Dial(string) (messaging.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.failDials != 0 {
		if b.failDials > 0 {
			b.failDials--
		}
		return nil, ErrDialRefused
	}

	conn := &Conn{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

// FailDials refuses the next n dials. A negative n refuses until reset with 0.
func (b *Broker) FailDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDials = n
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Drop severs every live connection as a broker restart would.
func (b *Broker) Drop() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	for _, conn := range conns {
		conn.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart", Server: true})
	}
}

func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

func (b *Broker) Acked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked
}

func (b *Broker) Nacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nacked
}

func (b *Broker) HasExchange(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.exchanges[name]
	return ok
}

func (b *Broker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// Bindings returns the patterns bound to the queue.
func (b *Broker) Bindings(name string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	patterns := make([]string, 0, len(q.bindings))
	for _, bnd := range q.bindings {
		patterns = append(patterns, bnd.pattern)
	}
	return patterns
}

// Consumers reports the number of active consumers on the queue.
func (b *Broker) Consumers(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return len(q.consumers)
	}
	return 0
}

// Publish injects a raw message as if another process had published it.
func (b *Broker) Publish(exchange, key string, body []byte) error {
	return b.route(exchange, key, amqp.Publishing{ContentType: "application/json", Body: body})
}

func (b *Broker) route(exchange, key string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("no exchange '%s'", exchange)}
	}
	b.published = append(b.published, Published{Exchange: exchange, RoutingKey: key, Msg: msg})

	for _, q := range b.queues {
		if !q.matches(exchange, key) {
			continue
		}
		for tag, c := range q.consumers {
			b.tag++
			d := amqp.Delivery{
				Acknowledger: c.ch,
				Headers:      msg.Headers,
				ContentType:  msg.ContentType,
				DeliveryMode: msg.DeliveryMode,
				MessageId:    msg.MessageId,
				Timestamp:    msg.Timestamp,
				ConsumerTag:  tag,
				DeliveryTag:  b.tag,
				Exchange:     exchange,
				RoutingKey:   key,
				Body:         append([]byte(nil), msg.Body...),
			}
			select {
			case c.out <- d:
			default:
			}
			// One consumer per queue receives each message.
			break
		}
	}
	return nil
}

func (q *queue) matches(exchange, key string) bool {
	for _, bnd := range q.bindings {
		if bnd.exchange == exchange && contracts.MatchRoutingKey(bnd.pattern, key) {
			return true
		}
	}
	return false
}

// removeConsumer must be called with the broker lock held.
func (b *Broker) removeConsumer(q *queue, tag string) {
	c, ok := q.consumers[tag]
	if !ok {
		return
	}
	delete(q.consumers, tag)
	close(c.out)
	if q.autoDelete && len(q.consumers) == 0 {
		delete(b.queues, q.name)
	}
}

// Conn is one client connection to the Broker.
type Conn struct {
	broker   *Broker
	mu       sync.Mutex
	closed   bool
	channels []*Channel
	notify   []chan *amqp.Error
}

func (c *Conn) Channel() (messaging.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &Channel{conn: c}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Close() error {
	if c.IsClosed() {
		return amqp.ErrClosed
	}
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	notify := c.notify
	c.channels, c.notify = nil, nil
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}

	b := c.broker
	b.mu.Lock()
	for name, q := range b.queues {
		if q.exclusive && q.owner == c {
			delete(b.queues, name)
		}
	}
	b.mu.Unlock()

	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

// Channel is a fake AMQP channel; it also acknowledges its own deliveries.
type Channel struct {
	conn   *Conn
	mu     sync.Mutex
	closed bool
	tags   []string
	next   int
}

func (ch *Channel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *Channel) check() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	return nil
}

func (ch *Channel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	if err := ch.check(); err != nil {
		return err
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg 'type'"}
	}
	b.exchanges[name] = kind
	return nil
}

func (ch *Channel) QueueDeclare(name string, _, autoDelete, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if err := ch.check(); err != nil {
		return amqp.Queue{}, err
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		if q.exclusive && q.owner != ch.conn {
			return amqp.Queue{}, &amqp.Error{Code: amqp.ResourceLocked, Reason: "exclusive queue in use"}
		}
		return amqp.Queue{Name: name, Consumers: len(q.consumers)}, nil
	}
	b.queues[name] = &queue{
		name:       name,
		exclusive:  exclusive,
		autoDelete: autoDelete,
		owner:      ch.conn,
		consumers:  make(map[string]*consumer),
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *Channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if err := ch.check(); err != nil {
		return err
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("no queue '%s'", name)}
	}
	if _, ok := b.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("no exchange '%s'", exchange)}
	}
	q.bindings = append(q.bindings, binding{exchange: exchange, pattern: key})
	return nil
}

func (ch *Channel) Qos(prefetchCount, _ int, _ bool) error {
	if prefetchCount < 0 {
		return errors.New("messagingtest: negative prefetch")
	}
	return ch.check()
}

func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ch.check(); err != nil {
		return err
	}
	return ch.conn.broker.route(exchange, key, msg)
}

func (ch *Channel) Consume(name, tag string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if err := ch.check(); err != nil {
		return nil, err
	}

	ch.mu.Lock()
	if tag == "" {
		ch.next++
		tag = fmt.Sprintf("ctag-%p-%d", ch, ch.next)
	}
	ch.tags = append(ch.tags, tag)
	ch.mu.Unlock()

	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("no queue '%s'", name)}
	}
	out := make(chan amqp.Delivery, deliveryBuffer)
	q.consumers[tag] = &consumer{ch: ch, out: out}
	return out, nil
}

func (ch *Channel) Cancel(tag string, _ bool) error {
	if err := ch.check(); err != nil {
		return err
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range b.queues {
		if c, ok := q.consumers[tag]; ok && c.ch == ch {
			b.removeConsumer(q, tag)
		}
	}
	return nil
}

func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return amqp.ErrClosed
	}
	ch.closed = true
	tags := ch.tags
	ch.mu.Unlock()

	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tag := range tags {
		for _, q := range b.queues {
			if c, ok := q.consumers[tag]; ok && c.ch == ch {
				b.removeConsumer(q, tag)
			}
		}
	}
	return nil
}

// Ack, Nack and Reject implement amqp.Acknowledger.
func (ch *Channel) Ack(uint64, bool) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked++
	return nil
}

func (ch *Channel) Nack(uint64, bool, bool) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacked++
	return nil
}

func (ch *Channel) Reject(uint64, bool) error {
	return ch.Nack(0, false, false)
}
