// Package queue is the durable queue layer: one topic exchange and one
// durable queue per sync domain on an AMQP 0-9-1 broker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/prudhvinik1/syncbridge/internal/config"
	"github.com/prudhvinik1/syncbridge/internal/logger"
	"github.com/prudhvinik1/syncbridge/internal/metrics"
	"github.com/prudhvinik1/syncbridge/internal/models"
)

var (
	// ErrQueueMismatch means an exchange or queue already exists with
	// different parameters. It is a configuration error and not retryable.
	ErrQueueMismatch = errors.New("queue declared with conflicting parameters")
	ErrUnknownQueue  = errors.New("unknown queue")
	ErrNotConnected  = errors.New("broker not connected")
)

// Channel is the subset of *amqp.Channel the broker uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// DialFunc opens a connection and a channel on it. The closer shuts the
// connection down.
type DialFunc func(url string) (Channel, io.Closer, error)

func dialAMQP(url string) (Channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open broker channel: %w", err)
	}
	return ch, conn, nil
}

type Broker struct {
	url      string
	exchange string
	domains  []models.Domain
	dial     DialFunc
	log      *zap.Logger

	mu     sync.Mutex
	ch     Channel
	conn   io.Closer
	closed chan error
	// consumers holds, per queue, a channel closed when its consumer
	// goroutine has returned.
	consumers map[string]chan struct{}
}

type Option func(*Broker)

// WithDialer replaces the AMQP dialer, mainly for tests.
func WithDialer(d DialFunc) Option {
	return func(b *Broker) { b.dial = d }
}

// WithDomains limits the declared queues. Default is every models.Domains entry.
func WithDomains(domains ...models.Domain) Option {
	return func(b *Broker) { b.domains = domains }
}

func NewBroker(cfg config.BrokerConfig, opts ...Option) *Broker {
	b := &Broker{
		url:       cfg.URL(),
		exchange:  cfg.Exchange,
		domains:   models.Domains,
		dial:      dialAMQP,
		log:       logger.Named("queue"),
		consumers: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize connects and declares the exchange and every domain queue.
// Declarations are idempotent. Calling Initialize on a live broker
// replaces its connection.
func (b *Broker) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, conn, err := b.dial(b.url)
	if err != nil {
		return err
	}
	if err := b.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	closed := make(chan error, 1)
	notify := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		amqpErr, ok := <-notify
		if ok && amqpErr != nil {
			closed <- amqpErr
		} else {
			closed <- ErrNotConnected
		}
		close(closed)
	}()

	b.mu.Lock()
	oldCh, oldConn := b.ch, b.conn
	b.ch, b.conn, b.closed = ch, conn, closed
	b.mu.Unlock()
	if oldCh != nil && oldCh != ch {
		oldCh.Close()
		oldConn.Close()
	}

	b.log.Info("broker initialized", zap.String("exchange", b.exchange), zap.Int("queues", len(b.domains)))
	return nil
}

func (b *Broker) declare(ch Channel) error {
	if err := ch.ExchangeDeclare(b.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return classify(fmt.Errorf("failed to declare exchange %s: %w", b.exchange, err))
	}
	for _, d := range b.domains {
		name := d.QueueName()
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return classify(fmt.Errorf("failed to declare queue %s: %w", name, err))
		}
		if err := ch.QueueBind(name, d.RoutingPattern(), b.exchange, false, nil); err != nil {
			return classify(fmt.Errorf("failed to bind queue %s: %w", name, err))
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	return nil
}

func classify(err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return fmt.Errorf("%w: %w", ErrQueueMismatch, err)
	}
	return err
}

func (b *Broker) domainFor(queueName string) (models.Domain, error) {
	for _, d := range b.domains {
		if d.QueueName() == queueName {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
}

func (b *Broker) channel() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil || b.ch.IsClosed() {
		return nil, ErrNotConnected
	}
	return b.ch, nil
}

// Publish persists ev on queueName. The routing key is <domain>.<eventType>.
func (b *Broker) Publish(ctx context.Context, queueName string, ev models.SyncEvent) error {
	domain, err := b.domainFor(queueName)
	if err != nil {
		return err
	}
	ch, err := b.channel()
	if err != nil {
		metrics.QueuePublished.WithLabelValues(queueName, "error").Inc()
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.EventID, err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     ev.EventID,
		CorrelationId: ev.Metadata.CorrelationID,
		Timestamp:     ev.Metadata.Timestamp,
		Type:          string(ev.EventType),
		AppId:         ev.SourceSystem,
		Body:          body,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	key := domain.RoutingKey(ev.EventType)
	if err := ch.PublishWithContext(ctx, b.exchange, key, false, false, msg); err != nil {
		metrics.QueuePublished.WithLabelValues(queueName, "error").Inc()
		return fmt.Errorf("failed to publish %s to %s: %w", ev.EventID, queueName, err)
	}
	metrics.QueuePublished.WithLabelValues(queueName, "ok").Inc()
	return nil
}

// Handler processes one message and must settle it with Ack or Nack.
type Handler func(ctx context.Context, msg *Message)

// Consume starts a goroutine delivering queueName messages to h one at a
// time. It returns once the consumer is registered. The goroutine exits when
// ctx is done or the channel closes. After a reconnect the new goroutine
// waits for the previous one of the same queue, so handlers never overlap.
//
// Bodies that do not decode as a SyncEvent never reach h: they are nacked
// without requeue here, since redelivering them would loop forever.
func (b *Broker) Consume(ctx context.Context, queueName string, h Handler) error {
	if _, err := b.domainFor(queueName); err != nil {
		return err
	}
	ch, err := b.channel()
	if err != nil {
		return err
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queueName, err)
	}

	done := make(chan struct{})
	b.mu.Lock()
	prev := b.consumers[queueName]
	b.consumers[queueName] = done
	b.mu.Unlock()

	log := b.log.With(logger.Queue(queueName))
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		log.Info("consumer started")
		defer log.Info("consumer stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				b.deliver(ctx, log, queueName, d, h)
			}
		}
	}()
	return nil
}

func (b *Broker) deliver(ctx context.Context, log *zap.Logger, queueName string, d amqp.Delivery, h Handler) {
	msg := &Message{queue: queueName, delivery: d, Redelivered: d.Redelivered}
	if err := json.Unmarshal(d.Body, &msg.Event); err != nil {
		log.Warn("discarding undecodable message", zap.String("message_id", d.MessageId), logger.Err(err))
		if err := msg.Nack(false); err != nil {
			log.Warn("nack failed", logger.Err(err))
		}
		return
	}
	msg.Event.EventType = models.ParseEventType(string(msg.Event.EventType))
	h(ctx, msg)
}

// Healthy reports whether the broker channel is open.
func (b *Broker) Healthy() bool {
	_, err := b.channel()
	return err == nil
}

// NotifyClosed returns a channel that receives once when the current
// connection closes. It is nil before Initialize.
func (b *Broker) NotifyClosed() <-chan error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broker) Close() error {
	b.mu.Lock()
	ch, conn := b.ch, b.conn
	b.ch, b.conn = nil, nil
	b.mu.Unlock()
	if ch == nil {
		return nil
	}
	err := ch.Close()
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return err
}
