// Package queuetest is an in-memory AMQP channel that routes publishes
// directly to consumers of bound queues.
package queuetest

import (
	"context"
	"io"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Queue struct {
	Durable    bool
	AutoDelete bool
}

type Published struct {
	Key string
	Msg amqp.Publishing
}

type Settlement struct {
	Tag     uint64
	Ack     bool
	Requeue bool
}

type Channel struct {
	mu         sync.Mutex
	exchanges  map[string]string
	queues     map[string]Queue
	bindings   map[string]string
	prefetch   int
	published  []Published
	consumers  map[string]chan amqp.Delivery
	notify     []chan *amqp.Error
	closed     bool
	declareErr error
	publishErr error
	nextTag    uint64
	acks       *acker
}

func NewChannel() *Channel {
	return &Channel{
		exchanges: make(map[string]string),
		queues:    make(map[string]Queue),
		bindings:  make(map[string]string),
		consumers: make(map[string]chan amqp.Delivery),
		acks:      &acker{},
	}
}

// Closer is the connection handle to hand back from a dial func.
func (c *Channel) Closer() io.Closer {
	return io.NopCloser(nil)
}

func (c *Channel) SetDeclareErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declareErr = err
}

func (c *Channel) SetPublishErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

func (c *Channel) ExchangeKind(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchanges[name]
}

func (c *Channel) Queue(name string) (Queue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[name]
	return q, ok
}

func (c *Channel) Queues() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues)
}

func (c *Channel) Binding(queue string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindings[queue]
}

func (c *Channel) Prefetch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefetch
}

func (c *Channel) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

func (c *Channel) Settled() []Settlement {
	return c.acks.settled()
}

func (c *Channel) HasConsumer(queue string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.consumers[queue]
	return ok
}

// Inject delivers a raw body to a consumed queue without going through publish.
func (c *Channel) Inject(queue string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTag++
	c.consumers[queue] <- amqp.Delivery{Acknowledger: c.acks, DeliveryTag: c.nextTag, Body: body}
}

// Fail simulates the broker closing the channel with err.
func (c *Channel) Fail(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, n := range c.notify {
		n <- err
		close(n)
	}
	c.notify = nil
	for q, d := range c.consumers {
		close(d)
		delete(c.consumers, q)
	}
}

func (c *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges[name] = kind
	return nil
}

func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.queues[name] = Queue{Durable: durable, AutoDelete: autoDelete}
	return amqp.Queue{Name: name}, nil
}

func (c *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[name] = key
	return nil
}

func (c *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

func (c *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, Published{Key: key, Msg: msg})
	for queue, pattern := range c.bindings {
		if !strings.HasPrefix(key, strings.TrimSuffix(pattern, "*")) {
			continue
		}
		if deliveries, ok := c.consumers[queue]; ok {
			c.nextTag++
			deliveries <- amqp.Delivery{
				Acknowledger: c.acks,
				DeliveryTag:  c.nextTag,
				MessageId:    msg.MessageId,
				Body:         msg.Body,
			}
		}
	}
	return nil
}

func (c *Channel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deliveries := make(chan amqp.Delivery, 64)
	c.consumers[queue] = deliveries
	return deliveries, nil
}

func (c *Channel) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, ch)
	return ch
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, n := range c.notify {
		close(n)
	}
	c.notify = nil
	for q, d := range c.consumers {
		close(d)
		delete(c.consumers, q)
	}
	return nil
}

type acker struct {
	mu  sync.Mutex
	log []Settlement
}

func (a *acker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = append(a.log, Settlement{Tag: tag, Ack: true})
	return nil
}

func (a *acker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = append(a.log, Settlement{Tag: tag, Requeue: requeue})
	return nil
}

func (a *acker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *acker) settled() []Settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Settlement(nil), a.log...)
}
