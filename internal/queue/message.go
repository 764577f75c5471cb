package queue

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prudhvinik1/syncbridge/internal/metrics"
	"github.com/prudhvinik1/syncbridge/internal/models"
)

// Message is one consumed SyncEvent.
type Message struct {
	Event       models.SyncEvent
	Redelivered bool

	queue    string
	delivery amqp.Delivery
}

func (m *Message) Ack() error {
	metrics.QueueSettled.WithLabelValues(m.queue, "ack").Inc()
	return m.delivery.Ack(false)
}

// Nack rejects the message. With requeue the broker redelivers it,
// otherwise its dead-letter policy applies.
func (m *Message) Nack(requeue bool) error {
	settlement := "nack"
	if requeue {
		settlement = "requeue"
	}
	metrics.QueueSettled.WithLabelValues(m.queue, settlement).Inc()
	return m.delivery.Nack(false, requeue)
}

func (m *Message) Queue() string {
	return m.queue
}
