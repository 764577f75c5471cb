package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/syncbridge/internal/config"
	"github.com/prudhvinik1/syncbridge/internal/models"
	"github.com/prudhvinik1/syncbridge/internal/queue/queuetest"
)

var testBrokerConfig = config.BrokerConfig{
	Host: "localhost", Port: 5672, User: "guest", Password: "guest", VHost: "/", Exchange: "sync.events",
}

func fakeDialer(ch *queuetest.Channel) DialFunc {
	return func(string) (Channel, io.Closer, error) {
		return ch, ch.Closer(), nil
	}
}

func newTestBroker(t *testing.T) (*Broker, *queuetest.Channel) {
	ch := queuetest.NewChannel()
	b := NewBroker(testBrokerConfig, WithDialer(fakeDialer(ch)))
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b, ch
}

func testEvent(id string, eventType models.EventType) models.SyncEvent {
	return models.SyncEvent{
		EventType:    eventType,
		EventID:      id,
		SourceSystem: models.SourceProtocolEngine,
		Domain:       models.DomainDevice,
		Payload:      json.RawMessage(`{"id":"d1"}`),
		Metadata:     models.SyncEventMetadata{CorrelationID: "corr-" + id},
	}
}

func TestInitialize_DeclaresDurableTopology(t *testing.T) {
	b, ch := newTestBroker(t)

	assert.Equal(t, amqp.ExchangeTopic, ch.ExchangeKind("sync.events"))
	for _, d := range models.Domains {
		q, ok := ch.Queue(d.QueueName())
		require.True(t, ok, d)
		assert.True(t, q.Durable)
		assert.False(t, q.AutoDelete)
		assert.Equal(t, string(d)+".*", ch.Binding(d.QueueName()))
	}
	assert.Equal(t, 1, ch.Prefetch())
	assert.True(t, b.Healthy())
}

func TestInitialize_IsIdempotent(t *testing.T) {
	b, ch := newTestBroker(t)

	require.NoError(t, b.Initialize(context.Background()))
	assert.Equal(t, len(models.Domains), ch.Queues())
}

func TestInitialize_MismatchIsFatal(t *testing.T) {
	ch := queuetest.NewChannel()
	ch.SetDeclareErr(&amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'durable'"})
	b := NewBroker(testBrokerConfig, WithDialer(fakeDialer(ch)))

	err := b.Initialize(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueMismatch)
	assert.False(t, b.Healthy())
}

func TestInitialize_OtherErrorsAreNotMismatch(t *testing.T) {
	ch := queuetest.NewChannel()
	ch.SetDeclareErr(&amqp.Error{Code: amqp.AccessRefused, Reason: "ACCESS_REFUSED"})
	b := NewBroker(testBrokerConfig, WithDialer(fakeDialer(ch)))

	err := b.Initialize(context.Background())

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrQueueMismatch))
}

func TestPublish_PersistentWithRoutingKey(t *testing.T) {
	b, ch := newTestBroker(t)

	err := b.Publish(context.Background(), "sync.device", testEvent("e1", models.EventEntityCreated))

	require.NoError(t, err)
	published := ch.Published()
	require.Len(t, published, 1)
	msg := published[0].Msg
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "e1", msg.MessageId)
	assert.Equal(t, "corr-e1", msg.CorrelationId)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "device.entity.created", published[0].Key)

	var decoded models.SyncEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "e1", decoded.EventID)
}

func TestPublish_Errors(t *testing.T) {
	b, ch := newTestBroker(t)
	ctx := context.Background()

	err := b.Publish(ctx, "sync.unknown", testEvent("e1", models.EventEntityCreated))
	assert.ErrorIs(t, err, ErrUnknownQueue)

	ch.SetPublishErr(errors.New("channel busy"))
	err = b.Publish(ctx, "sync.device", testEvent("e2", models.EventEntityCreated))
	assert.Error(t, err)

	ch.Close()
	err = b.Publish(ctx, "sync.device", testEvent("e3", models.EventEntityCreated))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConsume_ExplicitAckAndNack(t *testing.T) {
	b, ch := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	err := b.Consume(ctx, "sync.device", func(ctx context.Context, msg *Message) {
		got <- msg.Event.EventID
		if msg.Event.EventID == "e1" {
			msg.Ack()
		} else {
			msg.Nack(true)
		}
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "sync.device", testEvent("e1", models.EventEntityCreated)))
	require.NoError(t, b.Publish(ctx, "sync.device", testEvent("e2", models.EventEntityUpdated)))

	assert.Equal(t, "e1", <-got)
	assert.Equal(t, "e2", <-got)
	require.Eventually(t, func() bool { return len(ch.Settled()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []queuetest.Settlement{{Tag: 1, Ack: true}, {Tag: 2, Requeue: true}}, ch.Settled())
}

func TestConsume_UndecodableIsDiscarded(t *testing.T) {
	b, ch := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, b.Consume(ctx, "sync.device", func(ctx context.Context, msg *Message) {
		calls.Add(1)
		msg.Ack()
	}))

	ch.Inject("sync.device", []byte("not json"))

	require.Eventually(t, func() bool { return len(ch.Settled()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, queuetest.Settlement{Tag: 1}, ch.Settled()[0])
	assert.Zero(t, calls.Load())
}

func TestConsume_SerialPerQueue(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	wg.Add(5)
	require.NoError(t, b.Consume(ctx, "sync.device", func(ctx context.Context, msg *Message) {
		defer wg.Done()
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		msg.Ack()
	}))

	for i := range 5 {
		require.NoError(t, b.Publish(ctx, "sync.device", testEvent(string(rune('a'+i)), models.EventEntityUpdated)))
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

// TestConsume_ReconnectWaitsForInFlightHandler tests that a consumer on a new channel does not overlap the previous one
func TestConsume_ReconnectWaitsForInFlightHandler(t *testing.T) {
	// ARRANGE
	chans := []*queuetest.Channel{queuetest.NewChannel(), queuetest.NewChannel()}
	var dials atomic.Int32
	b := NewBroker(testBrokerConfig, WithDialer(func(string) (Channel, io.Closer, error) {
		ch := chans[dials.Add(1)-1]
		return ch, ch.Closer(), nil
	}))
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { b.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := make(chan struct{})
	var started, inFlight, maxInFlight atomic.Int32
	handler := func(ctx context.Context, msg *Message) {
		started.Add(1)
		if n := inFlight.Add(1); n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		if msg.Event.EventID == "old" {
			<-gate
		}
		inFlight.Add(-1)
		msg.Ack()
	}
	require.NoError(t, b.Consume(ctx, "sync.device", handler))
	chans[0].Inject("sync.device", []byte(`{"eventType":"entity.updated","eventId":"old","domain":"device"}`))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)

	// ACT
	chans[0].Fail(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"})
	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, b.Consume(ctx, "sync.device", handler))
	chans[1].Inject("sync.device", []byte(`{"eventType":"entity.updated","eventId":"new","domain":"device"}`))

	// ASSERT
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load(), "new consumer must wait for the in-flight handler")
	close(gate)
	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

// TestConsume_UnknownEventTypeIsNormalized tests that an out-of-range event type reaches the handler as the unknown variant
func TestConsume_UnknownEventTypeIsNormalized(t *testing.T) {
	// ARRANGE
	b, ch := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan models.EventType, 1)
	require.NoError(t, b.Consume(ctx, "sync.device", func(ctx context.Context, msg *Message) {
		got <- msg.Event.EventType
		msg.Nack(false)
	}))

	// ACT
	ch.Inject("sync.device", []byte(`{"eventType":"entity.exploded","eventId":"e9","domain":"device"}`))

	// ASSERT
	select {
	case eventType := <-got:
		assert.Equal(t, models.EventTypeUnknown, eventType)
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestConsume_UnknownQueue(t *testing.T) {
	b, _ := newTestBroker(t)

	err := b.Consume(context.Background(), "sync.nope", func(context.Context, *Message) {})

	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestNotifyClosed(t *testing.T) {
	b, ch := newTestBroker(t)
	closed := b.NotifyClosed()
	require.NotNil(t, closed)

	ch.Fail(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"})

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("close was not reported")
	}
	assert.False(t, b.Healthy())
}

func TestNotifyClosed_NilBeforeInitialize(t *testing.T) {
	b := NewBroker(testBrokerConfig, WithDialer(fakeDialer(queuetest.NewChannel())))

	assert.Nil(t, b.NotifyClosed())
	assert.False(t, b.Healthy())
	assert.NoError(t, b.Close())
}
