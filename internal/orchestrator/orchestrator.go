// Package orchestrator owns the event stream and broker connections and
// moves business events from one to the other and on to the sync services.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/syncbridge/internal/config"
	"github.com/prudhvinik1/syncbridge/internal/logger"
	"github.com/prudhvinik1/syncbridge/internal/metrics"
	"github.com/prudhvinik1/syncbridge/internal/models"
	"github.com/prudhvinik1/syncbridge/internal/queue"
	"github.com/prudhvinik1/syncbridge/internal/repositories"
	"github.com/prudhvinik1/syncbridge/internal/services"
	"github.com/prudhvinik1/syncbridge/internal/stream"
)

type StreamDialer interface {
	Dial(ctx context.Context) (stream.Conn, error)
}

// Broker is satisfied by *queue.Broker.
type Broker interface {
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, queueName string, ev models.SyncEvent) error
	Consume(ctx context.Context, queueName string, h queue.Handler) error
	Healthy() bool
	NotifyClosed() <-chan error
	Close() error
}

type Deps struct {
	Dialer     StreamDialer
	Listener   *stream.Listener
	Broker     Broker
	Dispatcher *services.Dispatcher
	// Audit receives one record per consumed message. Optional.
	Audit            repositories.SyncEventRepository
	LegacyConfigured bool
}

type Options struct {
	Reconnect         config.ReconnectConfig
	StreamBuffer      int
	ReconcileInterval time.Duration
	ReconcileOnStart  bool
}

type Orchestrator struct {
	deps     Deps
	opts     Options
	builder  *EnvelopeBuilder
	log      *zap.Logger
	streamBO *Backoff
	brokerBO *Backoff

	running      atomic.Bool
	streamActive atomic.Bool
	session      atomic.Pointer[Session]
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Audit == nil {
		deps.Audit = repositories.NoopSyncEventRepository{}
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = 1024
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		builder:  NewEnvelopeBuilder(),
		log:      logger.Named("orchestrator"),
		streamBO: NewBackoff(opts.Reconnect),
		brokerBO: NewBackoff(opts.Reconnect),
	}
}

// Run blocks until ctx is cancelled or a fatal error occurs. Fatal errors
// are ErrReconnectExhausted and queue.ErrQueueMismatch. The broker is closed
// before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		if err := o.deps.Broker.Close(); err != nil {
			o.log.Warn("broker close failed", logger.Err(err))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if err := o.connectBroker(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	o.running.Store(true)
	defer o.running.Store(false)
	o.log.Info("orchestrator running")

	handoff := make(chan models.RawEvent, o.opts.StreamBuffer)
	g.Go(func() error { return o.streamLoop(ctx, handoff) })
	g.Go(func() error { return o.work(ctx, handoff) })
	g.Go(func() error { return o.watchBroker(ctx) })
	if o.opts.ReconcileOnStart {
		g.Go(func() error {
			o.reconcile(ctx, "startup")
			return nil
		})
	}
	if o.opts.ReconcileInterval > 0 {
		g.Go(func() error { return o.reconcileEvery(ctx, o.opts.ReconcileInterval) })
	}

	err := g.Wait()
	o.log.Info("orchestrator stopped", logger.Err(err))
	return err
}

// connectBroker initializes the broker and registers one consumer per
// domain, retrying transient failures with backoff.
func (o *Orchestrator) connectBroker(ctx context.Context) error {
	for {
		err := o.deps.Broker.Initialize(ctx)
		if err == nil {
			err = o.consumeAll(ctx)
		}
		if err == nil {
			o.brokerBO.Reset()
			metrics.ReconnectAttempts.WithLabelValues("broker").Set(0)
			return nil
		}
		if errors.Is(err, queue.ErrQueueMismatch) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay, boErr := o.brokerBO.Next()
		metrics.ReconnectAttempts.WithLabelValues("broker").Set(float64(o.brokerBO.Attempts()))
		if boErr != nil {
			o.log.Error("giving up on broker", logger.Err(err))
			return fmt.Errorf("broker: %w: %w", boErr, err)
		}
		o.log.Warn("broker connect failed", logger.Attempt(o.brokerBO.Attempts()), zap.Duration("retry_in", delay), logger.Err(err))
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) consumeAll(ctx context.Context) error {
	for _, s := range o.deps.Dispatcher.Syncers() {
		name := s.Domain().QueueName()
		if err := o.deps.Broker.Consume(ctx, name, o.handleMessage); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) watchBroker(ctx context.Context) error {
	for {
		closed := o.deps.Broker.NotifyClosed()
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			if ctx.Err() != nil {
				return nil
			}
			o.log.Warn("broker connection lost", logger.Err(err))
			if err := o.connectBroker(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			o.log.Info("broker reconnected")
		}
	}
}

// streamLoop keeps one stream connection open at a time. The attempt
// counter resets on every successful dial.
func (o *Orchestrator) streamLoop(ctx context.Context, out chan<- models.RawEvent) error {
	for {
		conn, err := o.deps.Dialer.Dial(ctx)
		if err == nil {
			o.streamBO.Reset()
			metrics.ReconnectAttempts.WithLabelValues("stream").Set(0)
			session := NewSession()
			o.session.Store(session)
			o.streamActive.Store(true)
			o.log.Info("event stream connected", zap.String("session_id", session.ID))

			err = o.deps.Listener.Listen(ctx, conn, out)
			o.streamActive.Store(false)
		}
		if ctx.Err() != nil {
			return nil
		}

		delay, boErr := o.streamBO.Next()
		metrics.ReconnectAttempts.WithLabelValues("stream").Set(float64(o.streamBO.Attempts()))
		if boErr != nil {
			o.log.Error("giving up on event stream", logger.Err(err))
			return fmt.Errorf("event stream: %w: %w", boErr, err)
		}
		o.log.Warn("event stream down", logger.Attempt(o.streamBO.Attempts()), zap.Duration("retry_in", delay), logger.Err(err))
		if err := sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// work envelopes handed-off events, publishes them and applies them
// directly. A failed publish does not stop the direct apply.
func (o *Orchestrator) work(ctx context.Context, in <-chan models.RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-in:
			o.process(ctx, raw)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, raw models.RawEvent) {
	session := o.session.Load()
	if session == nil {
		session = NewSession()
	}
	ev, err := o.builder.Build(raw, session)
	if err != nil {
		o.log.Warn("dropping event", logger.EventName(raw.Name), logger.Err(err))
		metrics.EventsDropped.WithLabelValues("unmapped").Inc()
		return
	}

	log := o.log.With(logger.EventID(ev.EventID), logger.EventType(ev.EventType), logger.Domain(ev.Domain))
	if err := o.deps.Broker.Publish(ctx, ev.Domain.QueueName(), ev); err != nil {
		log.Warn("publish failed, applying directly only", logger.Err(err))
	}

	out := o.deps.Dispatcher.Dispatch(ctx, ev)
	log.Debug("applied directly", zap.String("result", string(out.Result)))
}

// handleMessage is the queue consumer. Legacy failures are acked because
// the next sweep repairs them. A busy domain is requeued once.
func (o *Orchestrator) handleMessage(ctx context.Context, msg *queue.Message) {
	ev := msg.Event
	log := o.log.With(logger.Queue(msg.Queue()), logger.EventID(ev.EventID), logger.EventType(ev.EventType))

	out := o.deps.Dispatcher.Dispatch(ctx, ev)

	record := &models.AuditRecord{
		EventID:       ev.EventID,
		EventType:     ev.EventType,
		Domain:        ev.Domain,
		CorrelationID: ev.Metadata.CorrelationID,
		Outcome:       out.AuditOutcome(),
		Payload:       o.deps.Dispatcher.AuditPayload(ev),
		OccurredAt:    ev.Metadata.Timestamp,
	}
	if out.Err != nil {
		record.Detail = out.Err.Error()
	}
	if err := o.deps.Audit.Append(ctx, record); err != nil {
		log.Warn("audit append failed", logger.Err(err))
	}

	var err error
	switch {
	case out.Result == services.ResultRejected:
		err = msg.Nack(false)
	case out.Result == services.ResultSkipped && !msg.Redelivered:
		err = msg.Nack(true)
	default:
		err = msg.Ack()
	}
	if err != nil {
		log.Warn("settle failed", logger.Err(err))
	}
}

func (o *Orchestrator) reconcileEvery(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.reconcile(ctx, "periodic")
		}
	}
}

func (o *Orchestrator) reconcile(ctx context.Context, reason string) {
	for _, s := range o.deps.Dispatcher.Syncers() {
		report, err := s.ReconcileAll(ctx)
		if err != nil {
			o.log.Warn("reconcile failed", logger.Domain(s.Domain()), zap.String("reason", reason), logger.Err(err))
			continue
		}
		if report.Skipped {
			continue
		}
		o.log.Info("reconciled",
			logger.Domain(s.Domain()),
			zap.String("reason", reason),
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("deleted", report.Deleted),
			zap.Int("failed", report.Failed),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
