package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/prudhvinik1/syncbridge/internal/logger"
	"github.com/prudhvinik1/syncbridge/internal/metrics"
	"github.com/prudhvinik1/syncbridge/internal/models"
)

var ErrStreamClosed = errors.New("event stream closed")

type Listener struct {
	classifier *Classifier
	log        *zap.Logger
}

func NewListener(c *Classifier) *Listener {
	return &Listener{classifier: c, log: logger.Named("stream")}
}

// Listen reads frames from conn until it fails or ctx is done, handing
// business events to out. A full out drops the event instead of stalling the
// read loop. Listen closes conn before returning and never reconnects.
func (l *Listener) Listen(ctx context.Context, conn Conn, out chan<- models.RawEvent) error {
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	defer closeConn()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage.
			closeConn()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrStreamClosed, err)
		}

		var ev models.RawEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			l.log.Warn("skipping malformed frame", zap.Int("bytes", len(data)), logger.Err(err))
			metrics.EventsDropped.WithLabelValues("malformed").Inc()
			continue
		}

		class := l.classifier.Classify(ev)
		metrics.EventsReceived.WithLabelValues(string(class)).Inc()
		if class != ClassBusiness {
			continue
		}

		select {
		case out <- ev:
		default:
			l.log.Warn("handoff buffer full, dropping event", logger.EventName(ev.Name), logger.CorrelationID(ev.CorrelationID))
			metrics.EventsDropped.WithLabelValues("buffer_full").Inc()
		}
	}
}
