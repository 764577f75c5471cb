package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prudhvinik1/syncbridge/internal/logger"
	"github.com/prudhvinik1/syncbridge/internal/models"
)

var ErrUnknownDomain = errors.New("no sync service for domain")

type Outcome struct {
	Result ApplyResult
	Err    error
}

// AuditOutcome maps the result onto the audit log vocabulary.
func (o Outcome) AuditOutcome() models.AuditOutcome {
	switch o.Result {
	case ResultApplied:
		return models.OutcomeApplied
	case ResultNoop:
		return models.OutcomeNoop
	case ResultSkipped:
		return models.OutcomeSkipped
	case ResultFailed:
		return models.OutcomeFailed
	default:
		return models.OutcomeRejected
	}
}

// Dispatcher routes a SyncEvent to the sync service of its domain.
type Dispatcher struct {
	syncers map[models.Domain]DomainSyncer
	log     *zap.Logger
}

func NewDispatcher(syncers ...DomainSyncer) *Dispatcher {
	d := &Dispatcher{
		syncers: make(map[models.Domain]DomainSyncer, len(syncers)),
		log:     logger.Named("dispatcher"),
	}
	for _, s := range syncers {
		d.syncers[s.Domain()] = s
	}
	return d
}

func (d *Dispatcher) Syncer(domain models.Domain) (DomainSyncer, bool) {
	s, ok := d.syncers[domain]
	return s, ok
}

func (d *Dispatcher) Syncers() []DomainSyncer {
	out := make([]DomainSyncer, 0, len(d.syncers))
	for _, domain := range models.Domains {
		if s, ok := d.syncers[domain]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev models.SyncEvent) Outcome {
	log := d.log.With(logger.EventID(ev.EventID), logger.EventType(ev.EventType), logger.Domain(ev.Domain))

	syncer, ok := d.syncers[ev.Domain]
	if !ok {
		log.Warn("dropping event for unmanaged domain")
		return Outcome{Result: ResultRejected, Err: fmt.Errorf("%w: %q", ErrUnknownDomain, ev.Domain)}
	}

	payload, err := ev.DecodePayload()
	if err != nil {
		log.Warn("dropping event with bad payload", logger.Err(err))
		return Outcome{Result: ResultRejected, Err: err}
	}

	var result ApplyResult
	switch ev.EventType {
	case models.EventEntityCreated:
		result, err = syncer.ApplyEntity(ctx, OpCreate, payload.(models.EntityPayload).Entity)
	case models.EventEntityUpdated:
		result, err = syncer.ApplyEntity(ctx, OpUpdate, payload.(models.EntityPayload).Entity)
	case models.EventEntityDeleted:
		result, err = syncer.ApplyDelete(ctx, payload.(models.DeletePayload).ID)
	case models.EventEntityAssigned:
		result, err = syncer.ApplyAssignment(ctx, payload.(models.AssignmentPayload), true)
	case models.EventEntityUnassigned:
		result, err = syncer.ApplyAssignment(ctx, payload.(models.AssignmentPayload), false)
	case models.EventBulkImported, models.EventBulkDeleted:
		// Bulk operations do not reliably emit per-item events.
		var report models.ReconcileReport
		report, err = syncer.ReconcileAll(ctx)
		switch {
		case err != nil:
			result = ResultFailed
		case report.Skipped:
			result = ResultSkipped
		default:
			result = ResultApplied
		}
	case models.EventTypeUnknown:
		log.Warn("dropping unknown event type")
		return Outcome{Result: ResultRejected, Err: models.ErrUnknownEventType}
	default:
		log.Warn("dropping unhandled event type")
		return Outcome{Result: ResultRejected, Err: fmt.Errorf("%w: %q", models.ErrUnknownEventType, ev.EventType)}
	}

	if err != nil {
		log.Warn("event not applied", zap.String("result", string(result)), logger.Err(err))
	} else {
		log.Debug("event processed", zap.String("result", string(result)))
	}
	return Outcome{Result: result, Err: err}
}

// AuditPayload is the part of ev that may be persisted. Entity payloads go
// through the domain's redaction and are dropped when that fails.
func (d *Dispatcher) AuditPayload(ev models.SyncEvent) json.RawMessage {
	switch ev.EventType {
	case models.EventEntityDeleted, models.EventEntityAssigned, models.EventEntityUnassigned,
		models.EventBulkImported, models.EventBulkDeleted:
		return ev.Payload
	case models.EventEntityCreated, models.EventEntityUpdated:
	default:
		return nil
	}
	syncer, ok := d.syncers[ev.Domain]
	if !ok {
		return nil
	}
	redacted, err := syncer.RedactPayload(ev.Payload)
	if err != nil {
		d.log.Debug("audit payload omitted", logger.EventID(ev.EventID), logger.Err(err))
		return nil
	}
	return redacted
}
