package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/prudhvinik1/syncbridge/internal/legacy"
	"github.com/prudhvinik1/syncbridge/internal/logger"
	"github.com/prudhvinik1/syncbridge/internal/metrics"
	"github.com/prudhvinik1/syncbridge/internal/models"
	"github.com/prudhvinik1/syncbridge/internal/repositories"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type ApplyResult string

const (
	ResultApplied  ApplyResult = "applied"
	ResultNoop     ApplyResult = "noop"
	ResultSkipped  ApplyResult = "skipped"
	ResultFailed   ApplyResult = "failed"
	ResultRejected ApplyResult = "rejected"
)

var (
	ErrNoOwnership = errors.New("domain does not support ownership changes")
	ErrBusy        = errors.New("another sync operation is in progress")
)

// Writer state. Exactly one of apply or reconcile may hold the domain.
const (
	stateIdle int32 = iota
	stateApplying
	stateReconciling
)

type Identified interface {
	GetID() string
}

type SourceReader[C any] interface {
	List(ctx context.Context) ([]C, error)
	Get(ctx context.Context, id string) (C, error)
	Count(ctx context.Context) (int64, error)
}

type LegacyWriter[L any] interface {
	Create(ctx context.Context, entity L) legacy.Result
	Update(ctx context.Context, id string, entity L) legacy.Result
	Delete(ctx context.Context, id string) legacy.Result
	Get(ctx context.Context, id string) (L, error)
	List(ctx context.Context) ([]L, error)
	Count(ctx context.Context) (int64, error)
}

// Binding wires one entity domain to both systems.
type Binding[C Identified, L Identified] struct {
	Domain    models.Domain
	Source    SourceReader[C]
	Legacy    LegacyWriter[L]
	Snapshots repositories.SnapshotRepository
	ToLegacy  func(C) L
	Equal     func(a, b L) bool
	// SetOwner and PatchOwner are nil for domains without assignment.
	// PatchOwner works on the cached legacy shape when the source is down.
	SetOwner   func(entity C, ownerID string, assigned bool) C
	PatchOwner func(entity L, ownerID string, assigned bool) L
	// Redact, if set, is applied before an entity is logged.
	Redact func(C) C
}

// DomainSyncer is the type-erased view of an EntitySyncService used by the
// dispatcher and the HTTP surface.
type DomainSyncer interface {
	Domain() models.Domain
	ApplyEntity(ctx context.Context, op Operation, raw json.RawMessage) (ApplyResult, error)
	ApplyDelete(ctx context.Context, id string) (ApplyResult, error)
	ApplyAssignment(ctx context.Context, p models.AssignmentPayload, assigned bool) (ApplyResult, error)
	ReconcileAll(ctx context.Context) (models.ReconcileReport, error)
	GetSyncStatus(ctx context.Context) models.SyncStatus
	RedactPayload(raw json.RawMessage) (json.RawMessage, error)
}

type EntitySyncService[C Identified, L Identified] struct {
	b         Binding[C, L]
	state     atomic.Int32
	lastSweep atomic.Pointer[time.Time]
	log       *zap.Logger
}

func NewEntitySyncService[C Identified, L Identified](b Binding[C, L]) *EntitySyncService[C, L] {
	if b.Snapshots == nil {
		b.Snapshots = repositories.NewMemorySnapshotRepository()
	}
	return &EntitySyncService[C, L]{
		b:   b,
		log: logger.Named("sync").With(logger.Domain(b.Domain)),
	}
}

func (s *EntitySyncService[C, L]) Domain() models.Domain {
	return s.b.Domain
}

func (s *EntitySyncService[C, L]) acquire(state int32) bool {
	return s.state.CompareAndSwap(stateIdle, state)
}

func (s *EntitySyncService[C, L]) release() {
	s.state.Store(stateIdle)
}

// ReconciliationInProgress reports whether a sweep currently holds the domain.
func (s *EntitySyncService[C, L]) ReconciliationInProgress() bool {
	return s.state.Load() == stateReconciling
}

func (s *EntitySyncService[C, L]) ApplyEntity(ctx context.Context, op Operation, raw json.RawMessage) (ApplyResult, error) {
	var entity C
	if err := json.Unmarshal(raw, &entity); err != nil {
		s.log.Warn("dropping undecodable entity", logger.Op(string(op)), logger.Err(err))
		return ResultRejected, fmt.Errorf("failed to decode %s entity: %w", s.b.Domain, err)
	}
	if entity.GetID() == "" {
		s.log.Warn("dropping entity without id", logger.Op(string(op)))
		return ResultRejected, fmt.Errorf("%s entity has no id", s.b.Domain)
	}
	return s.ApplyChange(ctx, entity, op)
}

// RedactPayload re-encodes an entity payload with its secrets removed so it
// can be stored outside the sync path.
func (s *EntitySyncService[C, L]) RedactPayload(raw json.RawMessage) (json.RawMessage, error) {
	var entity C
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, fmt.Errorf("failed to decode %s entity: %w", s.b.Domain, err)
	}
	if s.b.Redact != nil {
		entity = s.b.Redact(entity)
	}
	return json.Marshal(entity)
}

// ApplyChange replicates one change. A call that finds the domain busy is
// skipped, not queued.
func (s *EntitySyncService[C, L]) ApplyChange(ctx context.Context, entity C, op Operation) (ApplyResult, error) {
	if !s.acquire(stateApplying) {
		s.log.Warn("sync busy, skipping change", logger.Op(string(op)), logger.EntityID(entity.GetID()))
		s.record(op, ResultSkipped)
		return ResultSkipped, nil
	}
	defer s.release()

	if s.b.Redact != nil {
		s.log.Debug("applying change", logger.Op(string(op)), zap.Any("entity", s.b.Redact(entity)))
	}

	var (
		result ApplyResult
		err    error
	)
	switch op {
	case OpCreate:
		result, err = s.create(ctx, entity)
	case OpUpdate:
		result, err = s.update(ctx, entity)
	case OpDelete:
		result, err = s.delete(ctx, entity.GetID())
	default:
		result, err = ResultRejected, fmt.Errorf("unknown operation %q", op)
	}
	s.record(op, result)
	return result, err
}

func (s *EntitySyncService[C, L]) ApplyDelete(ctx context.Context, id string) (ApplyResult, error) {
	if !s.acquire(stateApplying) {
		s.log.Warn("sync busy, skipping change", logger.Op(string(OpDelete)), logger.EntityID(id))
		s.record(OpDelete, ResultSkipped)
		return ResultSkipped, nil
	}
	defer s.release()

	result, err := s.delete(ctx, id)
	s.record(OpDelete, result)
	return result, err
}

// ApplyAssignment re-reads the entity from the source of truth and applies its
// new owner. When the engine cannot be read the cached legacy snapshot is
// patched instead.
func (s *EntitySyncService[C, L]) ApplyAssignment(ctx context.Context, p models.AssignmentPayload, assigned bool) (ApplyResult, error) {
	if s.b.SetOwner == nil || s.b.PatchOwner == nil {
		s.log.Warn("ignoring assignment", logger.EntityID(p.EntityID), logger.Err(ErrNoOwnership))
		return ResultSkipped, nil
	}
	if !s.acquire(stateApplying) {
		s.log.Warn("sync busy, skipping assignment", logger.EntityID(p.EntityID))
		s.record(OpUpdate, ResultSkipped)
		return ResultSkipped, nil
	}
	defer s.release()

	var target L
	entity, err := s.b.Source.Get(ctx, p.EntityID)
	if err != nil {
		s.log.Warn("source read failed, using snapshot for assignment", logger.EntityID(p.EntityID), logger.Err(err))
		cached, ok := s.snapshot(ctx, p.EntityID)
		if !ok {
			s.record(OpUpdate, ResultFailed)
			return ResultFailed, fmt.Errorf("failed to load %s %s for assignment: %w", s.b.Domain, p.EntityID, err)
		}
		target = s.b.PatchOwner(cached, p.OwnerID, assigned)
	} else {
		target = s.b.ToLegacy(s.b.SetOwner(entity, p.OwnerID, assigned))
	}

	result, err := s.updateTarget(ctx, p.EntityID, target)
	s.record(OpUpdate, result)
	return result, err
}

func (s *EntitySyncService[C, L]) create(ctx context.Context, entity C) (ApplyResult, error) {
	id := entity.GetID()
	if _, ok := s.snapshot(ctx, id); ok {
		return s.update(ctx, entity)
	}

	target := s.b.ToLegacy(entity)
	res := s.b.Legacy.Create(ctx, target)
	if !res.Success && res.StatusCode == http.StatusConflict {
		return s.update(ctx, entity)
	}
	if !res.Success {
		return s.failed(OpCreate, id, res.Err)
	}
	s.remember(ctx, target)
	return ResultApplied, nil
}

func (s *EntitySyncService[C, L]) update(ctx context.Context, entity C) (ApplyResult, error) {
	return s.updateTarget(ctx, entity.GetID(), s.b.ToLegacy(entity))
}

func (s *EntitySyncService[C, L]) updateTarget(ctx context.Context, id string, target L) (ApplyResult, error) {
	current, ok := s.snapshot(ctx, id)
	if !ok {
		fetched, err := s.b.Legacy.Get(ctx, id)
		switch {
		case errors.Is(err, legacy.ErrNotFound):
			return s.createMissing(ctx, target)
		case err != nil:
			return s.failed(OpUpdate, id, err)
		}
		current = fetched
	}

	if s.b.Equal(current, target) {
		s.remember(ctx, current)
		return ResultNoop, nil
	}

	res := s.b.Legacy.Update(ctx, id, target)
	if res.NotFound {
		return s.createMissing(ctx, target)
	}
	if !res.Success {
		return s.failed(OpUpdate, id, res.Err)
	}
	s.remember(ctx, target)
	return ResultApplied, nil
}

func (s *EntitySyncService[C, L]) createMissing(ctx context.Context, target L) (ApplyResult, error) {
	res := s.b.Legacy.Create(ctx, target)
	if !res.Success {
		return s.failed(OpCreate, target.GetID(), res.Err)
	}
	s.remember(ctx, target)
	return ResultApplied, nil
}

// delete treats a missing legacy entity as already deleted.
func (s *EntitySyncService[C, L]) delete(ctx context.Context, id string) (ApplyResult, error) {
	res := s.b.Legacy.Delete(ctx, id)
	if res.NotFound {
		s.forget(ctx, id)
		s.log.Debug("delete of unknown entity", logger.EntityID(id))
		return ResultNoop, nil
	}
	if !res.Success {
		return s.failed(OpDelete, id, res.Err)
	}
	s.forget(ctx, id)
	return ResultApplied, nil
}

func (s *EntitySyncService[C, L]) failed(op Operation, id string, err error) (ApplyResult, error) {
	s.log.Error("legacy call failed", logger.Op(string(op)), logger.EntityID(id), logger.Err(err))
	return ResultFailed, fmt.Errorf("failed to %s %s %s: %w", op, s.b.Domain, id, err)
}

func (s *EntitySyncService[C, L]) record(op Operation, result ApplyResult) {
	metrics.ApplyTotal.WithLabelValues(string(s.b.Domain), string(op), string(result)).Inc()
}

func (s *EntitySyncService[C, L]) snapshot(ctx context.Context, id string) (L, bool) {
	var zero L
	data, err := s.b.Snapshots.Get(ctx, s.b.Domain, id)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			s.log.Warn("snapshot read failed", logger.EntityID(id), logger.Err(err))
		}
		return zero, false
	}
	var entity L
	if err := json.Unmarshal(data, &entity); err != nil {
		s.log.Warn("discarding corrupt snapshot", logger.EntityID(id), logger.Err(err))
		return zero, false
	}
	return entity, true
}

func (s *EntitySyncService[C, L]) remember(ctx context.Context, entity L) {
	data, err := json.Marshal(entity)
	if err == nil {
		err = s.b.Snapshots.Put(ctx, s.b.Domain, entity.GetID(), data)
	}
	if err != nil {
		s.log.Warn("snapshot write failed", logger.EntityID(entity.GetID()), logger.Err(err))
	}
}

func (s *EntitySyncService[C, L]) forget(ctx context.Context, id string) {
	if err := s.b.Snapshots.Delete(ctx, s.b.Domain, id); err != nil {
		s.log.Warn("snapshot delete failed", logger.EntityID(id), logger.Err(err))
	}
}

// ReconcileAll converges the legacy system onto the source of truth. Failures
// on single entities are counted and the sweep carries on.
func (s *EntitySyncService[C, L]) ReconcileAll(ctx context.Context) (models.ReconcileReport, error) {
	report := models.ReconcileReport{Domain: s.b.Domain}
	if !s.acquire(stateReconciling) {
		s.log.Warn("sync busy, skipping reconciliation")
		metrics.ReconcileTotal.WithLabelValues(string(s.b.Domain), "skipped").Inc()
		report.Skipped = true
		return report, nil
	}
	defer s.release()

	start := time.Now()
	s.log.Info("reconciliation started")

	sources, err := s.b.Source.List(ctx)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues(string(s.b.Domain), "error").Inc()
		return report, fmt.Errorf("failed to list source %s: %w", s.b.Domain, err)
	}
	existing, err := s.b.Legacy.List(ctx)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues(string(s.b.Domain), "error").Inc()
		return report, fmt.Errorf("failed to list legacy %s: %w", s.b.Domain, err)
	}

	// Every surviving entity is remembered again below, so stale entries go.
	if err := s.b.Snapshots.Clear(ctx, s.b.Domain); err != nil {
		s.log.Warn("snapshot clear failed", logger.Err(err))
	}

	byID := make(map[string]L, len(existing))
	for _, e := range existing {
		byID[e.GetID()] = e
	}

	for _, entity := range sources {
		id := entity.GetID()
		target := s.b.ToLegacy(entity)
		current, ok := byID[id]
		delete(byID, id)

		switch {
		case !ok:
			if res := s.b.Legacy.Create(ctx, target); !res.Success {
				s.log.Error("reconcile create failed", logger.EntityID(id), logger.Err(res.Err))
				report.Failed++
				continue
			}
			s.remember(ctx, target)
			report.Created++
		case s.b.Equal(current, target):
			s.remember(ctx, current)
			report.Unchanged++
		default:
			if res := s.b.Legacy.Update(ctx, id, target); !res.Success {
				s.log.Error("reconcile update failed", logger.EntityID(id), logger.Err(res.Err))
				report.Failed++
				continue
			}
			s.remember(ctx, target)
			report.Updated++
		}
	}

	extra := make([]string, 0, len(byID))
	for id := range byID {
		extra = append(extra, id)
	}
	sort.Strings(extra)
	for _, id := range extra {
		if res := s.b.Legacy.Delete(ctx, id); !res.Success && !res.NotFound {
			s.log.Error("reconcile delete failed", logger.EntityID(id), logger.Err(res.Err))
			report.Failed++
			continue
		}
		s.forget(ctx, id)
		report.Deleted++
	}

	now := time.Now()
	s.lastSweep.Store(&now)
	report.Duration = now.Sub(start)

	outcome := "ok"
	if report.Failed > 0 {
		outcome = "partial"
	}
	metrics.ReconcileTotal.WithLabelValues(string(s.b.Domain), outcome).Inc()
	metrics.ReconcileDuration.WithLabelValues(string(s.b.Domain)).Observe(report.Duration.Seconds())

	s.log.Info("reconciliation finished",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("deleted", report.Deleted),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// GetSyncStatus never fails. On error it reports zero counts and the error.
func (s *EntitySyncService[C, L]) GetSyncStatus(ctx context.Context) models.SyncStatus {
	status := models.SyncStatus{
		Domain:                   s.b.Domain,
		ReconciliationInProgress: s.ReconciliationInProgress(),
		LastSweepAt:              s.lastSweep.Load(),
	}

	sourceCount, err := s.b.Source.Count(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	legacyCount, err := s.b.Legacy.Count(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.SourceCount = sourceCount
	status.LegacyCount = legacyCount
	return status
}
