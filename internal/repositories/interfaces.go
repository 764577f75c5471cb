package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prudhvinik1/syncbridge/internal/models"
)

var ErrNotFound = errors.New("not found")

// SnapshotRepository caches the last-known-good legacy shape of each entity,
// JSON encoded. It is never authoritative and may be cleared at any time.
type SnapshotRepository interface {
	Get(ctx context.Context, domain models.Domain, id string) ([]byte, error)
	Put(ctx context.Context, domain models.Domain, id string, data []byte) error
	Delete(ctx context.Context, domain models.Domain, id string) error
	Clear(ctx context.Context, domain models.Domain) error
}

type SyncEventRepository interface {
	Append(ctx context.Context, record *models.AuditRecord) error
	GetByEventID(ctx context.Context, eventID string) ([]*models.AuditRecord, error)
	ListRecent(ctx context.Context, domain models.Domain, limit int) ([]*models.AuditRecord, error)
}

// DBTX is the part of pgxpool.Pool the repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
