package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prudhvinik1/syncbridge/internal/models"
)

// PostgresSyncEventRepository is the audit log of every SyncEvent consumed
// from a domain queue.
type PostgresSyncEventRepository struct {
	db DBTX
}

func NewPostgresSyncEventRepository(db DBTX) *PostgresSyncEventRepository {
	return &PostgresSyncEventRepository{db: db}
}

func (r *PostgresSyncEventRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	query := `INSERT INTO sync_events (event_id, event_type, domain, correlation_id, outcome, detail, payload, occurred_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		record.EventID,
		string(record.EventType),
		string(record.Domain),
		record.CorrelationID,
		string(record.Outcome),
		record.Detail,
		[]byte(record.Payload),
		record.OccurredAt,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append sync event: %w", err)
	}
	return nil
}

func (r *PostgresSyncEventRepository) GetByEventID(ctx context.Context, eventID string) ([]*models.AuditRecord, error) {
	query := `SELECT id, event_id, event_type, domain, correlation_id, outcome, detail, payload, occurred_at, created_at
	          FROM sync_events
	          WHERE event_id = $1
	          ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync events: %w", err)
	}
	records, err := scanAuditRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

func (r *PostgresSyncEventRepository) ListRecent(ctx context.Context, domain models.Domain, limit int) ([]*models.AuditRecord, error) {
	query := `SELECT id, event_id, event_type, domain, correlation_id, outcome, detail, payload, occurred_at, created_at
	          FROM sync_events
	          WHERE domain = $1
	          ORDER BY created_at DESC
	          LIMIT $2`

	rows, err := r.db.Query(ctx, query, string(domain), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync events: %w", err)
	}
	return scanAuditRecords(rows)
}

func scanAuditRecords(rows pgx.Rows) ([]*models.AuditRecord, error) {
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var (
			record    models.AuditRecord
			eventType string
			domain    string
			outcome   string
			payload   []byte
		)
		err := rows.Scan(
			&record.ID,
			&record.EventID,
			&eventType,
			&domain,
			&record.CorrelationID,
			&outcome,
			&record.Detail,
			&payload,
			&record.OccurredAt,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync event: %w", err)
		}
		record.EventType = models.EventType(eventType)
		record.Domain = models.Domain(domain)
		record.Outcome = models.AuditOutcome(outcome)
		record.Payload = payload
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync events: %w", err)
	}
	return records, nil
}

// NoopSyncEventRepository stands in when no DATABASE_URL is configured.
type NoopSyncEventRepository struct{}

func (NoopSyncEventRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	return nil
}

func (NoopSyncEventRepository) GetByEventID(ctx context.Context, eventID string) ([]*models.AuditRecord, error) {
	return nil, ErrNotFound
}

func (NoopSyncEventRepository) ListRecent(ctx context.Context, domain models.Domain, limit int) ([]*models.AuditRecord, error) {
	return nil, nil
}
