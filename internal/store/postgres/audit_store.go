package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mokshitha-y/todosaas/internal/models"
)

// AuditStore implements store.AuditStore using PostgreSQL. The system_audit
// table is append-only and has no foreign keys so records outlive the
// tenants they describe.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new PostgreSQL-backed audit store.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{
		pool: pool,
	}
}

// Append writes a saga run record and fills in the assigned id.
func (s *AuditStore) Append(ctx context.Context, rec *models.SystemAuditRecord) error {
	query := `
		INSERT INTO system_audit (run_id, operation, schema_name, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	detail := rec.Detail
	if len(detail) == 0 {
		detail = json.RawMessage(`{}`)
	}

	err := s.pool.QueryRow(ctx, query,
		rec.RunID,
		rec.Operation,
		rec.SchemaName,
		rec.Status,
		detail,
		rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// List returns the newest records for a schema name, up to limit.
func (s *AuditStore) List(ctx context.Context, schemaName string, limit int) ([]*models.SystemAuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, run_id, operation, schema_name, status, detail, created_at
		FROM system_audit
		WHERE schema_name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, schemaName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.SystemAuditRecord
	for rows.Next() {
		var rec models.SystemAuditRecord
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Operation,
			&rec.SchemaName,
			&rec.Status,
			&rec.Detail,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return records, nil
}
