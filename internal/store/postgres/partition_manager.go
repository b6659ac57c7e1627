package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// schemaNamePattern is stricter than what PostgreSQL allows. Schema names are
// interpolated into DDL, so only lowercase identifiers derived by the slug
// generator are accepted.
var schemaNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// partitionTemplate is the DDL applied inside every new tenant schema.
// %[1]s is the sanitized schema identifier.
const partitionTemplate = `
CREATE TABLE %[1]s.todos (
    id             UUID PRIMARY KEY,
    title          TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    completed      BOOLEAN NOT NULL DEFAULT FALSE,
    deleted        BOOLEAN NOT NULL DEFAULT FALSE,
    due_date       TIMESTAMPTZ,
    recurrence     TEXT NOT NULL DEFAULT 'NONE' CHECK (recurrence IN ('NONE', 'DAILY', 'WEEKLY', 'MONTHLY')),
    parent_id      UUID,
    created_by_id  UUID NOT NULL,
    assigned_to_id UUID,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX idx_todos_recurring ON %[1]s.todos (completed)
    WHERE recurrence <> 'NONE' AND completed = TRUE AND deleted = FALSE;

CREATE TABLE %[1]s.orchestration_log (
    id         BIGSERIAL PRIMARY KEY,
    run_id     UUID NOT NULL,
    saga       TEXT NOT NULL,
    status     TEXT NOT NULL CHECK (status IN ('STARTED', 'COMPLETED', 'FAILED')),
    detail     JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PartitionManager implements store.PartitionManager using one PostgreSQL
// schema per tenant.
type PartitionManager struct {
	pool *pgxpool.Pool
}

// NewPartitionManager creates a new schema-per-tenant partition manager.
// It shares the connection pool with the catalog stores.
func NewPartitionManager(pool *pgxpool.Pool) *PartitionManager {
	return &PartitionManager{
		pool: pool,
	}
}

func validSchemaName(schemaName string) error {
	if !schemaNamePattern.MatchString(schemaName) {
		return fmt.Errorf("invalid partition schema name %q", schemaName)
	}
	return nil
}

// CreatePartition creates the tenant schema and its tables. Creating an
// existing partition is a no-op.
func (s *PartitionManager) CreatePartition(ctx context.Context, schemaName string) error {
	if err := validSchemaName(schemaName); err != nil {
		return err
	}

	exists, err := s.PartitionExists(ctx, schemaName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	ident := pgx.Identifier{schemaName}.Sanitize()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin partition transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if _, err := tx.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(partitionTemplate, ident)); err != nil {
		return fmt.Errorf("failed to create partition tables: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit partition creation: %w", err)
	}

	log.Info().Str("schema_name", schemaName).Msg("Created tenant partition")
	return nil
}

// DropPartition removes the schema and everything in it. A missing partition
// is success; the bool reports whether anything was dropped.
func (s *PartitionManager) DropPartition(ctx context.Context, schemaName string) (bool, error) {
	if err := validSchemaName(schemaName); err != nil {
		return false, err
	}

	exists, err := s.PartitionExists(ctx, schemaName)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	ident := pgx.Identifier{schemaName}.Sanitize()
	if _, err := s.pool.Exec(ctx, "DROP SCHEMA "+ident+" CASCADE"); err != nil {
		return false, fmt.Errorf("failed to drop schema %s: %w", schemaName, err)
	}

	log.Info().Str("schema_name", schemaName).Msg("Dropped tenant partition")
	return true, nil
}

// PartitionExists reports whether the tenant schema exists in the database.
func (s *PartitionManager) PartitionExists(ctx context.Context, schemaName string) (bool, error) {
	if err := validSchemaName(schemaName); err != nil {
		return false, err
	}

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM information_schema.schemata WHERE schema_name = $1
		)
	`, schemaName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check partition: %w", err)
	}
	return exists, nil
}

// TodoCounts tallies the partition's todos. Deleted todos count only toward
// Deleted; Total covers live todos.
func (s *PartitionManager) TodoCounts(ctx context.Context, schemaName string) (*store.TodoCounts, error) {
	if err := validSchemaName(schemaName); err != nil {
		return nil, err
	}

	ident := pgx.Identifier{schemaName}.Sanitize()
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE NOT deleted AND NOT completed),
			COUNT(*) FILTER (WHERE NOT deleted AND completed),
			COUNT(*) FILTER (WHERE deleted),
			COUNT(*) FILTER (WHERE NOT deleted)
		FROM %s.todos
	`, ident)

	var counts store.TodoCounts
	err := s.pool.QueryRow(ctx, query).Scan(
		&counts.New, &counts.Completed, &counts.Deleted, &counts.Total)
	if err != nil {
		if isMissingSchema(err) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to count todos: %w", err)
	}
	return &counts, nil
}

// AppendLog writes a saga record into the partition's orchestration log.
func (s *PartitionManager) AppendLog(ctx context.Context, schemaName string, rec *models.OrchestrationLogRecord) error {
	if err := validSchemaName(schemaName); err != nil {
		return err
	}

	detail := rec.Detail
	if len(detail) == 0 {
		detail = json.RawMessage(`{}`)
	}

	ident := pgx.Identifier{schemaName}.Sanitize()
	query := fmt.Sprintf(`
		INSERT INTO %s.orchestration_log (run_id, saga, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, ident)

	err := s.pool.QueryRow(ctx, query,
		rec.RunID, rec.Saga, rec.Status, detail, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		if isMissingSchema(err) {
			return store.ErrTenantNotFound
		}
		return fmt.Errorf("failed to append orchestration log: %w", err)
	}
	return nil
}

// ListLog returns the newest orchestration log records, up to limit.
func (s *PartitionManager) ListLog(ctx context.Context, schemaName string, limit int) ([]*models.OrchestrationLogRecord, error) {
	if err := validSchemaName(schemaName); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	ident := pgx.Identifier{schemaName}.Sanitize()
	query := fmt.Sprintf(`
		SELECT id, run_id, saga, status, detail, created_at
		FROM %s.orchestration_log
		ORDER BY id DESC
		LIMIT $1
	`, ident)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		if isMissingSchema(err) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to list orchestration log: %w", err)
	}
	defer rows.Close()

	var records []*models.OrchestrationLogRecord
	for rows.Next() {
		var rec models.OrchestrationLogRecord
		err := rows.Scan(&rec.ID, &rec.RunID, &rec.Saga, &rec.Status, &rec.Detail, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log records: %w", err)
	}

	return records, nil
}

const todoColumns = `
	id, title, description, completed, deleted, due_date,
	recurrence, parent_id, created_by_id, assigned_to_id, created_at
`

// ListRecurringCompleted returns completed, non-deleted todos with a
// recurrence set.
func (s *PartitionManager) ListRecurringCompleted(ctx context.Context, schemaName string) ([]*models.Todo, error) {
	if err := validSchemaName(schemaName); err != nil {
		return nil, err
	}

	ident := pgx.Identifier{schemaName}.Sanitize()
	query := fmt.Sprintf(`
		SELECT `+todoColumns+`
		FROM %s.todos
		WHERE recurrence <> 'NONE' AND completed = TRUE AND deleted = FALSE
		ORDER BY id
	`, ident)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		if isMissingSchema(err) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to list recurring todos: %w", err)
	}
	defer rows.Close()

	var todos []*models.Todo
	for rows.Next() {
		var t models.Todo
		err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &t.Completed, &t.Deleted, &t.DueDate,
			&t.Recurrence, &t.ParentID, &t.CreatedByID, &t.AssignedToID, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating todos: %w", err)
	}

	return todos, nil
}

// Rollover inserts the next instance and clears the original's recurrence in
// one transaction, so a crash never yields a half-rolled todo.
func (s *PartitionManager) Rollover(ctx context.Context, schemaName string, original *models.Todo, next *models.Todo) error {
	if err := validSchemaName(schemaName); err != nil {
		return err
	}

	ident := pgx.Identifier{schemaName}.Sanitize()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rollover transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	insert := fmt.Sprintf(`
		INSERT INTO %s.todos (`+todoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ident)
	_, err = tx.Exec(ctx, insert,
		next.ID, next.Title, next.Description, next.Completed, next.Deleted, next.DueDate,
		next.Recurrence, next.ParentID, next.CreatedByID, next.AssignedToID, next.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rollover todo: %w", err)
	}

	update := fmt.Sprintf(`UPDATE %s.todos SET recurrence = 'NONE' WHERE id = $1`, ident)
	result, err := tx.Exec(ctx, update, original.ID)
	if err != nil {
		return fmt.Errorf("failed to clear original recurrence: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrTenantNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rollover: %w", err)
	}
	return nil
}

// isMissingSchema detects queries against a dropped partition.
func isMissingSchema(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.InvalidSchemaName || pgErr.Code == pgerrcode.UndefinedTable
	}
	return false
}
