package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// MetricsStore implements store.MetricsStore using PostgreSQL.
type MetricsStore struct {
	pool *pgxpool.Pool
}

// NewMetricsStore creates a new PostgreSQL-backed metrics store.
func NewMetricsStore(pool *pgxpool.Pool) *MetricsStore {
	return &MetricsStore{
		pool: pool,
	}
}

// Upsert writes the tenant's dashboard aggregate. The metrics saga calls
// this once per tenant per run, so last write wins.
func (s *MetricsStore) Upsert(ctx context.Context, m *models.DashboardMetrics) error {
	query := `
		INSERT INTO dashboard_metrics (
			tenant_id, schema_name, new_todos, completed_todos, deleted_todos,
			total_todos, total_users, owners, members, viewers, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (tenant_id)
		DO UPDATE SET
			schema_name = EXCLUDED.schema_name,
			new_todos = EXCLUDED.new_todos,
			completed_todos = EXCLUDED.completed_todos,
			deleted_todos = EXCLUDED.deleted_todos,
			total_todos = EXCLUDED.total_todos,
			total_users = EXCLUDED.total_users,
			owners = EXCLUDED.owners,
			members = EXCLUDED.members,
			viewers = EXCLUDED.viewers,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		m.TenantID,
		m.SchemaName,
		m.NewTodos,
		m.CompletedTodos,
		m.DeletedTodos,
		m.TotalTodos,
		m.TotalUsers,
		m.Owners,
		m.Members,
		m.Viewers,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dashboard metrics: %w", err)
	}
	return nil
}

// Get retrieves the tenant's dashboard aggregate.
func (s *MetricsStore) Get(ctx context.Context, tenantID uuid.UUID) (*models.DashboardMetrics, error) {
	query := `
		SELECT
			tenant_id, schema_name, new_todos, completed_todos, deleted_todos,
			total_todos, total_users, owners, members, viewers, updated_at
		FROM dashboard_metrics
		WHERE tenant_id = $1
	`

	var m models.DashboardMetrics
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&m.TenantID,
		&m.SchemaName,
		&m.NewTodos,
		&m.CompletedTodos,
		&m.DeletedTodos,
		&m.TotalTodos,
		&m.TotalUsers,
		&m.Owners,
		&m.Members,
		&m.Viewers,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get dashboard metrics: %w", err)
	}
	return &m, nil
}
