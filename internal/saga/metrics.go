package saga

import (
	"context"

	"github.com/mokshitha-y/todosaas/internal/models"
)

// AggregateMetrics runs the metrics aggregation fan-out: for every active
// tenant, tally the partition's todos and the membership roster, and upsert
// the dashboard aggregate. Scheduled hourly.
func (r *Runner) AggregateMetrics(ctx context.Context, actor Actor) (*Result, error) {
	s := r.newRun(SagaMetricsAggregation, "system", actor)

	err := s.fanOut(ctx, func(ctx context.Context, tenant *models.Tenant) (map[string]any, error) {
		counts, err := r.stores.Partitions.TodoCounts(ctx, tenant.SchemaName)
		if err != nil {
			return nil, err
		}

		members, err := r.stores.Memberships.ListByTenant(ctx, tenant.ID)
		if err != nil {
			return nil, err
		}

		metrics := &models.DashboardMetrics{
			TenantID:       tenant.ID,
			SchemaName:     tenant.SchemaName,
			NewTodos:       counts.New,
			CompletedTodos: counts.Completed,
			DeletedTodos:   counts.Deleted,
			TotalTodos:     counts.Total,
			TotalUsers:     len(members),
			UpdatedAt:      r.now(),
		}
		for _, m := range members {
			switch m.Membership.Role {
			case models.RoleOwner:
				metrics.Owners++
			case models.RoleMember:
				metrics.Members++
			case models.RoleViewer:
				metrics.Viewers++
			}
		}

		if err := r.stores.Metrics.Upsert(ctx, metrics); err != nil {
			return nil, err
		}

		return map[string]any{
			"total_todos": metrics.TotalTodos,
			"total_users": metrics.TotalUsers,
		}, nil
	})
	if err != nil {
		return s.result, nil
	}

	s.complete(ctx)
	return s.result, nil
}
