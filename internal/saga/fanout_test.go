package saga

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/mokshitha-y/todosaas/internal/models"
)

func TestAggregateMetricsPerTenant(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenantA, ownerA := mustRegister(t, r, mem, "Metrics A", "a@metrics.io")
	tenantB, _ := mustRegister(t, r, mem, "Metrics B", "b@metrics.io")

	_, err := r.Invite(ctx, InvitationParams{TenantID: tenantA.ID, Email: "v@metrics.io", Role: models.RoleViewer}, actorFor(ownerA))
	require.NoError(t, err)

	mem.SeedTodo("metrics_a", &models.Todo{ID: uuid.New(), Title: "open"})
	mem.SeedTodo("metrics_a", &models.Todo{ID: uuid.New(), Title: "done", Completed: true})
	mem.SeedTodo("metrics_a", &models.Todo{ID: uuid.New(), Title: "gone", Deleted: true})
	mem.SeedTodo("metrics_b", &models.Todo{ID: uuid.New(), Title: "only"})

	result, err := r.AggregateMetrics(ctx, Actor{Username: "scheduler"})
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)

	aggA, err := mem.Metrics().Get(ctx, tenantA.ID)
	require.NoError(t, err)
	require.Equal(t, 1, aggA.NewTodos)
	require.Equal(t, 1, aggA.CompletedTodos)
	require.Equal(t, 1, aggA.DeletedTodos)
	require.Equal(t, 2, aggA.TotalTodos)
	require.Equal(t, 2, aggA.TotalUsers)
	require.Equal(t, 1, aggA.Owners)
	require.Equal(t, 1, aggA.Viewers)
	require.Equal(t, testTime, aggA.UpdatedAt)

	aggB, err := mem.Metrics().Get(ctx, tenantB.ID)
	require.NoError(t, err)
	require.Equal(t, 1, aggB.NewTodos)
	require.Equal(t, 1, aggB.TotalUsers)
}

func TestRolloverSpawnsNextInstanceOnce(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenant, _ := mustRegister(t, r, mem, "Rollover Co", "boss@rollover.co")

	due := testTime.Add(-24 * time.Hour)
	recurring := &models.Todo{
		ID:         uuid.New(),
		Title:      "weekly report",
		Completed:  true,
		DueDate:    &due,
		Recurrence: models.RecurrenceWeekly,
	}
	oneShot := &models.Todo{
		ID:        uuid.New(),
		Title:     "one shot",
		Completed: true,
	}
	mem.SeedTodo(tenant.SchemaName, recurring)
	mem.SeedTodo(tenant.SchemaName, oneShot)

	result, err := r.RolloverRecurring(ctx, Actor{Username: "scheduler"})
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)

	outcomes := result.Details["tenants"].(map[string]any)
	detail := outcomes[tenant.SchemaName].(map[string]any)
	require.Equal(t, 1, detail["rolled"])

	// nothing left to roll: the original lost its recurrence
	remaining, err := mem.Partitions().ListRecurringCompleted(ctx, tenant.SchemaName)
	require.NoError(t, err)
	require.Empty(t, remaining)

	// the next instance carries the recurrence and points at its parent
	counts, err := mem.Partitions().TodoCounts(ctx, tenant.SchemaName)
	require.NoError(t, err)
	require.Equal(t, 1, counts.New)

	// a second run rolls nothing
	again, err := r.RolloverRecurring(ctx, Actor{Username: "scheduler"})
	require.NoError(t, err)
	againDetail := again.Details["tenants"].(map[string]any)[tenant.SchemaName].(map[string]any)
	require.Equal(t, 0, againDetail["rolled"])
}

func TestFanOutSkipsOffTrialTenants(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	trial, _ := mustRegister(t, r, mem, "Trial Co", "t@trial.io")
	lapsed, _ := mustRegister(t, r, mem, "Lapsed Co", "l@lapsed.io")

	lapsed.OnTrial = false
	require.NoError(t, mem.Tenants().Update(ctx, lapsed))

	result, err := r.AggregateMetrics(ctx, Actor{Username: "scheduler"})
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, 1, result.Details["tenant_count"])

	_, err = mem.Metrics().Get(ctx, trial.ID)
	require.NoError(t, err)

	// the lapsed tenant keeps its catalog row but is never visited
	_, err = mem.Metrics().Get(ctx, lapsed.ID)
	require.Error(t, err)
	outcomes := result.Details["tenants"].(map[string]any)
	require.NotContains(t, outcomes, lapsed.SchemaName)
}

func TestFanOutIsolatesTenantFailures(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	healthy, _ := mustRegister(t, r, mem, "Healthy", "h@fanout.io")
	broken, _ := mustRegister(t, r, mem, "Broken", "x@fanout.io")

	// simulate a vanished partition for one tenant
	_, err := mem.Partitions().DropPartition(ctx, broken.SchemaName)
	require.NoError(t, err)

	result, err := r.AggregateMetrics(ctx, Actor{Username: "scheduler"})
	require.NoError(t, err)
	require.Equal(t, StatusSucceededWithWarnings, result.Status)
	require.Equal(t, 1, result.Details["failed_count"])
	require.Equal(t, 2, result.Details["tenant_count"])

	// the healthy tenant still got its aggregate
	_, err = mem.Metrics().Get(ctx, healthy.ID)
	require.NoError(t, err)

	outcomes := result.Details["tenants"].(map[string]any)
	failed := outcomes[broken.SchemaName].(map[string]any)
	require.Equal(t, "failed", failed["status"])
}
