//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{ConnString: connString})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestIntegration_PartitionLifecycle(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	pm := NewPartitionManager(pool)
	schema := "tenant_acme"

	t.Run("create partition", func(t *testing.T) {
		require.NoError(t, pm.CreatePartition(ctx, schema))

		exists, err := pm.PartitionExists(ctx, schema)
		require.NoError(t, err)
		require.True(t, exists)

		// idempotent
		require.NoError(t, pm.CreatePartition(ctx, schema))
	})

	t.Run("counts and rollover", func(t *testing.T) {
		counts, err := pm.TodoCounts(ctx, schema)
		require.NoError(t, err)
		require.Equal(t, 0, counts.Total)

		ident := "tenant_acme"
		creator := uuid.New()
		due := time.Now().UTC().Truncate(time.Second)
		original := &models.Todo{
			ID:          uuid.New(),
			Title:       "weekly report",
			Completed:   true,
			DueDate:     &due,
			Recurrence:  models.RecurrenceWeekly,
			CreatedByID: creator,
			CreatedAt:   time.Now().UTC(),
		}
		_, err = pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.todos (id, title, completed, due_date, recurrence, created_by_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, ident), original.ID, original.Title, original.Completed, original.DueDate,
			original.Recurrence, original.CreatedByID, original.CreatedAt)
		require.NoError(t, err)

		work, err := pm.ListRecurringCompleted(ctx, schema)
		require.NoError(t, err)
		require.Len(t, work, 1)
		require.Equal(t, original.ID, work[0].ID)

		nextDue := original.Recurrence.NextDue(due)
		next := &models.Todo{
			ID:          uuid.New(),
			Title:       original.Title,
			DueDate:     &nextDue,
			Recurrence:  original.Recurrence,
			ParentID:    &original.ID,
			CreatedByID: creator,
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, pm.Rollover(ctx, schema, original, next))

		// original dropped out of the work list, next is not completed yet
		work, err = pm.ListRecurringCompleted(ctx, schema)
		require.NoError(t, err)
		require.Empty(t, work)

		counts, err = pm.TodoCounts(ctx, schema)
		require.NoError(t, err)
		require.Equal(t, 2, counts.Total)
		require.Equal(t, 1, counts.Completed)
		require.Equal(t, 1, counts.New)
	})

	t.Run("orchestration log", func(t *testing.T) {
		rec := &models.OrchestrationLogRecord{
			RunID:     uuid.New(),
			Saga:      "metrics_aggregation",
			Status:    models.AuditCompleted,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, pm.AppendLog(ctx, schema, rec))
		require.NotZero(t, rec.ID)

		records, err := pm.ListLog(ctx, schema, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, rec.RunID, records[0].RunID)
	})

	t.Run("drop partition", func(t *testing.T) {
		dropped, err := pm.DropPartition(ctx, schema)
		require.NoError(t, err)
		require.True(t, dropped)

		dropped, err = pm.DropPartition(ctx, schema)
		require.NoError(t, err)
		require.False(t, dropped, "missing partition is success, nothing dropped")

		_, err = pm.TodoCounts(ctx, schema)
		require.ErrorIs(t, err, store.ErrTenantNotFound)
	})

	t.Run("rejects unsafe schema names", func(t *testing.T) {
		err := pm.CreatePartition(ctx, `tenant"; DROP TABLE tenants; --`)
		require.Error(t, err)
	})
}

func TestIntegration_TenantPurge(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	tenants := NewTenantStore(pool)
	users := NewUserStore(pool)
	memberships := NewMembershipStore(pool)

	tenant := &models.Tenant{
		ID:         uuid.New(),
		SchemaName: "tenant_purge",
		Name:       "Purge Co",
		OnTrial:    true,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, tenants.Create(ctx, tenant))

	orphan := &models.User{ID: uuid.New(), Username: "solo", Email: "solo@example.com", KeycloakID: "kc-solo", Active: true, CreatedAt: time.Now().UTC()}
	kept := &models.User{ID: uuid.New(), Username: "shared", Email: "shared@example.com", KeycloakID: "kc-shared", Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, users.Create(ctx, orphan))
	require.NoError(t, users.Create(ctx, kept))

	other := &models.Tenant{
		ID:         uuid.New(),
		SchemaName: "tenant_other",
		Name:       "Other Co",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, tenants.Create(ctx, other))

	now := time.Now().UTC()
	require.NoError(t, memberships.Create(ctx, &models.Membership{UserID: orphan.ID, TenantID: tenant.ID, Role: models.RoleOwner, CreatedAt: now}))
	require.NoError(t, memberships.Create(ctx, &models.Membership{UserID: kept.ID, TenantID: tenant.ID, Role: models.RoleMember, CreatedAt: now}))
	require.NoError(t, memberships.Create(ctx, &models.Membership{UserID: kept.ID, TenantID: other.ID, Role: models.RoleViewer, CreatedAt: now}))

	active, err := tenants.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "tenant_purge", active[0].SchemaName)

	result, err := tenants.Purge(ctx, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, "tenant_purge", result.SchemaName)
	require.Equal(t, []uuid.UUID{orphan.ID}, result.OrphanUserIDs)
	require.Empty(t, result.StaleOrphanUserIDs)

	_, err = tenants.Get(ctx, tenant.ID)
	require.ErrorIs(t, err, store.ErrTenantNotFound)

	// user rows are untouched by purge
	_, err = users.Get(ctx, orphan.ID)
	require.NoError(t, err)

	// kept user still belongs to the other tenant
	count, err := memberships.CountByUser(ctx, kept.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
