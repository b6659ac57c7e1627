package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// TenantStore implements store.TenantStore using PostgreSQL.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a new PostgreSQL-backed tenant store.
// It shares the connection pool with other stores.
func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{
		pool: pool,
	}
}

const tenantColumns = `
	id, schema_name, name, on_trial, paid_until,
	organization_id, keycloak_group_id, keycloak_client_id, created_at
`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(
		&t.ID,
		&t.SchemaName,
		&t.Name,
		&t.OnTrial,
		&t.PaidUntil,
		&t.OrganizationID,
		&t.KeycloakGroupID,
		&t.KeycloakClientID,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create creates a new tenant in the catalog.
func (s *TenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (
			id, schema_name, name, on_trial, paid_until,
			organization_id, keycloak_group_id, keycloak_client_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := s.pool.Exec(ctx, query,
		tenant.ID,
		tenant.SchemaName,
		tenant.Name,
		tenant.OnTrial,
		tenant.PaidUntil,
		tenant.OrganizationID,
		tenant.KeycloakGroupID,
		tenant.KeycloakClientID,
		tenant.CreatedAt,
	)
	if err != nil {
		if mapped := mapPostgresError(err); errors.Is(mapped, store.ErrTenantAlreadyExists) ||
			errors.Is(mapped, store.ErrDuplicateIdentityProvider) {
			return mapped
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	log.Debug().
		Str("tenant_id", tenant.ID.String()).
		Str("schema_name", tenant.SchemaName).
		Msg("Created tenant")

	return nil
}

// Get retrieves a tenant by ID.
func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	t, err := scanTenant(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetBySchema retrieves a tenant by its partition schema name.
func (s *TenantStore) GetBySchema(ctx context.Context, schemaName string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE schema_name = $1`

	t, err := scanTenant(s.pool.QueryRow(ctx, query, schemaName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by schema: %w", err)
	}
	return t, nil
}

// ListActive returns the on-trial tenants ordered by creation time. This is
// the population the fan-out sagas visit; tenants taken off trial keep their
// catalog row and partition but are skipped.
func (s *TenantStore) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE on_trial = TRUE ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// Update updates an existing tenant.
func (s *TenantStore) Update(ctx context.Context, tenant *models.Tenant) error {
	query := `
		UPDATE tenants SET
			schema_name = $2,
			name = $3,
			on_trial = $4,
			paid_until = $5,
			organization_id = $6,
			keycloak_group_id = $7,
			keycloak_client_id = $8
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		tenant.ID,
		tenant.SchemaName,
		tenant.Name,
		tenant.OnTrial,
		tenant.PaidUntil,
		tenant.OrganizationID,
		tenant.KeycloakGroupID,
		tenant.KeycloakClientID,
	)
	if err != nil {
		if mapped := mapPostgresError(err); errors.Is(mapped, store.ErrDuplicateIdentityProvider) {
			return mapped
		}
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrTenantNotFound
	}

	return nil
}

// SchemaExists reports whether any tenant already claims the schema name.
func (s *TenantStore) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM tenants WHERE schema_name = $1)`,
		schemaName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check schema name: %w", err)
	}
	return exists, nil
}

// IdentityIDsInUse reports whether another tenant already holds either
// identity-provider id.
func (s *TenantStore) IdentityIDsInUse(ctx context.Context, groupID, clientID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM tenants
			WHERE keycloak_group_id = $1 OR keycloak_client_id = $2
		)
	`, groupID, clientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check identity ids: %w", err)
	}
	return exists, nil
}

// Purge removes the tenant's catalog rows in one transaction and returns the
// users it left orphaned plus stale orphans found by the same scan. User rows
// and the data partition are untouched.
func (s *TenantStore) Purge(ctx context.Context, id uuid.UUID) (*store.PurgeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin purge transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var schemaName string
	var orgID *uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT schema_name, organization_id FROM tenants WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&schemaName, &orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to lock tenant for purge: %w", err)
	}

	// Snapshot member ids before the membership rows go away.
	rows, err := tx.Query(ctx, `SELECT user_id FROM memberships WHERE tenant_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant members: %w", err)
	}
	var associated []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		associated = append(associated, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM memberships WHERE tenant_id = $1`,
		`DELETE FROM role_assignments WHERE tenant_id = $1`,
		`DELETE FROM invitations WHERE tenant_id = $1`,
		`DELETE FROM email_configurations WHERE tenant_id = $1`,
		`DELETE FROM dashboard_metrics WHERE tenant_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			return nil, fmt.Errorf("failed to purge tenant rows: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete tenant row: %w", err)
	}
	if orgID != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, *orgID); err != nil {
			return nil, fmt.Errorf("failed to delete organization row: %w", err)
		}
	}

	result := &store.PurgeResult{SchemaName: schemaName}

	if len(associated) > 0 {
		rows, err = tx.Query(ctx, `
			SELECT u.id FROM users u
			WHERE u.id = ANY($1)
			  AND NOT EXISTS (SELECT 1 FROM memberships m WHERE m.user_id = u.id)
			ORDER BY u.id
		`, associated)
		if err != nil {
			return nil, fmt.Errorf("failed to find orphaned users: %w", err)
		}
		for rows.Next() {
			var userID uuid.UUID
			if err := rows.Scan(&userID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan orphan id: %w", err)
			}
			result.OrphanUserIDs = append(result.OrphanUserIDs, userID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating orphans: %w", err)
		}
	}

	// Deactivated users with no membership anywhere, left behind by earlier
	// runs. Excludes this tenant's own members, reported above.
	rows, err = tx.Query(ctx, `
		SELECT u.id FROM users u
		WHERE u.active = FALSE
		  AND NOT (u.id = ANY($1))
		  AND NOT EXISTS (SELECT 1 FROM memberships m WHERE m.user_id = u.id)
		ORDER BY u.id
	`, associated)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale orphans: %w", err)
	}
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stale orphan id: %w", err)
		}
		result.StaleOrphanUserIDs = append(result.StaleOrphanUserIDs, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale orphans: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purge: %w", err)
	}

	log.Info().
		Str("tenant_id", id.String()).
		Str("schema_name", schemaName).
		Int("orphans", len(result.OrphanUserIDs)).
		Int("stale_orphans", len(result.StaleOrphanUserIDs)).
		Msg("Purged tenant catalog rows")

	return result, nil
}
