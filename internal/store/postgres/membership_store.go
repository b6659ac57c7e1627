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

// MembershipStore implements store.MembershipStore using PostgreSQL.
type MembershipStore struct {
	pool *pgxpool.Pool
}

// NewMembershipStore creates a new PostgreSQL-backed membership store.
func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{
		pool: pool,
	}
}

// Create creates a new membership row.
func (s *MembershipStore) Create(ctx context.Context, m *models.Membership) error {
	query := `
		INSERT INTO memberships (user_id, tenant_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, m.UserID, m.TenantID, m.Role, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrMembershipAlreadyExists
		}
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// Get retrieves a membership by its (user, tenant) key.
func (s *MembershipStore) Get(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT user_id, tenant_id, role, created_at
		FROM memberships
		WHERE user_id = $1 AND tenant_id = $2
	`

	var m models.Membership
	err := s.pool.QueryRow(ctx, query, userID, tenantID).Scan(
		&m.UserID, &m.TenantID, &m.Role, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// ListByTenant returns every membership in the tenant joined with its user
// row, in one query, so callers get an atomic roster snapshot.
func (s *MembershipStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*store.Member, error) {
	query := `
		SELECT
			m.user_id, m.tenant_id, m.role, m.created_at,
			u.id, u.username, u.email, u.keycloak_id, u.active, u.created_at
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.tenant_id = $1
		ORDER BY m.created_at
	`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant members: %w", err)
	}
	defer rows.Close()

	var members []*store.Member
	for rows.Next() {
		var m models.Membership
		var u models.User
		err := rows.Scan(
			&m.UserID, &m.TenantID, &m.Role, &m.CreatedAt,
			&u.ID, &u.Username, &u.Email, &u.KeycloakID, &u.Active, &u.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &store.Member{Membership: &m, User: &u})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	return members, nil
}

// ListByUser returns every membership the user holds.
func (s *MembershipStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	query := `
		SELECT user_id, tenant_id, role, created_at
		FROM memberships
		WHERE user_id = $1
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.UserID, &m.TenantID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return memberships, nil
}

// UpdateRole changes the role on an existing membership.
func (s *MembershipStore) UpdateRole(ctx context.Context, userID, tenantID uuid.UUID, role models.Role) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE memberships SET role = $3 WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID, role)
	if err != nil {
		return fmt.Errorf("failed to update membership role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrMembershipNotFound
	}
	return nil
}

// Delete removes a membership row.
func (s *MembershipStore) Delete(ctx context.Context, userID, tenantID uuid.UUID) error {
	result, err := s.pool.Exec(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrMembershipNotFound
	}
	return nil
}

// CountByUser returns the number of memberships the user holds anywhere.
func (s *MembershipStore) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

// CountByUserExcludingTenant returns memberships held by the user outside the
// given tenant. Zero means removal from that tenant orphans the user.
func (s *MembershipStore) CountByUserExcludingTenant(ctx context.Context, userID, tenantID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships WHERE user_id = $1 AND tenant_id <> $2`,
		userID, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

// CountByTenantRole returns how many members hold the role in the tenant.
func (s *MembershipStore) CountByTenantRole(ctx context.Context, tenantID uuid.UUID, role models.Role) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships WHERE tenant_id = $1 AND role = $2`,
		tenantID, role,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role holders: %w", err)
	}
	return count, nil
}

// UpsertRoleAssignment writes the role-lookup projection row.
func (s *MembershipStore) UpsertRoleAssignment(ctx context.Context, a *models.RoleAssignment) error {
	query := `
		INSERT INTO role_assignments (user_id, tenant_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT role_assignments_pkey
		DO UPDATE SET role = EXCLUDED.role
	`

	_, err := s.pool.Exec(ctx, query, a.UserID, a.TenantID, a.Role)
	if err != nil {
		return fmt.Errorf("failed to upsert role assignment: %w", err)
	}
	return nil
}

// DeleteRoleAssignment removes the projection row. Missing rows are fine.
func (s *MembershipStore) DeleteRoleAssignment(ctx context.Context, userID, tenantID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM role_assignments WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete role assignment: %w", err)
	}
	return nil
}
