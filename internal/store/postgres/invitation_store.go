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

// InvitationStore implements store.InvitationStore using PostgreSQL.
type InvitationStore struct {
	pool *pgxpool.Pool
}

// NewInvitationStore creates a new PostgreSQL-backed invitation store.
func NewInvitationStore(pool *pgxpool.Pool) *InvitationStore {
	return &InvitationStore{
		pool: pool,
	}
}

const invitationColumns = `
	token, email, tenant_id, role, status,
	expires_at, created_by_id, accepted_by_id, accepted_at, created_at
`

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(
		&inv.Token,
		&inv.Email,
		&inv.TenantID,
		&inv.Role,
		&inv.Status,
		&inv.ExpiresAt,
		&inv.CreatedByID,
		&inv.AcceptedByID,
		&inv.AcceptedAt,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create creates a new invitation record.
func (s *InvitationStore) Create(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitations (
			token, email, tenant_id, role, status,
			expires_at, created_by_id, accepted_by_id, accepted_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := s.pool.Exec(ctx, query,
		inv.Token,
		inv.Email,
		inv.TenantID,
		inv.Role,
		inv.Status,
		inv.ExpiresAt,
		inv.CreatedByID,
		inv.AcceptedByID,
		inv.AcceptedAt,
		inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// Get retrieves an invitation by its token.
func (s *InvitationStore) Get(ctx context.Context, token uuid.UUID) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE token = $1`

	inv, err := scanInvitation(s.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// Update rewrites an invitation record.
func (s *InvitationStore) Update(ctx context.Context, inv *models.Invitation) error {
	query := `
		UPDATE invitations SET
			email = $2,
			role = $3,
			status = $4,
			expires_at = $5,
			accepted_by_id = $6,
			accepted_at = $7
		WHERE token = $1
	`

	result, err := s.pool.Exec(ctx, query,
		inv.Token,
		inv.Email,
		inv.Role,
		inv.Status,
		inv.ExpiresAt,
		inv.AcceptedByID,
		inv.AcceptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrInvitationNotFound
	}
	return nil
}

// ListByTenant returns every invitation for the tenant, newest first.
func (s *InvitationStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE tenant_id = $1 ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}

	return invitations, nil
}

// FindPending returns the non-expired PENDING invitation for the email in
// the tenant.
func (s *InvitationStore) FindPending(ctx context.Context, email string, tenantID uuid.UUID) (*models.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE email = $1 AND tenant_id = $2 AND status = $3 AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1
	`

	inv, err := scanInvitation(s.pool.QueryRow(ctx, query, email, tenantID, models.InvitationPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to find pending invitation: %w", err)
	}
	return inv, nil
}

// CancelPending cancels every still-PENDING invitation for the tenant and
// returns how many it cancelled.
func (s *InvitationStore) CancelPending(ctx context.Context, tenantID uuid.UUID) (int, error) {
	result, err := s.pool.Exec(ctx,
		`UPDATE invitations SET status = $3 WHERE tenant_id = $1 AND status = $2`,
		tenantID, models.InvitationPending, models.InvitationCancelled)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending invitations: %w", err)
	}
	return int(result.RowsAffected()), nil
}
