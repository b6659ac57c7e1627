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

// EmailSettingsStore implements store.EmailSettingsStore using PostgreSQL.
type EmailSettingsStore struct {
	pool *pgxpool.Pool
}

// NewEmailSettingsStore creates a new PostgreSQL-backed email settings store.
func NewEmailSettingsStore(pool *pgxpool.Pool) *EmailSettingsStore {
	return &EmailSettingsStore{
		pool: pool,
	}
}

// Upsert writes the tenant's mail configuration.
func (s *EmailSettingsStore) Upsert(ctx context.Context, cfg *models.EmailConfiguration) error {
	query := `
		INSERT INTO email_configurations (tenant_id, host, port, username, from_address)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id)
		DO UPDATE SET host = EXCLUDED.host, port = EXCLUDED.port,
			username = EXCLUDED.username, from_address = EXCLUDED.from_address
	`

	_, err := s.pool.Exec(ctx, query,
		cfg.TenantID, cfg.Host, cfg.Port, cfg.Username, cfg.FromAddress)
	if err != nil {
		return fmt.Errorf("failed to upsert email configuration: %w", err)
	}
	return nil
}

// Get retrieves the tenant's mail configuration.
func (s *EmailSettingsStore) Get(ctx context.Context, tenantID uuid.UUID) (*models.EmailConfiguration, error) {
	query := `
		SELECT tenant_id, host, port, username, from_address
		FROM email_configurations
		WHERE tenant_id = $1
	`

	var cfg models.EmailConfiguration
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&cfg.TenantID, &cfg.Host, &cfg.Port, &cfg.Username, &cfg.FromAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get email configuration: %w", err)
	}
	return &cfg, nil
}

// Delete removes the tenant's mail configuration. Missing rows are fine.
func (s *EmailSettingsStore) Delete(ctx context.Context, tenantID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM email_configurations WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete email configuration: %w", err)
	}
	return nil
}
