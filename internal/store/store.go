package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrTenantNotFound            = errors.New("tenant not found")
	ErrTenantAlreadyExists       = errors.New("tenant already exists")
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrUserNotFound              = errors.New("user not found")
	ErrUserAlreadyExists         = errors.New("user already exists")
	ErrMembershipNotFound        = errors.New("membership not found")
	ErrMembershipAlreadyExists   = errors.New("membership already exists")
	ErrInvitationNotFound        = errors.New("invitation not found")
	ErrDuplicateIdentityProvider = errors.New("identity provider id already assigned to another tenant")
)

// Member is a membership joined with its user row, read in one query so the
// deletion saga can snapshot a tenant's roster atomically.
type Member struct {
	Membership *models.Membership
	User       *models.User
}

// PurgeResult reports what a tenant purge removed and which users it left
// without any membership.
type PurgeResult struct {
	SchemaName string
	// OrphanUserIDs are users who held a membership in the purged tenant and
	// now hold none anywhere.
	OrphanUserIDs []uuid.UUID
	// StaleOrphanUserIDs are previously-deactivated users with zero
	// memberships discovered during the same scan.
	StaleOrphanUserIDs []uuid.UUID
}

// TenantStore persists tenants in the shared catalog.
type TenantStore interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetBySchema(ctx context.Context, schemaName string) (*models.Tenant, error)
	// ListActive returns the on-trial tenants, the population fan-out sagas
	// iterate over. Tenants taken off trial are excluded.
	ListActive(ctx context.Context) ([]*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
	SchemaExists(ctx context.Context, schemaName string) (bool, error)
	// IdentityIDsInUse reports whether another tenant already holds either
	// identity-provider id. Used by the collision-regeneration loop.
	IdentityIDsInUse(ctx context.Context, groupID, clientID string) (bool, error)
	// Purge removes memberships, role assignments, invitations, email
	// configuration, the organization and the tenant row in one transaction,
	// and returns the users left orphaned plus stale orphans found by the
	// same scan. Purge does not touch user rows or the data partition.
	Purge(ctx context.Context, id uuid.UUID) (*PurgeResult, error)
}

// OrganizationStore persists the descriptive organization records.
type OrganizationStore interface {
	Create(ctx context.Context, org *models.Organization) error
	Get(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// UserStore persists identity-mirrored user rows.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// Delete hard-deletes user rows. Callers must only pass ids already
	// verified to hold zero memberships.
	Delete(ctx context.Context, ids []uuid.UUID) (int64, error)
	// ListInactiveOrphanIDs returns deactivated users with zero memberships
	// anywhere (the stale-orphan sweep input).
	ListInactiveOrphanIDs(ctx context.Context) ([]uuid.UUID, error)
}

// MembershipStore persists (user, tenant, role) rows and the role-lookup
// projection.
type MembershipStore interface {
	Create(ctx context.Context, m *models.Membership) error
	Get(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Member, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error)
	UpdateRole(ctx context.Context, userID, tenantID uuid.UUID, role models.Role) error
	Delete(ctx context.Context, userID, tenantID uuid.UUID) error
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
	// CountByUserExcludingTenant is the orphan test: memberships held by the
	// user outside the given tenant.
	CountByUserExcludingTenant(ctx context.Context, userID, tenantID uuid.UUID) (int, error)
	CountByTenantRole(ctx context.Context, tenantID uuid.UUID, role models.Role) (int, error)
	UpsertRoleAssignment(ctx context.Context, a *models.RoleAssignment) error
	DeleteRoleAssignment(ctx context.Context, userID, tenantID uuid.UUID) error
}

// InvitationStore persists invitation records.
type InvitationStore interface {
	Create(ctx context.Context, inv *models.Invitation) error
	Get(ctx context.Context, token uuid.UUID) (*models.Invitation, error)
	Update(ctx context.Context, inv *models.Invitation) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Invitation, error)
	// FindPending returns the non-expired PENDING invitation for the email
	// in the tenant, or ErrInvitationNotFound.
	FindPending(ctx context.Context, email string, tenantID uuid.UUID) (*models.Invitation, error)
	// CancelPending cancels every still-PENDING invitation for the tenant
	// and returns how many it cancelled.
	CancelPending(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// EmailSettingsStore persists per-tenant mail configuration.
type EmailSettingsStore interface {
	Upsert(ctx context.Context, cfg *models.EmailConfiguration) error
	Get(ctx context.Context, tenantID uuid.UUID) (*models.EmailConfiguration, error)
	Delete(ctx context.Context, tenantID uuid.UUID) error
}

// MetricsStore persists the dashboard aggregates.
type MetricsStore interface {
	Upsert(ctx context.Context, m *models.DashboardMetrics) error
	Get(ctx context.Context, tenantID uuid.UUID) (*models.DashboardMetrics, error)
}

// AuditStore is the append-only catalog-level system audit log. Records here
// outlive the tenants they describe.
type AuditStore interface {
	Append(ctx context.Context, rec *models.SystemAuditRecord) error
	List(ctx context.Context, schemaName string, limit int) ([]*models.SystemAuditRecord, error)
}

// TodoCounts is the per-partition tally used by the metrics saga.
type TodoCounts struct {
	New       int
	Completed int
	Deleted   int
	Total     int
}

// PartitionManager creates and drops per-tenant data partitions and exposes
// the partition-scoped reads and writes the fan-out sagas need.
type PartitionManager interface {
	CreatePartition(ctx context.Context, schemaName string) error
	// DropPartition removes the partition and everything in it. A missing
	// partition is success; the bool reports whether anything was dropped.
	DropPartition(ctx context.Context, schemaName string) (bool, error)
	PartitionExists(ctx context.Context, schemaName string) (bool, error)
	TodoCounts(ctx context.Context, schemaName string) (*TodoCounts, error)
	AppendLog(ctx context.Context, schemaName string, rec *models.OrchestrationLogRecord) error
	ListLog(ctx context.Context, schemaName string, limit int) ([]*models.OrchestrationLogRecord, error)
	// ListRecurringCompleted returns completed, non-deleted todos with a
	// recurrence set, i.e. the rollover saga's work list.
	ListRecurringCompleted(ctx context.Context, schemaName string) ([]*models.Todo, error)
	// Rollover inserts the next instance and clears the original's
	// recurrence in one transaction.
	Rollover(ctx context.Context, schemaName string, original *models.Todo, next *models.Todo) error
}
