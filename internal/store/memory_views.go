package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/models"
)

// The store interfaces share method names (Create, Get, Delete), so a single
// Memory value cannot satisfy them all directly. Each accessor below returns
// a thin view over the shared core.

func (s *Memory) Tenants() TenantStore             { return memoryTenants{s} }
func (s *Memory) Organizations() OrganizationStore { return memoryOrganizations{s} }
func (s *Memory) Users() UserStore                 { return memoryUsers{s} }
func (s *Memory) Memberships() MembershipStore     { return memoryMemberships{s} }
func (s *Memory) Invitations() InvitationStore     { return memoryInvitations{s} }
func (s *Memory) EmailSettings() EmailSettingsStore {
	return memoryEmailSettings{s}
}
func (s *Memory) Metrics() MetricsStore          { return memoryMetrics{s} }
func (s *Memory) Audit() AuditStore              { return memoryAudit{s} }
func (s *Memory) Partitions() PartitionManager   { return s }

var _ PartitionManager = (*Memory)(nil)

type memoryTenants struct{ m *Memory }

func (v memoryTenants) Create(ctx context.Context, tenant *models.Tenant) error {
	return v.m.Create(ctx, tenant)
}
func (v memoryTenants) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return v.m.Get(ctx, id)
}
func (v memoryTenants) GetBySchema(ctx context.Context, schemaName string) (*models.Tenant, error) {
	return v.m.GetBySchema(ctx, schemaName)
}
func (v memoryTenants) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	return v.m.ListActive(ctx)
}
func (v memoryTenants) Update(ctx context.Context, tenant *models.Tenant) error {
	return v.m.Update(ctx, tenant)
}
func (v memoryTenants) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	return v.m.SchemaExists(ctx, schemaName)
}
func (v memoryTenants) IdentityIDsInUse(ctx context.Context, groupID, clientID string) (bool, error) {
	return v.m.IdentityIDsInUse(ctx, groupID, clientID)
}
func (v memoryTenants) Purge(ctx context.Context, id uuid.UUID) (*PurgeResult, error) {
	return v.m.Purge(ctx, id)
}

type memoryOrganizations struct{ m *Memory }

func (v memoryOrganizations) Create(ctx context.Context, org *models.Organization) error {
	return v.m.CreateOrganization(ctx, org)
}
func (v memoryOrganizations) Get(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return v.m.GetOrganization(ctx, id)
}
func (v memoryOrganizations) Delete(ctx context.Context, id uuid.UUID) error {
	return v.m.DeleteOrganization(ctx, id)
}

type memoryUsers struct{ m *Memory }

func (v memoryUsers) Create(ctx context.Context, user *models.User) error {
	return v.m.CreateUser(ctx, user)
}
func (v memoryUsers) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return v.m.GetUser(ctx, id)
}
func (v memoryUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return v.m.GetUserByUsername(ctx, username)
}
func (v memoryUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return v.m.GetUserByEmail(ctx, email)
}
func (v memoryUsers) UsernameExists(ctx context.Context, username string) (bool, error) {
	return v.m.UsernameExists(ctx, username)
}
func (v memoryUsers) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return v.m.SetActive(ctx, id, active)
}
func (v memoryUsers) Delete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return v.m.Delete(ctx, ids)
}
func (v memoryUsers) ListInactiveOrphanIDs(ctx context.Context) ([]uuid.UUID, error) {
	return v.m.ListInactiveOrphanIDs(ctx)
}

type memoryMemberships struct{ m *Memory }

func (v memoryMemberships) Create(ctx context.Context, m *models.Membership) error {
	return v.m.CreateMembership(ctx, m)
}
func (v memoryMemberships) Get(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error) {
	return v.m.GetMembership(ctx, userID, tenantID)
}
func (v memoryMemberships) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Member, error) {
	return v.m.ListByTenant(ctx, tenantID)
}
func (v memoryMemberships) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	return v.m.ListByUser(ctx, userID)
}
func (v memoryMemberships) UpdateRole(ctx context.Context, userID, tenantID uuid.UUID, role models.Role) error {
	return v.m.UpdateRole(ctx, userID, tenantID, role)
}
func (v memoryMemberships) Delete(ctx context.Context, userID, tenantID uuid.UUID) error {
	return v.m.DeleteMembership(ctx, userID, tenantID)
}
func (v memoryMemberships) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	return v.m.CountByUser(ctx, userID)
}
func (v memoryMemberships) CountByUserExcludingTenant(ctx context.Context, userID, tenantID uuid.UUID) (int, error) {
	return v.m.CountByUserExcludingTenant(ctx, userID, tenantID)
}
func (v memoryMemberships) CountByTenantRole(ctx context.Context, tenantID uuid.UUID, role models.Role) (int, error) {
	return v.m.CountByTenantRole(ctx, tenantID, role)
}
func (v memoryMemberships) UpsertRoleAssignment(ctx context.Context, a *models.RoleAssignment) error {
	return v.m.UpsertRoleAssignment(ctx, a)
}
func (v memoryMemberships) DeleteRoleAssignment(ctx context.Context, userID, tenantID uuid.UUID) error {
	return v.m.DeleteRoleAssignment(ctx, userID, tenantID)
}

type memoryInvitations struct{ m *Memory }

func (v memoryInvitations) Create(ctx context.Context, inv *models.Invitation) error {
	return v.m.CreateInvitation(ctx, inv)
}
func (v memoryInvitations) Get(ctx context.Context, token uuid.UUID) (*models.Invitation, error) {
	return v.m.GetInvitation(ctx, token)
}
func (v memoryInvitations) Update(ctx context.Context, inv *models.Invitation) error {
	return v.m.UpdateInvitation(ctx, inv)
}
func (v memoryInvitations) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Invitation, error) {
	return v.m.ListInvitationsByTenant(ctx, tenantID)
}
func (v memoryInvitations) FindPending(ctx context.Context, email string, tenantID uuid.UUID) (*models.Invitation, error) {
	return v.m.FindPending(ctx, email, tenantID)
}
func (v memoryInvitations) CancelPending(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return v.m.CancelPending(ctx, tenantID)
}

type memoryEmailSettings struct{ m *Memory }

func (v memoryEmailSettings) Upsert(ctx context.Context, cfg *models.EmailConfiguration) error {
	return v.m.UpsertEmailSettings(ctx, cfg)
}
func (v memoryEmailSettings) Get(ctx context.Context, tenantID uuid.UUID) (*models.EmailConfiguration, error) {
	return v.m.GetEmailSettings(ctx, tenantID)
}
func (v memoryEmailSettings) Delete(ctx context.Context, tenantID uuid.UUID) error {
	return v.m.DeleteEmailSettings(ctx, tenantID)
}

type memoryMetrics struct{ m *Memory }

func (v memoryMetrics) Upsert(ctx context.Context, m *models.DashboardMetrics) error {
	return v.m.UpsertMetrics(ctx, m)
}
func (v memoryMetrics) Get(ctx context.Context, tenantID uuid.UUID) (*models.DashboardMetrics, error) {
	return v.m.GetMetrics(ctx, tenantID)
}

type memoryAudit struct{ m *Memory }

func (v memoryAudit) Append(ctx context.Context, rec *models.SystemAuditRecord) error {
	return v.m.Append(ctx, rec)
}
func (v memoryAudit) List(ctx context.Context, schemaName string, limit int) ([]*models.SystemAuditRecord, error) {
	return v.m.List(ctx, schemaName, limit)
}
