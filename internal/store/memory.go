package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/models"
)

type membershipKey struct {
	userID   uuid.UUID
	tenantID uuid.UUID
}

type memoryPartition struct {
	todos  map[uuid.UUID]*models.Todo
	log    []*models.OrchestrationLogRecord
	logSeq int64
}

// Memory is an in-memory implementation of every catalog store plus the
// partition manager, for development and testing.
type Memory struct {
	mu              sync.RWMutex
	tenants         map[uuid.UUID]*models.Tenant
	organizations   map[uuid.UUID]*models.Organization
	users           map[uuid.UUID]*models.User
	memberships     map[membershipKey]*models.Membership
	roleAssignments map[membershipKey]*models.RoleAssignment
	invitations     map[uuid.UUID]*models.Invitation
	emailSettings   map[uuid.UUID]*models.EmailConfiguration
	metrics         map[uuid.UUID]*models.DashboardMetrics
	audit           []*models.SystemAuditRecord
	auditSeq        int64
	partitions      map[string]*memoryPartition
}

// NewMemory creates an empty in-memory catalog and partition manager.
func NewMemory() *Memory {
	return &Memory{
		tenants:         make(map[uuid.UUID]*models.Tenant),
		organizations:   make(map[uuid.UUID]*models.Organization),
		users:           make(map[uuid.UUID]*models.User),
		memberships:     make(map[membershipKey]*models.Membership),
		roleAssignments: make(map[membershipKey]*models.RoleAssignment),
		invitations:     make(map[uuid.UUID]*models.Invitation),
		emailSettings:   make(map[uuid.UUID]*models.EmailConfiguration),
		metrics:         make(map[uuid.UUID]*models.DashboardMetrics),
		partitions:      make(map[string]*memoryPartition),
	}
}

// ---- TenantStore ----

func (s *Memory) Create(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if t.SchemaName == tenant.SchemaName {
			return ErrTenantAlreadyExists
		}
		if identityIDClash(t, tenant) {
			return ErrDuplicateIdentityProvider
		}
	}

	cp := *tenant
	s.tenants[tenant.ID] = &cp
	return nil
}

func identityIDClash(existing, candidate *models.Tenant) bool {
	if candidate.KeycloakGroupID != nil && existing.KeycloakGroupID != nil &&
		*candidate.KeycloakGroupID == *existing.KeycloakGroupID {
		return true
	}
	if candidate.KeycloakClientID != nil && existing.KeycloakClientID != nil &&
		*candidate.KeycloakClientID == *existing.KeycloakClientID {
		return true
	}
	return false
}

func (s *Memory) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *tenant
	return &cp, nil
}

func (s *Memory) GetBySchema(ctx context.Context, schemaName string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenant := range s.tenants {
		if tenant.SchemaName == schemaName {
			cp := *tenant
			return &cp, nil
		}
	}
	return nil, ErrTenantNotFound
}

func (s *Memory) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tenants []*models.Tenant
	for _, tenant := range s.tenants {
		if tenant.OnTrial {
			cp := *tenant
			tenants = append(tenants, &cp)
		}
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].SchemaName < tenants[j].SchemaName })
	return tenants, nil
}

func (s *Memory) Update(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenant.ID]; !ok {
		return ErrTenantNotFound
	}
	for id, t := range s.tenants {
		if id != tenant.ID && identityIDClash(t, tenant) {
			return ErrDuplicateIdentityProvider
		}
	}
	cp := *tenant
	s.tenants[tenant.ID] = &cp
	return nil
}

func (s *Memory) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenant := range s.tenants {
		if tenant.SchemaName == schemaName {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) IdentityIDsInUse(ctx context.Context, groupID, clientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenant := range s.tenants {
		if tenant.KeycloakGroupID != nil && *tenant.KeycloakGroupID == groupID {
			return true, nil
		}
		if tenant.KeycloakClientID != nil && *tenant.KeycloakClientID == clientID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) Purge(ctx context.Context, id uuid.UUID) (*PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}

	associated := make(map[uuid.UUID]struct{})
	for key := range s.memberships {
		if key.tenantID == id {
			associated[key.userID] = struct{}{}
			delete(s.memberships, key)
		}
	}
	for key := range s.roleAssignments {
		if key.tenantID == id {
			delete(s.roleAssignments, key)
		}
	}
	for token, inv := range s.invitations {
		if inv.TenantID == id {
			delete(s.invitations, token)
		}
	}
	delete(s.emailSettings, id)
	delete(s.metrics, id)
	if tenant.OrganizationID != nil {
		delete(s.organizations, *tenant.OrganizationID)
	}
	delete(s.tenants, id)

	result := &PurgeResult{SchemaName: tenant.SchemaName}
	for userID := range associated {
		if s.membershipCountLocked(userID) == 0 {
			result.OrphanUserIDs = append(result.OrphanUserIDs, userID)
		}
	}
	for userID, user := range s.users {
		if _, seen := associated[userID]; seen {
			continue
		}
		if !user.Active && s.membershipCountLocked(userID) == 0 {
			result.StaleOrphanUserIDs = append(result.StaleOrphanUserIDs, userID)
		}
	}
	sortUUIDs(result.OrphanUserIDs)
	sortUUIDs(result.StaleOrphanUserIDs)
	return result, nil
}

func (s *Memory) membershipCountLocked(userID uuid.UUID) int {
	n := 0
	for key := range s.memberships {
		if key.userID == userID {
			n++
		}
	}
	return n
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

// ---- OrganizationStore ----

func (s *Memory) CreateOrganization(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *org
	s.organizations[org.ID] = &cp
	return nil
}

func (s *Memory) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	cp := *org
	return &cp, nil
}

func (s *Memory) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.organizations[id]; !ok {
		return ErrOrganizationNotFound
	}
	delete(s.organizations, id)
	return nil
}

// ---- UserStore ----

func (s *Memory) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username {
			return ErrUserAlreadyExists
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *Memory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *Memory) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Username == username {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *Memory) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(email)
	for _, user := range s.users {
		if strings.ToLower(user.Email) == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *Memory) UsernameExists(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.Active = active
	return nil
}

func (s *Memory) Delete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if _, ok := s.users[id]; ok {
			delete(s.users, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Memory) ListInactiveOrphanIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for id, user := range s.users {
		if !user.Active && s.membershipCountLocked(id) == 0 {
			ids = append(ids, id)
		}
	}
	sortUUIDs(ids)
	return ids, nil
}

// ---- MembershipStore ----

func (s *Memory) CreateMembership(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{userID: m.UserID, tenantID: m.TenantID}
	if _, ok := s.memberships[key]; ok {
		return ErrMembershipAlreadyExists
	}
	cp := *m
	s.memberships[key] = &cp
	return nil
}

func (s *Memory) GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[membershipKey{userID: userID, tenantID: tenantID}]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Memory) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var members []*Member
	for key, m := range s.memberships {
		if key.tenantID != tenantID {
			continue
		}
		user, ok := s.users[key.userID]
		if !ok {
			continue
		}
		mc := *m
		uc := *user
		members = append(members, &Member{Membership: &mc, User: &uc})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].User.Username < members[j].User.Username
	})
	return members, nil
}

func (s *Memory) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var memberships []*models.Membership
	for key, m := range s.memberships {
		if key.userID == userID {
			cp := *m
			memberships = append(memberships, &cp)
		}
	}
	sort.Slice(memberships, func(i, j int) bool {
		return memberships[i].TenantID.String() < memberships[j].TenantID.String()
	})
	return memberships, nil
}

func (s *Memory) UpdateRole(ctx context.Context, userID, tenantID uuid.UUID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[membershipKey{userID: userID, tenantID: tenantID}]
	if !ok {
		return ErrMembershipNotFound
	}
	m.Role = role
	return nil
}

func (s *Memory) DeleteMembership(ctx context.Context, userID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{userID: userID, tenantID: tenantID}
	if _, ok := s.memberships[key]; !ok {
		return ErrMembershipNotFound
	}
	delete(s.memberships, key)
	return nil
}

func (s *Memory) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membershipCountLocked(userID), nil
}

func (s *Memory) CountByUserExcludingTenant(ctx context.Context, userID, tenantID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.memberships {
		if key.userID == userID && key.tenantID != tenantID {
			n++
		}
	}
	return n, nil
}

func (s *Memory) CountByTenantRole(ctx context.Context, tenantID uuid.UUID, role models.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key, m := range s.memberships {
		if key.tenantID == tenantID && m.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *Memory) UpsertRoleAssignment(ctx context.Context, a *models.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.roleAssignments[membershipKey{userID: a.UserID, tenantID: a.TenantID}] = &cp
	return nil
}

func (s *Memory) DeleteRoleAssignment(ctx context.Context, userID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.roleAssignments, membershipKey{userID: userID, tenantID: tenantID})
	return nil
}

// ---- InvitationStore ----

func (s *Memory) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inv
	s.invitations[inv.Token] = &cp
	return nil
}

func (s *Memory) GetInvitation(ctx context.Context, token uuid.UUID) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[token]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *Memory) UpdateInvitation(ctx context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invitations[inv.Token]; !ok {
		return ErrInvitationNotFound
	}
	cp := *inv
	s.invitations[inv.Token] = &cp
	return nil
}

func (s *Memory) ListInvitationsByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var invitations []*models.Invitation
	for _, inv := range s.invitations {
		if inv.TenantID == tenantID {
			cp := *inv
			invitations = append(invitations, &cp)
		}
	}
	sort.Slice(invitations, func(i, j int) bool {
		return invitations[i].CreatedAt.After(invitations[j].CreatedAt)
	})
	return invitations, nil
}

func (s *Memory) FindPending(ctx context.Context, email string, tenantID uuid.UUID) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(email)
	now := time.Now()
	for _, inv := range s.invitations {
		if inv.TenantID == tenantID && strings.ToLower(inv.Email) == email &&
			inv.Status == models.InvitationPending && inv.ExpiresAt.After(now) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrInvitationNotFound
}

func (s *Memory) CancelPending(ctx context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for _, inv := range s.invitations {
		if inv.TenantID == tenantID && inv.Status == models.InvitationPending {
			inv.Status = models.InvitationCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

// ---- EmailSettingsStore ----

func (s *Memory) UpsertEmailSettings(ctx context.Context, cfg *models.EmailConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cfg
	s.emailSettings[cfg.TenantID] = &cp
	return nil
}

func (s *Memory) GetEmailSettings(ctx context.Context, tenantID uuid.UUID) (*models.EmailConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.emailSettings[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *Memory) DeleteEmailSettings(ctx context.Context, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.emailSettings, tenantID)
	return nil
}

// ---- MetricsStore ----

func (s *Memory) UpsertMetrics(ctx context.Context, m *models.DashboardMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.metrics[m.TenantID] = &cp
	return nil
}

func (s *Memory) GetMetrics(ctx context.Context, tenantID uuid.UUID) (*models.DashboardMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *m
	return &cp, nil
}

// ---- AuditStore ----

func (s *Memory) Append(ctx context.Context, rec *models.SystemAuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditSeq++
	cp := *rec
	cp.ID = s.auditSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *Memory) List(ctx context.Context, schemaName string, limit int) ([]*models.SystemAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*models.SystemAuditRecord
	for i := len(s.audit) - 1; i >= 0; i-- {
		rec := s.audit[i]
		if schemaName != "" && rec.SchemaName != schemaName {
			continue
		}
		cp := *rec
		records = append(records, &cp)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

// ---- PartitionManager ----

func (s *Memory) CreatePartition(ctx context.Context, schemaName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[schemaName]; ok {
		return nil
	}
	s.partitions[schemaName] = &memoryPartition{todos: make(map[uuid.UUID]*models.Todo)}
	return nil
}

func (s *Memory) DropPartition(ctx context.Context, schemaName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[schemaName]; !ok {
		return false, nil
	}
	delete(s.partitions, schemaName)
	return true, nil
}

func (s *Memory) PartitionExists(ctx context.Context, schemaName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.partitions[schemaName]
	return ok, nil
}

func (s *Memory) TodoCounts(ctx context.Context, schemaName string) (*TodoCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[schemaName]
	if !ok {
		return nil, ErrTenantNotFound
	}
	counts := &TodoCounts{}
	for _, todo := range p.todos {
		if todo.Deleted {
			counts.Deleted++
			continue
		}
		counts.Total++
		if todo.Completed {
			counts.Completed++
		} else {
			counts.New++
		}
	}
	return counts, nil
}

func (s *Memory) AppendLog(ctx context.Context, schemaName string, rec *models.OrchestrationLogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[schemaName]
	if !ok {
		return ErrTenantNotFound
	}
	p.logSeq++
	cp := *rec
	cp.ID = p.logSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	p.log = append(p.log, &cp)
	return nil
}

func (s *Memory) ListLog(ctx context.Context, schemaName string, limit int) ([]*models.OrchestrationLogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[schemaName]
	if !ok {
		return nil, ErrTenantNotFound
	}
	var records []*models.OrchestrationLogRecord
	for i := len(p.log) - 1; i >= 0; i-- {
		cp := *p.log[i]
		records = append(records, &cp)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (s *Memory) ListRecurringCompleted(ctx context.Context, schemaName string) ([]*models.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[schemaName]
	if !ok {
		return nil, ErrTenantNotFound
	}
	var todos []*models.Todo
	for _, todo := range p.todos {
		if todo.Recurrence != models.RecurrenceNone && todo.Completed && !todo.Deleted {
			cp := *todo
			todos = append(todos, &cp)
		}
	}
	sort.Slice(todos, func(i, j int) bool { return todos[i].ID.String() < todos[j].ID.String() })
	return todos, nil
}

func (s *Memory) Rollover(ctx context.Context, schemaName string, original *models.Todo, next *models.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[schemaName]
	if !ok {
		return ErrTenantNotFound
	}
	orig, ok := p.todos[original.ID]
	if !ok {
		return ErrTenantNotFound
	}
	cp := *next
	p.todos[next.ID] = &cp
	orig.Recurrence = models.RecurrenceNone
	return nil
}

// SeedTodo inserts a todo into a partition directly. Test helper.
func (s *Memory) SeedTodo(schemaName string, todo *models.Todo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[schemaName]
	if !ok {
		p = &memoryPartition{todos: make(map[uuid.UUID]*models.Todo)}
		s.partitions[schemaName] = p
	}
	cp := *todo
	p.todos[todo.ID] = &cp
}
