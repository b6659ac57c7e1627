package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// stripOtherMemberships drops every membership the user holds outside the
// given tenant, so a later removal or deletion orphans them.
func stripOtherMemberships(t *testing.T, mem *store.Memory, userID, tenantID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	memberships, err := mem.Memberships().ListByUser(ctx, userID)
	require.NoError(t, err)
	for _, m := range memberships {
		if m.TenantID != tenantID {
			require.NoError(t, mem.Memberships().Delete(ctx, userID, m.TenantID))
		}
	}
}

func TestDeleteTenantFullScenario(t *testing.T) {
	r, mem, idp := newTestRunner(t)
	ctx := context.Background()

	// A owns two tenants; B and C belong only to the one being deleted.
	primary, a := mustRegister(t, r, mem, "Primary", "a@corp.io")
	side, _ := mustRegister(t, r, mem, "Side", "a@corp.io")

	_, err := r.Invite(ctx, InvitationParams{TenantID: primary.ID, Email: "b@corp.io", Role: models.RoleMember}, actorFor(a))
	require.NoError(t, err)
	b, err := mem.Users().GetByEmail(ctx, "b@corp.io")
	require.NoError(t, err)
	stripOtherMemberships(t, mem, b.ID, primary.ID)

	// C was removed earlier and lingers as a disabled stale orphan
	_, err = r.Invite(ctx, InvitationParams{TenantID: primary.ID, Email: "c@corp.io", Role: models.RoleViewer}, actorFor(a))
	require.NoError(t, err)
	c, err := mem.Users().GetByEmail(ctx, "c@corp.io")
	require.NoError(t, err)
	stripOtherMemberships(t, mem, c.ID, primary.ID)
	_, err = r.RemoveMember(ctx, RemovalParams{TenantID: primary.ID, TargetUserID: c.ID}, actorFor(a))
	require.NoError(t, err)

	// one still-pending invitation to be cancelled by the deletion
	require.NoError(t, mem.Invitations().Create(ctx, &models.Invitation{
		Token:       uuid.New(),
		Email:       "d@corp.io",
		TenantID:    primary.ID,
		Role:        models.RoleMember,
		Status:      models.InvitationPending,
		ExpiresAt:   testTime.Add(24 * time.Hour),
		CreatedByID: a.ID,
		CreatedAt:   testTime,
	}))

	primary, err = mem.Tenants().Get(ctx, primary.ID)
	require.NoError(t, err)
	groupID, clientID := *primary.KeycloakGroupID, *primary.KeycloakClientID

	result, err := r.DeleteTenant(ctx, DeletionParams{TenantID: primary.ID, Confirm: true}, actorFor(a))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, "primary", result.Details["schema_name"])
	require.Equal(t, []string{b.Username}, result.Details["deleted_users"])
	require.Equal(t, []string{a.Username}, result.Details["kept_users"])
	require.Equal(t, []string{c.Username}, result.Details["stale_orphans"])
	require.Equal(t, 1, result.Details["cancelled_invitations"])
	require.Equal(t, int64(2), result.Details["deleted_user_rows"])

	// catalog and partition are gone
	_, err = mem.Tenants().Get(ctx, primary.ID)
	require.ErrorIs(t, err, store.ErrTenantNotFound)
	exists, err := mem.Partitions().PartitionExists(ctx, "primary")
	require.NoError(t, err)
	require.False(t, exists)

	// B and C hard-deleted on both sides, A untouched
	_, err = mem.Users().Get(ctx, b.ID)
	require.ErrorIs(t, err, store.ErrUserNotFound)
	_, err = mem.Users().Get(ctx, c.ID)
	require.ErrorIs(t, err, store.ErrUserNotFound)
	require.Nil(t, idp.UserByID(b.KeycloakID))
	require.Nil(t, idp.UserByID(c.KeycloakID))

	kept, err := mem.Users().Get(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, kept.Active)
	require.NotNil(t, idp.UserByID(a.KeycloakID))
	_, err = mem.Memberships().Get(ctx, a.ID, side.ID)
	require.NoError(t, err)

	// tenant-level provider objects are gone
	require.False(t, idp.HasGroup(groupID))
	require.False(t, idp.HasClient(clientID))
}

func TestDeleteTenantRequiresConfirmation(t *testing.T) {
	r, mem, _ := newTestRunner(t)

	tenant, owner := mustRegister(t, r, mem, "Careful Co", "boss@careful.co")

	_, err := r.DeleteTenant(context.Background(), DeletionParams{TenantID: tenant.ID}, actorFor(owner))
	require.ErrorIs(t, err, ErrNotConfirmed)

	// nothing happened
	_, err = mem.Tenants().Get(context.Background(), tenant.ID)
	require.NoError(t, err)
}

func TestDeleteTenantRerunIsNoOp(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Gone Co", "boss@gone.co")
	stripOtherMemberships(t, mem, owner.ID, tenant.ID)

	first, err := r.DeleteTenant(ctx, DeletionParams{TenantID: tenant.ID, Confirm: true}, actorFor(owner))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, first.Status)

	before, err := mem.Audit().List(ctx, "", 0)
	require.NoError(t, err)

	second, err := r.DeleteTenant(ctx, DeletionParams{TenantID: tenant.ID, Confirm: true}, actorFor(owner))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, second.Status)
	require.Equal(t, true, second.Details["already_deleted"])

	// the no-op leaves no audit trace
	after, err := mem.Audit().List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, after, len(before))
}

func TestDeleteTenantProviderOutageIsWarning(t *testing.T) {
	r, mem, idp := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Flaky Del", "boss@flakydel.io")
	stripOtherMemberships(t, mem, owner.ID, tenant.ID)

	idp.FailOn("DeleteGroup", errors.New("keycloak is down"))

	result, err := r.DeleteTenant(ctx, DeletionParams{TenantID: tenant.ID, Confirm: true}, actorFor(owner))
	require.NoError(t, err)
	require.Equal(t, StatusSucceededWithWarnings, result.Status)
	require.NotEmpty(t, result.Warnings)

	// local teardown still ran to completion
	_, err = mem.Tenants().Get(ctx, tenant.ID)
	require.ErrorIs(t, err, store.ErrTenantNotFound)
	exists, err := mem.Partitions().PartitionExists(ctx, tenant.SchemaName)
	require.NoError(t, err)
	require.False(t, exists)
}
