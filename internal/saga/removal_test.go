package saga

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

func TestRemoveMemberKeepsUserWithOtherMemberships(t *testing.T) {
	r, mem, idp := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Keep Co", "boss@keep.co")
	_, err := r.Invite(ctx, InvitationParams{
		TenantID: tenant.ID,
		Email:    "member@keep.co",
		Role:     models.RoleMember,
	}, actorFor(owner))
	require.NoError(t, err)

	target, err := mem.Users().GetByEmail(ctx, "member@keep.co")
	require.NoError(t, err)

	result, err := r.RemoveMember(ctx, RemovalParams{
		TenantID:     tenant.ID,
		TargetUserID: target.ID,
	}, actorFor(owner))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, false, result.Details["orphaned"])

	_, err = mem.Memberships().Get(ctx, target.ID, tenant.ID)
	require.ErrorIs(t, err, store.ErrMembershipNotFound)

	// personal tenant membership keeps the account alive and active
	kept, err := mem.Users().Get(ctx, target.ID)
	require.NoError(t, err)
	require.True(t, kept.Active)

	tenant, err = mem.Tenants().Get(ctx, tenant.ID)
	require.NoError(t, err)
	require.False(t, idp.HasRole(target.KeycloakID, *tenant.KeycloakClientID, "MEMBER"))
	require.Equal(t, 1, idp.RevokedSessions(target.KeycloakID))
}

func TestRemoveMemberDisablesOrphan(t *testing.T) {
	r, mem, idp := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Orphan Co", "boss@orphan.co")
	_, err := r.Invite(ctx, InvitationParams{
		TenantID: tenant.ID,
		Email:    "lonely@orphan.co",
		Role:     models.RoleViewer,
	}, actorFor(owner))
	require.NoError(t, err)

	target, err := mem.Users().GetByEmail(ctx, "lonely@orphan.co")
	require.NoError(t, err)

	// strip the personal tenant membership so removal leaves zero
	memberships, err := mem.Memberships().ListByUser(ctx, target.ID)
	require.NoError(t, err)
	for _, m := range memberships {
		if m.TenantID != tenant.ID {
			require.NoError(t, mem.Memberships().Delete(ctx, target.ID, m.TenantID))
		}
	}

	result, err := r.RemoveMember(ctx, RemovalParams{
		TenantID:     tenant.ID,
		TargetUserID: target.ID,
	}, actorFor(owner))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, true, result.Details["orphaned"])

	// disabled on both sides, deleted on neither
	disabled, err := mem.Users().Get(ctx, target.ID)
	require.NoError(t, err)
	require.False(t, disabled.Active)

	kc := idp.UserByID(target.KeycloakID)
	require.NotNil(t, kc)
	require.False(t, kc.Enabled)
}

func TestRemoveMemberValidation(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Guard Co", "boss@guard.co")
	_, err := r.Invite(ctx, InvitationParams{
		TenantID: tenant.ID,
		Email:    "second@guard.co",
		Role:     models.RoleOwner,
	}, actorFor(owner))
	require.NoError(t, err)
	second, err := mem.Users().GetByEmail(ctx, "second@guard.co")
	require.NoError(t, err)

	// removing yourself is rejected
	_, err = r.RemoveMember(ctx, RemovalParams{
		TenantID:     tenant.ID,
		TargetUserID: owner.ID,
	}, actorFor(owner))
	require.ErrorIs(t, err, ErrSelfTarget)

	// owners are removed via role change first, never directly
	_, err = r.RemoveMember(ctx, RemovalParams{
		TenantID:     tenant.ID,
		TargetUserID: second.ID,
	}, actorFor(owner))
	require.ErrorIs(t, err, ErrTargetIsOwner)

	// membership must exist
	_, err = r.RemoveMember(ctx, RemovalParams{
		TenantID:     tenant.ID,
		TargetUserID: uuid.New(),
	}, actorFor(owner))
	require.ErrorIs(t, err, store.ErrMembershipNotFound)
}
