package saga

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/mokshitha-y/todosaas/internal/identity"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

func TestInviteNewMemberGetsPersonalTenant(t *testing.T) {
	r, mem, idp := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Team Inc", "boss@team.inc")

	result, err := r.Invite(ctx, InvitationParams{
		TenantID: tenant.ID,
		Email:    "newbie@team.inc",
		Role:     models.RoleMember,
	}, actorFor(owner))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, "newbie", result.Details["username"])
	require.Equal(t, "MEMBER", result.Details["role"])
	require.Equal(t, "newbie", result.Details["personal_tenant"])

	newbie, err := mem.Users().GetByEmail(ctx, "newbie@team.inc")
	require.NoError(t, err)

	m, err := mem.Memberships().Get(ctx, newbie.ID, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleMember, m.Role)

	// personal tenant with the invitee as its OWNER
	personal, err := mem.Tenants().GetBySchema(ctx, "newbie")
	require.NoError(t, err)
	pm, err := mem.Memberships().Get(ctx, newbie.ID, personal.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleOwner, pm.Role)

	// invitation is recorded already accepted
	token := uuid.MustParse(result.Details["invitation_token"].(string))
	inv, err := mem.Invitations().Get(ctx, token)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, inv.Status)
	require.Equal(t, newbie.ID, *inv.AcceptedByID)

	require.Equal(t, 1, idp.ActionEmails(newbie.KeycloakID))
}

func TestInviteExistingUserSkipsPersonalTenant(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenantA, ownerA := mustRegister(t, r, mem, "Alpha", "a@alpha.io")
	_, sharedOwner := mustRegister(t, r, mem, "Beta", "shared@beta.io")

	result, err := r.Invite(ctx, InvitationParams{
		TenantID: tenantA.ID,
		Email:    sharedOwner.Email,
		Role:     models.RoleViewer,
	}, actorFor(ownerA))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)
	require.NotContains(t, result.Details, "personal_tenant")

	m, err := mem.Memberships().Get(ctx, sharedOwner.ID, tenantA.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleViewer, m.Role)
}

func TestInviteRejectsExistingMember(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Gamma", "g@gamma.io")

	_, err := r.Invite(ctx, InvitationParams{
		TenantID: tenant.ID,
		Email:    owner.Email,
		Role:     models.RoleMember,
	}, actorFor(owner))
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestInviteRequiresOwner(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Delta", "d@delta.io")

	res, err := r.Invite(ctx, InvitationParams{
		TenantID: tenant.ID,
		Email:    "viewer@delta.io",
		Role:     models.RoleViewer,
	}, actorFor(owner))
	require.NoError(t, err)
	require.NotEqual(t, StatusFailed, res.Status)

	viewer, err := mem.Users().GetByEmail(ctx, "viewer@delta.io")
	require.NoError(t, err)

	_, err = r.Invite(ctx, InvitationParams{
		TenantID: tenant.ID,
		Email:    "other@delta.io",
		Role:     models.RoleViewer,
	}, actorFor(viewer))
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestInviteRejectsInvalidRole(t *testing.T) {
	r, mem, _ := newTestRunner(t)

	tenant, owner := mustRegister(t, r, mem, "Epsilon", "e@epsilon.io")

	_, err := r.Invite(context.Background(), InvitationParams{
		TenantID: tenant.ID,
		Email:    "x@epsilon.io",
		Role:     models.Role("SUPERADMIN"),
	}, actorFor(owner))
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestInviteResendsPendingInvitation(t *testing.T) {
	r, mem, idp := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Zeta", "z@zeta.io")

	kcID, err := idp.CreateUser(ctx, identity.User{
		Username: "waiting",
		Email:    "waiting@zeta.io",
	}, nil)
	require.NoError(t, err)

	pending := &models.Invitation{
		Token:       uuid.New(),
		Email:       "waiting@zeta.io",
		TenantID:    tenant.ID,
		Role:        models.RoleMember,
		Status:      models.InvitationPending,
		ExpiresAt:   testTime.Add(24 * time.Hour),
		CreatedByID: owner.ID,
		CreatedAt:   testTime.Add(-time.Hour),
	}
	require.NoError(t, mem.Invitations().Create(ctx, pending))

	result, err := r.Invite(ctx, InvitationParams{
		TenantID: tenant.ID,
		Email:    "waiting@zeta.io",
		Role:     models.RoleMember,
	}, actorFor(owner))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, result.Status)
	require.Equal(t, pending.Token.String(), result.Details["invitation_token"])
	require.Equal(t, true, result.Details["resent"])
	require.Equal(t, 1, idp.ActionEmails(kcID))

	// no membership or local user was created on the resend path
	_, err = mem.Users().GetByEmail(ctx, "waiting@zeta.io")
	require.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestValidateInvitationExpiresLazily(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Eta", "h@eta.io")

	inv := &models.Invitation{
		Token:       uuid.New(),
		Email:       "late@eta.io",
		TenantID:    tenant.ID,
		Role:        models.RoleViewer,
		Status:      models.InvitationPending,
		ExpiresAt:   testTime.Add(-time.Minute),
		CreatedByID: owner.ID,
		CreatedAt:   testTime.Add(-8 * 24 * time.Hour),
	}
	require.NoError(t, mem.Invitations().Create(ctx, inv))

	got, err := r.ValidateInvitation(ctx, inv.Token)
	require.NoError(t, err)
	require.Equal(t, models.InvitationExpired, got.Status)

	// the flip is persisted
	stored, err := mem.Invitations().Get(ctx, inv.Token)
	require.NoError(t, err)
	require.Equal(t, models.InvitationExpired, stored.Status)

	// expired invitations no longer accept
	_, err = r.AcceptInvitation(ctx, inv.Token, owner.ID)
	require.Error(t, err)
}

func TestCancelInvitationOwnerOnly(t *testing.T) {
	r, mem, _ := newTestRunner(t)
	ctx := context.Background()

	tenant, owner := mustRegister(t, r, mem, "Theta", "t@theta.io")

	inv := &models.Invitation{
		Token:       uuid.New(),
		Email:       "cancel@theta.io",
		TenantID:    tenant.ID,
		Role:        models.RoleMember,
		Status:      models.InvitationPending,
		ExpiresAt:   testTime.Add(24 * time.Hour),
		CreatedByID: owner.ID,
		CreatedAt:   testTime,
	}
	require.NoError(t, mem.Invitations().Create(ctx, inv))

	_, err := r.CancelInvitation(ctx, inv.Token, Actor{ID: uuid.New(), Username: "stranger"})
	require.ErrorIs(t, err, ErrNotOwner)

	got, err := r.CancelInvitation(ctx, inv.Token, actorFor(owner))
	require.NoError(t, err)
	require.Equal(t, models.InvitationCancelled, got.Status)
}
