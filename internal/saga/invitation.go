package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/identity"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// invitationTTL is how long an invitation stays PENDING before the lazy
// expiry flip.
const invitationTTL = 7 * 24 * time.Hour

// InvitationParams invites an email into a tenant with a role.
type InvitationParams struct {
	TenantID  uuid.UUID
	Email     string
	Role      models.Role
	FirstName string
	LastName  string
}

// Invite runs the member invitation saga. Inviting an email that already has
// a live PENDING invitation re-sends the provider notification and returns
// the existing token instead of creating a duplicate. Invited MEMBERs and
// VIEWERs get a personal tenant of their own so they can invite others
// later.
func (r *Runner) Invite(ctx context.Context, params InvitationParams, actor Actor) (*Result, error) {
	if params.Email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidParams)
	}
	if !params.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, params.Role)
	}
	if err := r.requireOwner(ctx, actor, params.TenantID); err != nil {
		return nil, err
	}

	tenant, err := r.stores.Tenants.Get(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}

	// Reject emails that already hold a membership here.
	if existing, err := r.stores.Users.GetByEmail(ctx, params.Email); err == nil {
		if _, err := r.stores.Memberships.Get(ctx, existing.ID, tenant.ID); err == nil {
			return nil, ErrAlreadyMember
		}
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	pending, err := r.stores.Invitations.FindPending(ctx, params.Email, tenant.ID)
	if err != nil && !errors.Is(err, store.ErrInvitationNotFound) {
		return nil, err
	}

	s := r.newRun(SagaMemberInvitation, tenant.SchemaName, actor)
	if err := s.begin(ctx); err != nil {
		return s.result, nil
	}

	if pending != nil {
		s.resendInvitation(ctx, pending)
		s.complete(ctx)
		return s.result, nil
	}

	user, created, err := r.ensureUser(ctx, s, params.Email, params.FirstName, params.LastName)
	if err != nil {
		return s.result, nil
	}

	s.wireUserIntoTenant(ctx, tenant, user, params.Role)

	err = s.step(ctx, "create_membership", func(ctx context.Context) error {
		err := r.stores.Memberships.Create(ctx, &models.Membership{
			UserID:    user.ID,
			TenantID:  tenant.ID,
			Role:      params.Role,
			CreatedAt: r.now(),
		})
		if err != nil && !errors.Is(err, store.ErrMembershipAlreadyExists) {
			return err
		}
		return r.stores.Memberships.UpsertRoleAssignment(ctx, &models.RoleAssignment{
			UserID:   user.ID,
			TenantID: tenant.ID,
			Role:     params.Role,
		})
	})
	if err != nil {
		return s.result, nil
	}

	if created && params.Role != models.RoleOwner {
		s.spinUpPersonalTenant(ctx, user)
	}

	now := r.now()
	inv := &models.Invitation{
		Token:       uuid.New(),
		Email:       params.Email,
		TenantID:    tenant.ID,
		Role:        params.Role,
		Status:      models.InvitationPending,
		ExpiresAt:   now.Add(invitationTTL),
		CreatedByID: actor.ID,
		CreatedAt:   now,
	}
	err = s.step(ctx, "create_invitation", func(ctx context.Context) error {
		// the provider, not this system, gates actual password setup, so the
		// invitation is accepted on creation
		inv.AcceptedByID = &user.ID
		if err := inv.Apply(models.InvitationEventAccept, now); err != nil {
			return err
		}
		return r.stores.Invitations.Create(ctx, inv)
	})
	if err != nil {
		return s.result, nil
	}

	if created {
		s.bestEffort(ctx, "send_password_notification", func(ctx context.Context) error {
			return r.idp.SendExecuteActionsEmail(ctx, user.KeycloakID,
				[]string{identity.ActionUpdatePassword}, actionEmailLifespan)
		})
	}

	s.result.detail("invitation_token", inv.Token.String())
	s.result.detail("username", user.Username)
	s.result.detail("role", string(params.Role))
	s.partitionLog(ctx, tenant.SchemaName, models.AuditCompleted, s.result.Details)
	s.complete(ctx)
	return s.result, nil
}

// resendInvitation re-triggers the provider notification for a still-live
// invitation.
func (s *run) resendInvitation(ctx context.Context, inv *models.Invitation) {
	r := s.r
	s.bestEffort(ctx, "resend_notification", func(ctx context.Context) error {
		u, err := r.idp.GetUserByEmail(ctx, inv.Email)
		if err != nil {
			return err
		}
		return r.idp.SendExecuteActionsEmail(ctx, u.ID,
			[]string{identity.ActionUpdatePassword}, actionEmailLifespan)
	})
	s.result.detail("invitation_token", inv.Token.String())
	s.result.detail("resent", true)
}

// spinUpPersonalTenant creates a single-owner tenant for a newly invited
// user. Failure here is a warning: the invitation stands, the personal
// tenant can be provisioned again later.
func (s *run) spinUpPersonalTenant(ctx context.Context, user *models.User) {
	r := s.r

	var tenant *models.Tenant
	s.bestEffort(ctx, "create_personal_tenant", func(ctx context.Context) error {
		schemaName, err := r.deriveSchemaName(ctx, schemaSlug(user.Username))
		if err != nil {
			return err
		}

		now := r.now()
		org := &models.Organization{
			ID:        uuid.New(),
			Name:      user.Username,
			CreatedAt: now,
		}
		t := &models.Tenant{
			ID:             uuid.New(),
			SchemaName:     schemaName,
			Name:           user.Username,
			OnTrial:        true,
			OrganizationID: &org.ID,
			CreatedAt:      now,
		}
		if err := r.stores.Organizations.Create(ctx, org); err != nil {
			return err
		}
		if err := r.stores.Tenants.Create(ctx, t); err != nil {
			return err
		}
		if err := r.stores.Partitions.CreatePartition(ctx, schemaName); err != nil {
			return err
		}
		err = r.stores.Memberships.Create(ctx, &models.Membership{
			UserID:    user.ID,
			TenantID:  t.ID,
			Role:      models.RoleOwner,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		err = r.stores.Memberships.UpsertRoleAssignment(ctx, &models.RoleAssignment{
			UserID:   user.ID,
			TenantID: t.ID,
			Role:     models.RoleOwner,
		})
		if err != nil {
			return err
		}
		tenant = t
		return nil
	})
	if tenant == nil {
		return
	}

	s.provisionTenantIdentity(ctx, tenant)
	s.wireUserIntoTenant(ctx, tenant, user, models.RoleOwner)
	s.result.detail("personal_tenant", tenant.SchemaName)
}

// ValidateInvitation is a read-only view over invitation state. Its only
// mutation is the lazy PENDING to EXPIRED flip past the expiry timestamp.
func (r *Runner) ValidateInvitation(ctx context.Context, token uuid.UUID) (*models.Invitation, error) {
	inv, err := r.stores.Invitations.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.ExpireIfDue(r.now()) {
		if err := r.stores.Invitations.Update(ctx, inv); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// AcceptInvitation is the legacy accept path. Accepting an already ACCEPTED
// invitation is idempotent; EXPIRED and CANCELLED reject.
func (r *Runner) AcceptInvitation(ctx context.Context, token uuid.UUID, userID uuid.UUID) (*models.Invitation, error) {
	inv, err := r.ValidateInvitation(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvitationAccepted {
		return inv, nil
	}

	inv.AcceptedByID = &userID
	if err := inv.Apply(models.InvitationEventAccept, r.now()); err != nil {
		return nil, err
	}
	if err := r.stores.Invitations.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// CancelInvitation cancels a PENDING invitation. Only tenant owners may
// cancel.
func (r *Runner) CancelInvitation(ctx context.Context, token uuid.UUID, actor Actor) (*models.Invitation, error) {
	inv, err := r.ValidateInvitation(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := r.requireOwner(ctx, actor, inv.TenantID); err != nil {
		return nil, err
	}
	if err := inv.Apply(models.InvitationEventCancel, r.now()); err != nil {
		return nil, err
	}
	if err := r.stores.Invitations.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}
