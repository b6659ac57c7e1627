package saga

import (
	"context"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/models"
)

// RemovalParams removes a member from a tenant.
type RemovalParams struct {
	TenantID     uuid.UUID
	TargetUserID uuid.UUID
}

// RemoveMember runs the member removal saga. A member left with zero
// memberships anywhere is disabled, never deleted here; hard deletion is
// deferred to the orphan sweep riding along with tenant deletion, or an
// explicit sweep run.
func (r *Runner) RemoveMember(ctx context.Context, params RemovalParams, actor Actor) (*Result, error) {
	if err := r.requireOwner(ctx, actor, params.TenantID); err != nil {
		return nil, err
	}
	if params.TargetUserID == actor.ID {
		return nil, ErrSelfTarget
	}

	membership, err := r.stores.Memberships.Get(ctx, params.TargetUserID, params.TenantID)
	if err != nil {
		return nil, err
	}
	if membership.Role == models.RoleOwner {
		return nil, ErrTargetIsOwner
	}

	tenant, err := r.stores.Tenants.Get(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}
	target, err := r.stores.Users.Get(ctx, params.TargetUserID)
	if err != nil {
		return nil, err
	}

	s := r.newRun(SagaMemberRemoval, tenant.SchemaName, actor)
	if err := s.begin(ctx); err != nil {
		return s.result, nil
	}

	s.bestEffort(ctx, "revoke_sessions", func(ctx context.Context) error {
		return r.idp.RevokeSessions(ctx, target.KeycloakID)
	})
	s.bestEffort(ctx, "remove_from_organization", func(ctx context.Context) error {
		return r.idp.RemoveUserFromOrganization(ctx, target.KeycloakID, tenant.Name)
	})
	if tenant.KeycloakGroupID != nil {
		s.bestEffort(ctx, "remove_from_group", func(ctx context.Context) error {
			return r.idp.RemoveUserFromGroup(ctx, target.KeycloakID, *tenant.KeycloakGroupID)
		})
	}
	if tenant.KeycloakClientID != nil {
		s.bestEffort(ctx, "remove_client_role", func(ctx context.Context) error {
			return r.idp.RemoveClientRole(ctx, target.KeycloakID, *tenant.KeycloakClientID, string(membership.Role))
		})
	}

	err = s.step(ctx, "delete_membership", func(ctx context.Context) error {
		if err := r.stores.Memberships.Delete(ctx, target.ID, tenant.ID); err != nil {
			return err
		}
		return r.stores.Memberships.DeleteRoleAssignment(ctx, target.ID, tenant.ID)
	})
	if err != nil {
		return s.result, nil
	}

	// Recompute after the delete: zero remaining memberships means the user
	// is orphaned and gets disabled pending a later sweep.
	orphaned := false
	err = s.step(ctx, "check_orphan", func(ctx context.Context) error {
		remaining, err := r.stores.Memberships.CountByUser(ctx, target.ID)
		if err != nil {
			return err
		}
		orphaned = remaining == 0
		return nil
	})
	if err != nil {
		return s.result, nil
	}

	if orphaned {
		s.bestEffort(ctx, "disable_provider_account", func(ctx context.Context) error {
			return r.idp.DisableUser(ctx, target.KeycloakID)
		})
		err = s.step(ctx, "deactivate_local_account", func(ctx context.Context) error {
			return r.stores.Users.SetActive(ctx, target.ID, false)
		})
		if err != nil {
			return s.result, nil
		}
	}

	s.result.detail("target_username", target.Username)
	s.result.detail("orphaned", orphaned)
	s.partitionLog(ctx, tenant.SchemaName, models.AuditCompleted, s.result.Details)
	s.complete(ctx)
	return s.result, nil
}
