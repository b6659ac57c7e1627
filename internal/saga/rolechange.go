package saga

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/models"
)

// RoleChangeParams changes a member's role within a tenant.
type RoleChangeParams struct {
	TenantID     uuid.UUID
	TargetUserID uuid.UUID
	NewRole      models.Role
}

// ChangeRole runs the role change saga. Local catalog state is the source of
// truth for authorization; the identity-provider mirror is synchronized
// best-effort and a sync failure never reverts the local change.
func (r *Runner) ChangeRole(ctx context.Context, params RoleChangeParams, actor Actor) (*Result, error) {
	if !params.NewRole.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, params.NewRole)
	}
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
	oldRole := membership.Role
	if oldRole == params.NewRole {
		return nil, fmt.Errorf("%w: member already holds %s", ErrInvalidRole, oldRole)
	}

	// Demoting the last OWNER would leave the tenant unowned.
	if oldRole == models.RoleOwner {
		owners, err := r.stores.Memberships.CountByTenantRole(ctx, params.TenantID, models.RoleOwner)
		if err != nil {
			return nil, err
		}
		if owners <= 1 {
			return nil, ErrLastOwner
		}
	}

	tenant, err := r.stores.Tenants.Get(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}
	target, err := r.stores.Users.Get(ctx, params.TargetUserID)
	if err != nil {
		return nil, err
	}

	s := r.newRun(SagaRoleChange, tenant.SchemaName, actor)
	if err := s.begin(ctx); err != nil {
		return s.result, nil
	}

	err = s.step(ctx, "update_local_role", func(ctx context.Context) error {
		if err := r.stores.Memberships.UpdateRole(ctx, target.ID, tenant.ID, params.NewRole); err != nil {
			return err
		}
		return r.stores.Memberships.UpsertRoleAssignment(ctx, &models.RoleAssignment{
			UserID:   target.ID,
			TenantID: tenant.ID,
			Role:     params.NewRole,
		})
	})
	if err != nil {
		return s.result, nil
	}

	roleSynced := true
	if tenant.KeycloakClientID != nil {
		out := s.bestEffort(ctx, "remove_old_client_role", func(ctx context.Context) error {
			return r.idp.RemoveClientRole(ctx, target.KeycloakID, *tenant.KeycloakClientID, string(oldRole))
		})
		roleSynced = roleSynced && out.OK

		out = s.bestEffort(ctx, "assign_new_client_role", func(ctx context.Context) error {
			return r.idp.AssignClientRole(ctx, target.KeycloakID, *tenant.KeycloakClientID, string(params.NewRole))
		})
		roleSynced = roleSynced && out.OK
	} else {
		roleSynced = false
		s.result.warn("tenant has no identity provider client, role not mirrored")
	}

	// Force re-authentication so role claims baked into tokens refresh.
	s.bestEffort(ctx, "revoke_sessions", func(ctx context.Context) error {
		return r.idp.RevokeSessions(ctx, target.KeycloakID)
	})

	s.result.detail("target_username", target.Username)
	s.result.detail("old_role", string(oldRole))
	s.result.detail("new_role", string(params.NewRole))
	s.result.detail("keycloak_role_updated", roleSynced)
	s.partitionLog(ctx, tenant.SchemaName, models.AuditCompleted, s.result.Details)
	s.complete(ctx)
	return s.result, nil
}
