package saga

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// DeletionParams permanently deletes a tenant. Confirm must be set; deletion
// is never triggered implicitly.
type DeletionParams struct {
	TenantID uuid.UUID
	Confirm  bool
}

// DeleteTenant runs the tenant deletion saga. Step order is load-bearing:
// catalog rows are purged before the partition is dropped (the partition
// holds rows constrained back to the shared user table), and user rows are
// hard-deleted only after the partition is gone. A failure aborts the run
// and writes a FAILED audit record; re-invoking relies on per-step
// idempotence, and re-invoking after a completed run is a no-op.
func (r *Runner) DeleteTenant(ctx context.Context, params DeletionParams, actor Actor) (*Result, error) {
	if !params.Confirm {
		return nil, ErrNotConfirmed
	}

	// Snapshot before the STARTED record: a tenant already gone means a
	// prior run completed, which is success, not a new audit entry.
	tenant, err := r.stores.Tenants.Get(ctx, params.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			result := &Result{
				Saga:   SagaTenantDeletion,
				RunID:  uuid.New(),
				Status: StatusSucceeded,
			}
			result.detail("already_deleted", true)
			return result, nil
		}
		return nil, err
	}
	if err := r.requireOwner(ctx, actor, tenant.ID); err != nil {
		return nil, err
	}
	members, err := r.stores.Memberships.ListByTenant(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}

	s := r.newRun(SagaTenantDeletion, tenant.SchemaName, actor)
	if err := s.begin(ctx); err != nil {
		return s.result, nil
	}
	s.partitionLog(ctx, tenant.SchemaName, models.AuditStarted, map[string]any{"triggered_by": actor.Username})

	// Provider-side member cleanup. Orphans (no membership outside this
	// tenant) are deleted outright; everyone else is merely unwired.
	var deletedUsers, keptUsers []string
	for _, member := range members {
		other, err := r.stores.Memberships.CountByUserExcludingTenant(ctx, member.User.ID, tenant.ID)
		if err != nil {
			s.fail(ctx, "classify_members", err)
			return s.result, nil
		}

		user := member.User
		if other == 0 {
			deletedUsers = append(deletedUsers, user.Username)
			s.bestEffort(ctx, "delete_provider_user", func(ctx context.Context) error {
				return r.idp.DeleteUser(ctx, user.KeycloakID)
			})
			continue
		}

		keptUsers = append(keptUsers, user.Username)
		s.bestEffort(ctx, "revoke_sessions", func(ctx context.Context) error {
			return r.idp.RevokeSessions(ctx, user.KeycloakID)
		})
		if tenant.KeycloakGroupID != nil {
			s.bestEffort(ctx, "remove_from_group", func(ctx context.Context) error {
				return r.idp.RemoveUserFromGroup(ctx, user.KeycloakID, *tenant.KeycloakGroupID)
			})
		}
		if tenant.KeycloakClientID != nil {
			role := member.Membership.Role
			s.bestEffort(ctx, "remove_client_role", func(ctx context.Context) error {
				return r.idp.RemoveClientRole(ctx, user.KeycloakID, *tenant.KeycloakClientID, string(role))
			})
		}
		s.bestEffort(ctx, "remove_from_organization", func(ctx context.Context) error {
			return r.idp.RemoveUserFromOrganization(ctx, user.KeycloakID, tenant.Name)
		})
	}

	cancelled := 0
	err = s.step(ctx, "cancel_invitations", func(ctx context.Context) error {
		n, err := r.stores.Invitations.CancelPending(ctx, tenant.ID)
		if err != nil {
			return err
		}
		cancelled = n
		return nil
	})
	if err != nil {
		return s.result, nil
	}

	// Tenant-level provider objects. A missing remote object is success.
	if tenant.KeycloakGroupID != nil {
		s.bestEffort(ctx, "delete_provider_group", func(ctx context.Context) error {
			_, err := r.idp.DeleteGroup(ctx, *tenant.KeycloakGroupID)
			return err
		})
	}
	if tenant.KeycloakClientID != nil {
		s.bestEffort(ctx, "delete_provider_client", func(ctx context.Context) error {
			_, err := r.idp.DeleteClient(ctx, *tenant.KeycloakClientID)
			return err
		})
	}
	s.bestEffort(ctx, "delete_provider_organization", func(ctx context.Context) error {
		_, err := r.idp.DeleteOrganizationByName(ctx, tenant.Name)
		return err
	})

	var purge *store.PurgeResult
	err = s.step(ctx, "purge_catalog", func(ctx context.Context) error {
		p, err := r.stores.Tenants.Purge(ctx, tenant.ID)
		if err != nil {
			return err
		}
		purge = p
		return nil
	})
	if err != nil {
		return s.result, nil
	}

	// Point of no return: nothing after this step may read partition data.
	err = s.step(ctx, "drop_partition", func(ctx context.Context) error {
		_, err := r.stores.Partitions.DropPartition(ctx, tenant.SchemaName)
		return err
	})
	if err != nil {
		return s.result, nil
	}

	// Stale orphans found by the purge scan: deactivated users orphaned by
	// earlier removals, swept here.
	var staleUsernames []string
	for _, id := range purge.StaleOrphanUserIDs {
		user, err := r.stores.Users.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				continue
			}
			s.fail(ctx, "load_stale_orphans", err)
			return s.result, nil
		}
		staleUsernames = append(staleUsernames, user.Username)
		s.bestEffort(ctx, "delete_provider_user", func(ctx context.Context) error {
			return r.idp.DeleteUser(ctx, user.KeycloakID)
		})
	}

	var removedRows int64
	err = s.step(ctx, "delete_user_rows", func(ctx context.Context) error {
		ids := append(append([]uuid.UUID(nil), purge.OrphanUserIDs...), purge.StaleOrphanUserIDs...)
		n, err := r.stores.Users.Delete(ctx, ids)
		if err != nil {
			return err
		}
		removedRows = n
		return nil
	})
	if err != nil {
		return s.result, nil
	}

	s.result.detail("schema_name", tenant.SchemaName)
	s.result.detail("deleted_users", emptyIfNil(deletedUsers))
	s.result.detail("kept_users", emptyIfNil(keptUsers))
	s.result.detail("stale_orphans", emptyIfNil(staleUsernames))
	s.result.detail("cancelled_invitations", cancelled)
	s.result.detail("deleted_user_rows", removedRows)
	s.complete(ctx)
	return s.result, nil
}

// emptyIfNil keeps audit payloads as [] instead of null.
func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
