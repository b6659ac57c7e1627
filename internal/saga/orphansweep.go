package saga

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// SweepOrphans hard-deletes deactivated users that hold zero memberships
// anywhere. The same sweep rides along with every tenant deletion; this
// explicit run covers deployments where deletions are rare.
func (r *Runner) SweepOrphans(ctx context.Context, actor Actor) (*Result, error) {
	s := r.newRun(SagaOrphanSweep, "system", actor)
	if err := s.begin(ctx); err != nil {
		return s.result, nil
	}

	var ids []uuid.UUID
	err := s.step(ctx, "list_orphans", func(ctx context.Context) error {
		found, err := r.stores.Users.ListInactiveOrphanIDs(ctx)
		if err != nil {
			return err
		}
		ids = found
		return nil
	})
	if err != nil {
		return s.result, nil
	}

	var swept []string
	for _, id := range ids {
		user, err := r.stores.Users.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				continue
			}
			s.fail(ctx, "load_orphans", err)
			return s.result, nil
		}
		swept = append(swept, user.Username)
		s.bestEffort(ctx, "delete_provider_user", func(ctx context.Context) error {
			return r.idp.DeleteUser(ctx, user.KeycloakID)
		})
	}

	var removed int64
	err = s.step(ctx, "delete_user_rows", func(ctx context.Context) error {
		n, err := r.stores.Users.Delete(ctx, ids)
		if err != nil {
			return err
		}
		removed = n
		return nil
	})
	if err != nil {
		return s.result, nil
	}

	s.result.detail("swept_users", emptyIfNil(swept))
	s.result.detail("deleted_user_rows", removed)
	s.complete(ctx)
	return s.result, nil
}
