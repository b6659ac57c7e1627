package saga

import (
	"context"

	"github.com/google/uuid"
	"github.com/mokshitha-y/todosaas/internal/models"
)

// RolloverRecurring runs the recurring-item rollover fan-out: every
// completed todo carrying a recurrence spawns its next instance and loses
// the recurrence itself, so each item rolls exactly once. Scheduled daily.
func (r *Runner) RolloverRecurring(ctx context.Context, actor Actor) (*Result, error) {
	s := r.newRun(SagaRecurringRollover, "system", actor)

	err := s.fanOut(ctx, func(ctx context.Context, tenant *models.Tenant) (map[string]any, error) {
		todos, err := r.stores.Partitions.ListRecurringCompleted(ctx, tenant.SchemaName)
		if err != nil {
			return nil, err
		}

		rolled := 0
		for _, todo := range todos {
			now := r.now()
			from := now
			if todo.DueDate != nil {
				from = *todo.DueDate
			}
			nextDue := todo.Recurrence.NextDue(from)

			next := &models.Todo{
				ID:           uuid.New(),
				Title:        todo.Title,
				Description:  todo.Description,
				DueDate:      &nextDue,
				Recurrence:   todo.Recurrence,
				ParentID:     &todo.ID,
				CreatedByID:  todo.CreatedByID,
				AssignedToID: todo.AssignedToID,
				CreatedAt:    now,
			}
			if err := r.stores.Partitions.Rollover(ctx, tenant.SchemaName, todo, next); err != nil {
				return nil, err
			}
			rolled++
		}

		return map[string]any{"rolled": rolled}, nil
	})
	if err != nil {
		return s.result, nil
	}

	s.complete(ctx)
	return s.result, nil
}
