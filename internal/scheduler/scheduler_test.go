package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mokshitha-y/todosaas/internal/saga"
)

func TestAddRejectsInvalidSchedule(t *testing.T) {
	s := New()
	err := s.Add(Job{Name: "broken", Schedule: "not a cron line"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}

func TestJobRunsOnSchedule(t *testing.T) {
	s := New()

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "ticker",
		Schedule: "* * * * * *",
		Run: func(ctx context.Context) (*saga.Result, error) {
			runs.Add(1)
			return &saga.Result{Saga: "ticker", Status: saga.StatusSucceeded}, nil
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	require.GreaterOrEqual(t, runs.Load(), int32(1))
}

func TestPanickingJobDoesNotKillTheLoop(t *testing.T) {
	log := zerolog.Nop()
	s := New()

	var after atomic.Bool
	job := &Job{
		Name: "explosive",
		Run: func(ctx context.Context) (*saga.Result, error) {
			panic("boom")
		},
	}

	require.NotPanics(t, func() {
		s.runJob(context.Background(), job, log)
		after.Store(true)
	})
	require.True(t, after.Load())
}
