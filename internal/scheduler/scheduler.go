package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/cron"
	"github.com/rs/zerolog"

	"github.com/mokshitha-y/todosaas/internal/saga"
)

// Job is one recurring saga trigger. Tenant deletion is deliberately absent
// from every schedule; it only ever runs from an explicit, confirmed API
// call.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (*saga.Result, error)

	parsed cron.Parsed
}

// Scheduler drives the recurring fan-out sagas. Each job runs on its own
// cron cadence; a panicking or failing run never takes the loop down.
type Scheduler struct {
	jobs []*Job
	now  func() time.Time
}

type Option func(*Scheduler)

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. The schedule is standard cron, evaluated in UTC.
func (s *Scheduler) Add(job Job) error {
	parsed, err := cron.ParseUTC(job.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	job.parsed = parsed
	s.jobs = append(s.jobs, &job)
	return nil
}

// Defaults registers the standing jobs: hourly metrics aggregation and
// daily recurring-item rollover.
func (s *Scheduler) Defaults(runner *saga.Runner, metricsSchedule, rolloverSchedule string) error {
	actor := saga.Actor{Username: "scheduler"}
	if err := s.Add(Job{
		Name:     "metrics_aggregation",
		Schedule: metricsSchedule,
		Run: func(ctx context.Context) (*saga.Result, error) {
			return runner.AggregateMetrics(ctx, actor)
		},
	}); err != nil {
		return err
	}
	return s.Add(Job{
		Name:     "recurring_rollover",
		Schedule: rolloverSchedule,
		Run: func(ctx context.Context) (*saga.Result, error) {
			return runner.RolloverRecurring(ctx, actor)
		},
	})
}

// Start runs all registered jobs until the context is cancelled, then waits
// for in-flight runs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	log := zerolog.Ctx(ctx).With().Str("job", job.Name).Logger()

	for {
		next, err := job.parsed.Next(s.now())
		if err != nil {
			log.Error().Err(err).Msg("No next run time, job disabled")
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Debug().Msg("Scheduler job stopped")
			return
		case <-timer.C:
		}

		s.runJob(ctx, job, log)
	}
}

// runJob executes one tick with panic isolation.
func (s *Scheduler) runJob(ctx context.Context, job *Job, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("Scheduler job panicked")
		}
	}()

	started := s.now()
	result, err := job.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduler job failed")
		return
	}
	log.Info().
		Str("status", string(result.Status)).
		Str("run_id", result.RunID.String()).
		Dur("duration", time.Since(started)).
		Msg("Scheduler job completed")
}
