package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/mokshitha-y/todosaas/internal/identity"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// Stores bundles every catalog store plus the partition manager, so sagas
// take one dependency instead of nine.
type Stores struct {
	Tenants       store.TenantStore
	Organizations store.OrganizationStore
	Users         store.UserStore
	Memberships   store.MembershipStore
	Invitations   store.InvitationStore
	EmailSettings store.EmailSettingsStore
	Metrics       store.MetricsStore
	Audit         store.AuditStore
	Partitions    store.PartitionManager
}

// Runner executes sagas. Safe for concurrent use; overlapping runs for
// different tenants share nothing but the stores and the identity provider.
type Runner struct {
	stores Stores
	idp    identity.Provider

	now         func() time.Time
	fanoutLimit int
	maxAttempts uint
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithFanoutLimit caps concurrent per-tenant iterations in fan-out sagas.
func WithFanoutLimit(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.fanoutLimit = n
		}
	}
}

// WithMaxAttempts sets the retry budget for identity-provider steps.
func WithMaxAttempts(n uint) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// NewRunner creates a saga runner over the given stores and identity
// provider.
func NewRunner(stores Stores, idp identity.Provider, opts ...Option) *Runner {
	r := &Runner{
		stores:      stores,
		idp:         idp,
		now:         time.Now,
		fanoutLimit: 4,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run triggers a saga by name. Params must be the saga's parameter struct.
// Validation failures return an error with a nil result; failures inside a
// started run return a Result with StatusFailed and a non-nil Result.Err.
func (r *Runner) Run(ctx context.Context, name string, params any, actor Actor) (*Result, error) {
	switch name {
	case SagaTenantRegistration:
		p, ok := params.(RegistrationParams)
		if !ok {
			return nil, fmt.Errorf("%w: want RegistrationParams", ErrInvalidParams)
		}
		return r.Register(ctx, p, actor)
	case SagaMemberInvitation:
		p, ok := params.(InvitationParams)
		if !ok {
			return nil, fmt.Errorf("%w: want InvitationParams", ErrInvalidParams)
		}
		return r.Invite(ctx, p, actor)
	case SagaRoleChange:
		p, ok := params.(RoleChangeParams)
		if !ok {
			return nil, fmt.Errorf("%w: want RoleChangeParams", ErrInvalidParams)
		}
		return r.ChangeRole(ctx, p, actor)
	case SagaMemberRemoval:
		p, ok := params.(RemovalParams)
		if !ok {
			return nil, fmt.Errorf("%w: want RemovalParams", ErrInvalidParams)
		}
		return r.RemoveMember(ctx, p, actor)
	case SagaTenantDeletion:
		p, ok := params.(DeletionParams)
		if !ok {
			return nil, fmt.Errorf("%w: want DeletionParams", ErrInvalidParams)
		}
		return r.DeleteTenant(ctx, p, actor)
	case SagaMetricsAggregation:
		return r.AggregateMetrics(ctx, actor)
	case SagaRecurringRollover:
		return r.RolloverRecurring(ctx, actor)
	case SagaOrphanSweep:
		return r.SweepOrphans(ctx, actor)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSaga, name)
	}
}

// run is the per-invocation state shared by the step helpers.
type run struct {
	r          *Runner
	result     *Result
	schemaName string
	actor      Actor
	audited    bool
}

func (r *Runner) newRun(saga, schemaName string, actor Actor) *run {
	return &run{
		r: r,
		result: &Result{
			Saga:   saga,
			RunID:  uuid.New(),
			Status: StatusSucceeded,
		},
		schemaName: schemaName,
		actor:      actor,
	}
}

func (s *run) log(ctx context.Context) *zerolog.Logger {
	logger := zerolog.Ctx(ctx).With().
		Str("saga", s.result.Saga).
		Str("run_id", s.result.RunID.String()).
		Str("schema_name", s.schemaName).
		Logger()
	return &logger
}

// begin writes the STARTED audit record. It is load-bearing: a catalog that
// cannot record the run must not run it.
func (s *run) begin(ctx context.Context) error {
	s.audited = true
	rec := &models.SystemAuditRecord{
		RunID:      s.result.RunID,
		Operation:  s.result.Saga,
		SchemaName: s.schemaName,
		Status:     models.AuditStarted,
		Detail:     s.detailJSON(map[string]any{"triggered_by": s.actor.Username}),
		CreatedAt:  s.r.now(),
	}
	if err := s.r.stores.Audit.Append(ctx, rec); err != nil {
		s.result.Status = StatusFailed
		s.result.Err = fmt.Errorf("failed to record saga start: %w", err)
		return s.result.Err
	}
	s.log(ctx).Info().Str("triggered_by", s.actor.Username).Msg("Saga started")
	return nil
}

// terminalErrors are catalog-state failures no retry can fix. Everything
// else (network errors, provider 5xx, timeouts) stays retryable.
var terminalErrors = []error{
	store.ErrTenantNotFound,
	store.ErrTenantAlreadyExists,
	store.ErrOrganizationNotFound,
	store.ErrUserNotFound,
	store.ErrUserAlreadyExists,
	store.ErrMembershipNotFound,
	store.ErrMembershipAlreadyExists,
	store.ErrInvitationNotFound,
	store.ErrDuplicateIdentityProvider,
}

// classify wraps terminal errors in backoff.Permanent so they fail fast
// instead of exhausting the attempt budget.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range terminalErrors {
		if errors.Is(err, sentinel) {
			return backoff.Permanent(err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}
	return err
}

// step runs a load-bearing step. The step's error is retried with
// exponential backoff up to the runner's attempt budget; terminal errors
// fail fast. A terminal failure marks the run FAILED and writes the FAILED
// audit record.
func (s *run) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	op := func() (struct{}, error) {
		return struct{}{}, classify(fn(ctx))
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.r.maxAttempts),
	)
	if err != nil {
		s.fail(ctx, name, err)
		return err
	}
	s.log(ctx).Debug().Str("step", name).Msg("Saga step completed")
	return nil
}

// bestEffort runs an identity-provider step whose failure is a warning, not
// a saga failure. Transient errors are retried first.
func (s *run) bestEffort(ctx context.Context, name string, fn func(ctx context.Context) error) Outcome {
	op := func() (struct{}, error) {
		return struct{}{}, classify(fn(ctx))
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.r.maxAttempts),
	)
	if err != nil {
		s.log(ctx).Warn().Err(err).Str("step", name).Msg("Best-effort saga step failed")
		out := Warnf("%s: %v", name, err)
		s.result.warn(out.Warning)
		return out
	}
	return Done()
}

// fail marks the run failed and writes the FAILED audit record including
// whatever partial details were accumulated.
func (s *run) fail(ctx context.Context, stepName string, err error) {
	s.result.Status = StatusFailed
	s.result.Err = fmt.Errorf("step %s: %w", stepName, err)
	s.result.detail("failed_step", stepName)
	s.result.detail("error", err.Error())
	s.log(ctx).Error().Err(err).Str("step", stepName).Msg("Saga failed")

	if !s.audited {
		return
	}
	rec := &models.SystemAuditRecord{
		RunID:      s.result.RunID,
		Operation:  s.result.Saga,
		SchemaName: s.schemaName,
		Status:     models.AuditFailed,
		Detail:     s.detailJSON(s.result.Details),
		CreatedAt:  s.r.now(),
	}
	if auditErr := s.r.stores.Audit.Append(ctx, rec); auditErr != nil {
		s.log(ctx).Error().Err(auditErr).Msg("Failed to record saga failure")
	}
}

// complete writes the COMPLETED audit record with the accumulated details.
func (s *run) complete(ctx context.Context) {
	if s.result.Status == StatusFailed {
		return
	}
	if len(s.result.Warnings) > 0 {
		s.result.detail("warnings", s.result.Warnings)
	}
	if s.audited {
		rec := &models.SystemAuditRecord{
			RunID:      s.result.RunID,
			Operation:  s.result.Saga,
			SchemaName: s.schemaName,
			Status:     models.AuditCompleted,
			Detail:     s.detailJSON(s.result.Details),
			CreatedAt:  s.r.now(),
		}
		if err := s.r.stores.Audit.Append(ctx, rec); err != nil {
			s.log(ctx).Error().Err(err).Msg("Failed to record saga completion")
		}
	}
	s.log(ctx).Info().Str("status", string(s.result.Status)).Msg("Saga completed")
}

func (s *run) detailJSON(detail map[string]any) json.RawMessage {
	if len(detail) == 0 {
		return json.RawMessage(`{}`)
	}
	buf, err := json.Marshal(detail)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return buf
}

// partitionLog appends a record to a tenant's orchestration log, ignoring a
// missing partition. Fan-out sagas use it as their primary log; destructive
// sagas mirror into it while the partition still exists.
func (s *run) partitionLog(ctx context.Context, schemaName string, status models.AuditStatus, detail map[string]any) {
	rec := &models.OrchestrationLogRecord{
		RunID:     s.result.RunID,
		Saga:      s.result.Saga,
		Status:    status,
		Detail:    s.detailJSON(detail),
		CreatedAt: s.r.now(),
	}
	if err := s.r.stores.Partitions.AppendLog(ctx, schemaName, rec); err != nil {
		s.log(ctx).Debug().Err(err).Str("schema_name", schemaName).Msg("Skipped orchestration log write")
	}
}

// requireOwner re-validates that the actor holds OWNER in the tenant.
func (r *Runner) requireOwner(ctx context.Context, actor Actor, tenantID uuid.UUID) error {
	m, err := r.stores.Memberships.Get(ctx, actor.ID, tenantID)
	if err != nil {
		return ErrNotOwner
	}
	if m.Role != models.RoleOwner {
		return ErrNotOwner
	}
	return nil
}
