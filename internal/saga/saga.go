// Package saga implements the tenant lifecycle orchestration core: named,
// fixed-order, idempotent step sequences that keep the shared catalog, the
// per-tenant data partitions and the external identity provider converged.
//
// There is no automatic compensation. A failed run leaves already-completed
// steps in place and relies on per-step idempotence when re-invoked.
package saga

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Saga names accepted by Runner.Run.
const (
	SagaTenantRegistration = "tenant_registration"
	SagaMemberInvitation   = "member_invitation"
	SagaRoleChange         = "role_change"
	SagaMemberRemoval      = "member_removal"
	SagaTenantDeletion     = "tenant_deletion"
	SagaMetricsAggregation = "metrics_aggregation"
	SagaRecurringRollover  = "recurring_rollover"
	SagaOrphanSweep        = "orphan_sweep"
)

// Validation errors. These reject a run before any mutation.
var (
	ErrUnknownSaga   = errors.New("unknown saga")
	ErrInvalidParams = errors.New("invalid saga parameters")
	ErrNotOwner      = errors.New("requester is not an owner of the tenant")
	ErrSelfTarget    = errors.New("actors cannot modify their own membership")
	ErrLastOwner     = errors.New("tenant must retain at least one owner")
	ErrTargetIsOwner = errors.New("owners must transfer ownership before removal")
	ErrAlreadyMember = errors.New("email already holds a membership in the tenant")
	ErrInvalidRole   = errors.New("invalid role")
	ErrNotConfirmed  = errors.New("tenant deletion requires explicit confirmation")
)

// Actor identifies who triggered a saga run, for permission gates and audit
// attribution. Permission checks are re-validated inside each saga, never
// trusted from the caller.
type Actor struct {
	ID       uuid.UUID
	Username string
}

// Status is the tri-state outcome of a saga run. Callers must not infer full
// success from transport status alone.
type Status string

const (
	StatusSucceeded             Status = "succeeded"
	StatusSucceededWithWarnings Status = "succeeded_with_warnings"
	StatusFailed                Status = "failed"
)

// Outcome is the result of a best-effort step. OK reports whether the step
// converged; a false OK carries the warning and never fails the saga.
type Outcome struct {
	OK      bool
	Warning string
}

// Done is a clean best-effort outcome.
func Done() Outcome {
	return Outcome{OK: true}
}

// Warnf records a best-effort failure as a warning.
func Warnf(format string, args ...any) Outcome {
	return Outcome{Warning: fmt.Sprintf(format, args...)}
}

// Result is the structured outcome of one saga run.
type Result struct {
	Saga     string
	RunID    uuid.UUID
	Status   Status
	Warnings []string
	Details  map[string]any
	Err      error
}

// detail sets one key in the run's detail payload.
func (r *Result) detail(key string, value any) {
	if r.Details == nil {
		r.Details = make(map[string]any)
	}
	r.Details[key] = value
}

// warn appends a warning and downgrades a clean status.
func (r *Result) warn(w string) {
	if w == "" {
		return
	}
	r.Warnings = append(r.Warnings, w)
	if r.Status == StatusSucceeded {
		r.Status = StatusSucceededWithWarnings
	}
}
