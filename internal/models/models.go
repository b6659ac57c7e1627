package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of membership roles within a tenant.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleMember Role = "MEMBER"
	RoleViewer Role = "VIEWER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleMember, RoleViewer:
		return true
	}
	return false
}

// Tenant is a customer organization with its own data partition.
// KeycloakGroupID and KeycloakClientID are globally unique when set;
// NULL is permitted, duplicates are not.
type Tenant struct {
	ID               uuid.UUID
	SchemaName       string
	Name             string
	OnTrial          bool
	PaidUntil        *time.Time
	OrganizationID   *uuid.UUID
	KeycloakGroupID  *string
	KeycloakClientID *string
	CreatedAt        time.Time
}

// Organization is the descriptive record one-to-one with a Tenant.
type Organization struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
}

// User is the local mirror of an identity-provider subject.
type User struct {
	ID         uuid.UUID
	Username   string
	Email      string
	KeycloakID string
	Active     bool
	CreatedAt  time.Time
}

// Membership links a user to a tenant with a role. Unique per (user, tenant).
type Membership struct {
	UserID    uuid.UUID
	TenantID  uuid.UUID
	Role      Role
	CreatedAt time.Time
}

// RoleAssignment is the role-lookup projection row kept alongside Membership.
type RoleAssignment struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}

// EmailConfiguration holds per-tenant outbound mail settings. Deleted with
// the tenant.
type EmailConfiguration struct {
	TenantID    uuid.UUID
	Host        string
	Port        int
	Username    string
	FromAddress string
}

// AuditStatus is the lifecycle status of a recorded saga run.
type AuditStatus string

const (
	AuditStarted   AuditStatus = "STARTED"
	AuditCompleted AuditStatus = "COMPLETED"
	AuditFailed    AuditStatus = "FAILED"
)

// SystemAuditRecord is the durable catalog-level record of a saga run.
// SchemaName is denormalized on purpose: the tenant may no longer exist
// when this record is read.
type SystemAuditRecord struct {
	ID         int64
	RunID      uuid.UUID
	Operation  string
	SchemaName string
	Status     AuditStatus
	Detail     json.RawMessage
	CreatedAt  time.Time
}

// OrchestrationLogRecord is the partition-local analogue of the audit
// record. It is lost when the partition is dropped.
type OrchestrationLogRecord struct {
	ID        int64
	RunID     uuid.UUID
	Saga      string
	Status    AuditStatus
	Detail    json.RawMessage
	CreatedAt time.Time
}

// DashboardMetrics is the per-tenant aggregate written by the metrics saga.
type DashboardMetrics struct {
	TenantID       uuid.UUID
	SchemaName     string
	NewTodos       int
	CompletedTodos int
	DeletedTodos   int
	TotalTodos     int
	TotalUsers     int
	Owners         int
	Members        int
	Viewers        int
	UpdatedAt      time.Time
}

// Recurrence controls whether a completed todo spawns a follow-up instance.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "NONE"
	RecurrenceDaily   Recurrence = "DAILY"
	RecurrenceWeekly  Recurrence = "WEEKLY"
	RecurrenceMonthly Recurrence = "MONTHLY"
)

// NextDue returns the due date of the next instance given the previous one.
// A monthly recurrence advances by 30 days.
func (r Recurrence) NextDue(from time.Time) time.Time {
	switch r {
	case RecurrenceDaily:
		return from.AddDate(0, 0, 1)
	case RecurrenceWeekly:
		return from.AddDate(0, 0, 7)
	case RecurrenceMonthly:
		return from.AddDate(0, 0, 30)
	}
	return from
}

// Todo carries only the fields the rollover saga needs. The full CRUD
// surface lives outside the orchestration core.
type Todo struct {
	ID           uuid.UUID
	Title        string
	Description  string
	Completed    bool
	Deleted      bool
	DueDate      *time.Time
	Recurrence   Recurrence
	ParentID     *uuid.UUID
	CreatedByID  uuid.UUID
	AssignedToID *uuid.UUID
	CreatedAt    time.Time
}
