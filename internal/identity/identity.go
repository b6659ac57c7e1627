// Package identity is the adapter boundary to the external identity and
// access management service. Sagas treat it as a synchronized mirror: every
// call site decides whether a failure here is a warning or aborts the run.
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when the remote object does not exist.
// Deletes never return it: a missing remote object is success on delete.
var ErrNotFound = errors.New("identity: not found")

// ActionUpdatePassword is the required action that forces a password-set on
// next login. Invited users are created with it instead of a password.
const ActionUpdatePassword = "UPDATE_PASSWORD"

// User is the provider's representation of an account.
type User struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
	Enabled   bool
}

// Provider is the full operation surface the sagas need. Implementations
// must be safe for concurrent use by overlapping saga runs.
type Provider interface {
	// Users
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// CreateUser creates an enabled account with no usable password and the
	// given required actions, returning the provider user id. If the
	// username is already taken the existing id is returned.
	CreateUser(ctx context.Context, user User, requiredActions []string) (string, error)
	SetRequiredActions(ctx context.Context, userID string, actions []string) error
	// SendExecuteActionsEmail triggers the provider's out-of-band action
	// notification (e.g. "set your password"). Failure is non-fatal at every
	// call site.
	SendExecuteActionsEmail(ctx context.Context, userID string, actions []string, lifespan time.Duration) error
	EnableUser(ctx context.Context, userID string) error
	DisableUser(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, userID string) error
	RevokeSessions(ctx context.Context, userID string) error

	// Organizations
	CreateOrganization(ctx context.Context, name, alias, domain string) (string, error)
	DeleteOrganizationByName(ctx context.Context, name string) (bool, error)
	AddUserToOrganization(ctx context.Context, userID, orgName string) error
	RemoveUserFromOrganization(ctx context.Context, userID, orgName string) error

	// Groups
	CreateGroup(ctx context.Context, name string) (string, error)
	DeleteGroup(ctx context.Context, groupID string) (bool, error)
	AddUserToGroup(ctx context.Context, userID, groupID string) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID string) error

	// Clients and client roles
	CreateClient(ctx context.Context, clientID string, roles []string) (string, error)
	DeleteClient(ctx context.Context, id string) (bool, error)
	AssignClientRole(ctx context.Context, userID, clientID, role string) error
	RemoveClientRole(ctx context.Context, userID, clientID, role string) error
}
