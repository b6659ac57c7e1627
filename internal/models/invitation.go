package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when an invitation in a terminal state
// receives an event it does not allow.
var ErrInvalidTransition = errors.New("invalid invitation transition")

// InvitationStatus is a strict forward-only state machine:
// PENDING may move to ACCEPTED, EXPIRED or CANCELLED; the terminal states
// are immutable.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "PENDING"
	InvitationAccepted  InvitationStatus = "ACCEPTED"
	InvitationExpired   InvitationStatus = "EXPIRED"
	InvitationCancelled InvitationStatus = "CANCELLED"
)

// InvitationEvent drives a status transition.
type InvitationEvent string

const (
	InvitationEventAccept InvitationEvent = "accept"
	InvitationEventExpire InvitationEvent = "expire"
	InvitationEventCancel InvitationEvent = "cancel"
)

var invitationTransitions = map[InvitationStatus]map[InvitationEvent]InvitationStatus{
	InvitationPending: {
		InvitationEventAccept: InvitationAccepted,
		InvitationEventExpire: InvitationExpired,
		InvitationEventCancel: InvitationCancelled,
	},
}

// Transition returns the status reached by applying event to s, or an error
// when the transition is not allowed. Terminal states reject every event.
func (s InvitationStatus) Transition(event InvitationEvent) (InvitationStatus, error) {
	next, ok := invitationTransitions[s][event]
	if !ok {
		return s, fmt.Errorf("%w: status %s does not allow %s", ErrInvalidTransition, s, event)
	}
	return next, nil
}

// Invitation tracks an invite sent to an email address for a tenant.
type Invitation struct {
	Token        uuid.UUID
	Email        string
	TenantID     uuid.UUID
	Role         Role
	Status       InvitationStatus
	ExpiresAt    time.Time
	CreatedByID  uuid.UUID
	AcceptedByID *uuid.UUID
	AcceptedAt   *time.Time
	CreatedAt    time.Time
}

// Apply runs event through the transition table and mutates the invitation
// on success.
func (i *Invitation) Apply(event InvitationEvent, now time.Time) error {
	next, err := i.Status.Transition(event)
	if err != nil {
		return err
	}
	i.Status = next
	if next == InvitationAccepted {
		i.AcceptedAt = &now
	}
	return nil
}

// ExpireIfDue lazily flips PENDING to EXPIRED once the expiry timestamp has
// passed. Returns true when a flip happened.
func (i *Invitation) ExpireIfDue(now time.Time) bool {
	if i.Status != InvitationPending || now.Before(i.ExpiresAt) {
		return false
	}
	i.Status = InvitationExpired
	return true
}
