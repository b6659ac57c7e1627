package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInvitationTransitions(t *testing.T) {
	tests := []struct {
		name     string
		from     InvitationStatus
		event    InvitationEvent
		expected InvitationStatus
		wantErr  bool
	}{
		{
			name:     "pending to accepted",
			from:     InvitationPending,
			event:    InvitationEventAccept,
			expected: InvitationAccepted,
		},
		{
			name:     "pending to expired",
			from:     InvitationPending,
			event:    InvitationEventExpire,
			expected: InvitationExpired,
		},
		{
			name:     "pending to cancelled",
			from:     InvitationPending,
			event:    InvitationEventCancel,
			expected: InvitationCancelled,
		},
		{
			name:    "accepted is terminal",
			from:    InvitationAccepted,
			event:   InvitationEventCancel,
			wantErr: true,
		},
		{
			name:    "expired is terminal",
			from:    InvitationExpired,
			event:   InvitationEventAccept,
			wantErr: true,
		},
		{
			name:    "cancelled is terminal",
			from:    InvitationCancelled,
			event:   InvitationEventExpire,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := tt.from.Transition(tt.event)
			if tt.wantErr {
				require.Error(t, err)
				require.Equal(t, tt.from, next, "failed transition must not move the status")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, next)
		})
	}
}

func TestInvitationApplySetsAcceptedAt(t *testing.T) {
	now := time.Now()
	inv := &Invitation{Status: InvitationPending}

	require.NoError(t, inv.Apply(InvitationEventAccept, now))
	require.Equal(t, InvitationAccepted, inv.Status)
	require.NotNil(t, inv.AcceptedAt)
	require.Equal(t, now, *inv.AcceptedAt)

	// terminal: a second event must fail and leave the record untouched
	require.Error(t, inv.Apply(InvitationEventCancel, now))
	require.Equal(t, InvitationAccepted, inv.Status)
}

func TestInvitationExpireIfDue(t *testing.T) {
	now := time.Now()

	inv := &Invitation{Status: InvitationPending, ExpiresAt: now.Add(time.Hour)}
	require.False(t, inv.ExpireIfDue(now))
	require.Equal(t, InvitationPending, inv.Status)

	inv.ExpiresAt = now.Add(-time.Minute)
	require.True(t, inv.ExpireIfDue(now))
	require.Equal(t, InvitationExpired, inv.Status)

	// already expired, no double flip
	require.False(t, inv.ExpireIfDue(now))
}

func TestRecurrenceNextDue(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.Equal(t, base.AddDate(0, 0, 1), RecurrenceDaily.NextDue(base))
	require.Equal(t, base.AddDate(0, 0, 7), RecurrenceWeekly.NextDue(base))
	require.Equal(t, base.AddDate(0, 0, 30), RecurrenceMonthly.NextDue(base))
	require.Equal(t, base, RecurrenceNone.NextDue(base))
}
