package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncident_TransitionTo(t *testing.T) {
	testCases := []struct {
		name      string
		from      IncidentStatus
		to        IncidentStatus
		shouldErr bool
	}{
		// Valid forward transitions
		{"Open to InProgress", IncidentStatusOpen, IncidentStatusInProgress, false},
		{"Open to Resolved", IncidentStatusOpen, IncidentStatusResolved, false},
		{"InProgress to Resolved", IncidentStatusInProgress, IncidentStatusResolved, false},

		// Backward transitions and no-ops are rejected
		{"Open to Open", IncidentStatusOpen, IncidentStatusOpen, true},
		{"InProgress to Open", IncidentStatusInProgress, IncidentStatusOpen, true},
		{"InProgress to InProgress", IncidentStatusInProgress, IncidentStatusInProgress, true},
		{"Resolved to Open", IncidentStatusResolved, IncidentStatusOpen, true},
		{"Resolved to InProgress", IncidentStatusResolved, IncidentStatusInProgress, true},
		{"Resolved to Resolved", IncidentStatusResolved, IncidentStatusResolved, true},
		{"Open to unknown status", IncidentStatusOpen, IncidentStatus("escalated"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Now()
			incident := &Incident{
				ID:     "incident-1",
				Status: tc.from,
			}

			err := incident.TransitionTo(tc.to, now)
			if tc.shouldErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.Equal(t, tc.from, incident.Status, "failed transition must leave status unchanged")

				ite, ok := AsInvalidTransition(err)
				require.True(t, ok)
				assert.Equal(t, tc.from, ite.From)
				assert.Equal(t, tc.to, ite.To)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.to, incident.Status)
				assert.Equal(t, now, incident.UpdatedAt)
			}
		})
	}
}

func TestIncident_CanTransitionTo(t *testing.T) {
	incident := &Incident{ID: "incident-1", Status: IncidentStatusOpen}

	assert.True(t, incident.CanTransitionTo(IncidentStatusInProgress))
	assert.True(t, incident.CanTransitionTo(IncidentStatusResolved))
	assert.False(t, incident.CanTransitionTo(IncidentStatusOpen))
	assert.False(t, incident.CanTransitionTo(IncidentStatus("bogus")))
}

func TestIncident_AllowedTransitions(t *testing.T) {
	testCases := []struct {
		status   IncidentStatus
		expected []IncidentStatus
	}{
		{IncidentStatusOpen, []IncidentStatus{IncidentStatusInProgress, IncidentStatusResolved}},
		{IncidentStatusInProgress, []IncidentStatus{IncidentStatusResolved}},
		{IncidentStatusResolved, []IncidentStatus{}},
	}

	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			incident := &Incident{Status: tc.status}
			assert.Equal(t, tc.expected, incident.AllowedTransitions())
		})
	}
}

func TestIncident_IsFinal(t *testing.T) {
	assert.False(t, (&Incident{Status: IncidentStatusOpen}).IsFinal())
	assert.False(t, (&Incident{Status: IncidentStatusInProgress}).IsFinal())
	assert.True(t, (&Incident{Status: IncidentStatusResolved}).IsFinal())
}
