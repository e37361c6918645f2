package durable

import (
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{from: StatusPending, to: StatusRunning, allowed: true},
		{from: StatusPending, to: StatusFailed, allowed: true},
		{from: StatusPending, to: StatusCompleted, allowed: false},
		{from: StatusRunning, to: StatusRunning, allowed: true},
		{from: StatusRunning, to: StatusCompleted, allowed: true},
		{from: StatusRunning, to: StatusFailed, allowed: true},
		{from: StatusCompleted, to: StatusRunning, allowed: false},
		{from: StatusCompleted, to: StatusFailed, allowed: false},
		{from: StatusFailed, to: StatusRunning, allowed: false},
		{from: StatusFailed, to: StatusCompleted, allowed: false},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+" to "+tc.to.String(), func(t *testing.T) {
			err := validateStatusTransition(tc.from, tc.to)
			if tc.allowed {
				require.Nil(t, err)
			} else {
				require.True(t, errors.Is(err, ErrInvalidTransition))
			}
		})
	}
}

func TestStatusFinished(t *testing.T) {
	require.False(t, StatusPending.Finished())
	require.False(t, StatusRunning.Finished())
	require.True(t, StatusCompleted.Finished())
	require.True(t, StatusFailed.Finished())
}

func TestStatusValid(t *testing.T) {
	require.True(t, StatusRunning.Valid())
	require.False(t, Status(0).Valid())
	require.False(t, Status(99).Valid())
}
