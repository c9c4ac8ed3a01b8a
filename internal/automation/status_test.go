package automation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransition_LegalEdges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to RunStatus
	}{
		{RunStatusScheduled, RunStatusRunning},
		{RunStatusScheduled, RunStatusCancelled},
		{RunStatusRunning, RunStatusCompleted},
		{RunStatusRunning, RunStatusProcessed},
		{RunStatusRunning, RunStatusRetrying},
		{RunStatusRunning, RunStatusFailed},
		{RunStatusRunning, RunStatusCancelled},
		{RunStatusRetrying, RunStatusScheduled},
	}
	for _, tc := range cases {
		run := Run{Status: tc.from}
		require.NoError(t, run.Transition(tc.to), "%s -> %s", tc.from, tc.to)
		require.Equal(t, tc.to, run.Status)
	}
}

func TestTransition_TerminalStatesNeverTransition(t *testing.T) {
	t.Parallel()

	terminals := []RunStatus{
		RunStatusCompleted,
		RunStatusProcessed,
		RunStatusFailed,
		RunStatusCancelled,
	}
	all := []RunStatus{
		RunStatusScheduled,
		RunStatusRunning,
		RunStatusRetrying,
		RunStatusCompleted,
		RunStatusProcessed,
		RunStatusFailed,
		RunStatusCancelled,
	}
	for _, from := range terminals {
		require.True(t, from.IsTerminal())
		for _, to := range all {
			run := Run{Status: from}
			err := run.Transition(to)
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			require.Equal(t, from, run.Status)
		}
	}
}

func TestTransition_RejectsIllegalNonTerminalEdges(t *testing.T) {
	t.Parallel()

	run := Run{Status: RunStatusScheduled}
	require.ErrorIs(t, run.Transition(RunStatusCompleted), ErrInvalidTransition)
	require.ErrorIs(t, run.Transition(RunStatusFailed), ErrInvalidTransition)

	run = Run{Status: RunStatusRetrying}
	require.ErrorIs(t, run.Transition(RunStatusRunning), ErrInvalidTransition)
	require.ErrorIs(t, run.Transition(RunStatusCancelled), ErrInvalidTransition)
}
