package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Classification(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy()

	require.True(t, p.ShouldRetry(ErrorTypeTransient, 0))
	require.True(t, p.ShouldRetry(ErrorTypeTimeout, 2))
	require.True(t, p.ShouldRetry(ErrorTypeProxyFailure, 1))
	require.False(t, p.ShouldRetry(ErrorTypePermanent, 0))
	require.False(t, p.ShouldRetry(ErrorTypeSessionInvalid, 0))
}

func TestRetryPolicy_UnknownRetriesOnce(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy()

	require.True(t, p.ShouldRetry(ErrorTypeUnknown, 0))
	require.False(t, p.ShouldRetry(ErrorTypeUnknown, 1))
	require.False(t, p.ShouldRetry(ErrorTypeUnknown, 2))
}

func TestRetryPolicy_CeilingForcesFailure(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicyWith(3, time.Second, time.Minute)

	require.True(t, p.ShouldRetry(ErrorTypeTransient, 2))
	require.False(t, p.ShouldRetry(ErrorTypeTransient, 3))
	require.False(t, p.ShouldRetry(ErrorTypeTimeout, 4))
}

func TestRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	max := time.Second
	p := NewRetryPolicyWith(5, base, max)

	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		exp := time.Duration(float64(base) * float64(int(1)<<attempt))
		if exp > max {
			exp = max
		}
		require.GreaterOrEqual(t, d, exp, "attempt %d", attempt)
		require.LessOrEqual(t, d, exp+base, "attempt %d", attempt)
	}
}
