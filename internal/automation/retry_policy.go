package automation

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides, given a classified failure, whether to retry and with
// what delay.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryPolicy builds a policy with sane defaults.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		maxRetries: 3,
		baseDelay:  30 * time.Second,
		maxDelay:   10 * time.Minute,
	}
}

// NewRetryPolicyWith builds a policy from configured values.
func NewRetryPolicyWith(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// MaxRetries returns the retry ceiling.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry decides whether a failure with the given classification and
// prior retry count is retried. UNKNOWN is retried once, then treated as
// PERMANENT.
func (p *RetryPolicy) ShouldRetry(errType ErrorType, retryCount int) bool {
	if retryCount >= p.maxRetries {
		return false
	}
	switch errType {
	case ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeProxyFailure:
		return true
	case ErrorTypeUnknown:
		return retryCount < 1
	default:
		return false
	}
}

// Backoff returns the wait before the next attempt: exponential in the retry
// count, capped at maxDelay, with up to baseDelay of jitter.
func (p *RetryPolicy) Backoff(retryCount int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(retryCount))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay) + p.randomJitter(p.baseDelay)
}

func (p *RetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
