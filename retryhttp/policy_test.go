package retryhttp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyDelay(t *testing.T) {
	policy := Policy{BackoffFactor: 0.9}

	assert.Equal(t, time.Duration(0), policy.Delay(1))
	assert.Equal(t, time.Duration(0), policy.Delay(2))
	assert.Equal(t, 1800*time.Millisecond, policy.Delay(3))
	assert.Equal(t, 3600*time.Millisecond, policy.Delay(4))
}

func TestPolicyDelayCappedAtMaxBackoff(t *testing.T) {
	policy := Policy{BackoffFactor: 0.9}

	// 0.9 * 2^8 = 230.4s exceeds the 120s default ceiling.
	assert.Equal(t, DefaultMaxBackoff, policy.Delay(10))

	for attempt := 1; attempt <= 100; attempt++ {
		assert.LessOrEqual(t, policy.Delay(attempt), DefaultMaxBackoff)
	}
}

func TestPolicyDelayDeepAttemptsStayAtCeiling(t *testing.T) {
	policy := Policy{BackoffFactor: 0.9}

	// Deep attempt numbers would overflow a raw duration conversion and
	// wrap negative; the clamp must hold instead.
	for _, attempt := range []int{40, 64, 128, 1 << 20} {
		assert.Equal(t, DefaultMaxBackoff, policy.Delay(attempt))
	}
}

func TestPolicyDelayCustomCeiling(t *testing.T) {
	policy := Policy{BackoffFactor: 1, MaxBackoff: 3 * time.Second}

	assert.Equal(t, 2*time.Second, policy.Delay(3))
	assert.Equal(t, 3*time.Second, policy.Delay(4))
	assert.Equal(t, 3*time.Second, policy.Delay(50))
}

func TestPolicyRetryableStatus(t *testing.T) {
	policy := Policy{}

	for _, code := range []int{408, 425, 429, 500, 502, 503, 504} {
		assert.True(t, policy.RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 501} {
		assert.False(t, policy.RetryableStatus(code), "status %d", code)
	}
}

func TestPolicyRetryableStatusCustomSet(t *testing.T) {
	policy := Policy{RetryStatuses: []int{503}}

	assert.True(t, policy.RetryableStatus(503))
	assert.False(t, policy.RetryableStatus(500))
}

func TestScheduleFollowsPolicyDelays(t *testing.T) {
	sched := &schedule{policy: Policy{BackoffFactor: 0.9}}
	sched.Reset()

	// Delays preceding attempts 2, 3, 4.
	assert.Equal(t, time.Duration(0), sched.NextBackOff())
	assert.Equal(t, 1800*time.Millisecond, sched.NextBackOff())
	assert.Equal(t, 3600*time.Millisecond, sched.NextBackOff())

	sched.Reset()
	assert.Equal(t, time.Duration(0), sched.NextBackOff())
}
