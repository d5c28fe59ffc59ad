package retryhttp

import (
	"math"
	"time"
)

// Defaults applied by Policy.withDefaults for zero-valued fields.
const (
	DefaultMaxAttempts    = 4
	DefaultBackoffFactor  = 0.9
	DefaultMaxBackoff     = 120 * time.Second
	DefaultAttemptTimeout = 5 * time.Minute
)

// DefaultRetryStatuses are the response status codes that trigger a retry
// when no explicit set is configured.
var DefaultRetryStatuses = []int{
	408, // Request Timeout
	425, // Too Early
	429, // Too Many Requests
	500, // Internal Server Error
	502, // Bad Gateway
	503, // Service Unavailable
	504, // Gateway Timeout
}

// Policy describes how many times a request may be attempted and how long to
// wait between attempts. The zero value is usable; zero fields fall back to
// the package defaults.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BackoffFactor scales the exponential delay, in seconds.
	BackoffFactor float64

	// MaxBackoff caps the delay between any two attempts.
	MaxBackoff time.Duration

	// AttemptTimeout bounds each attempt independently. It is not a
	// cumulative budget across retries.
	AttemptTimeout time.Duration

	// RetryStatuses are the response status codes considered transient.
	RetryStatuses []int
}

// withDefaults returns a copy of the policy with zero fields replaced by the
// package defaults.
func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = DefaultBackoffFactor
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultAttemptTimeout
	}
	if p.RetryStatuses == nil {
		p.RetryStatuses = DefaultRetryStatuses
	}
	return p
}

// Delay returns how long to wait before issuing the given attempt number.
// The first and second attempts are immediate; from the third attempt on the
// delay grows exponentially as BackoffFactor * 2^(attempt-2) seconds, capped
// at MaxBackoff.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()

	if attempt <= 2 {
		return 0
	}

	// Clamp before converting: deep attempt numbers overflow the int64
	// duration and would wrap negative.
	seconds := p.BackoffFactor * math.Pow(2, float64(attempt-2))
	if seconds >= p.MaxBackoff.Seconds() {
		return p.MaxBackoff
	}
	return time.Duration(seconds * float64(time.Second))
}

// RetryableStatus reports whether a response status code is in the
// configured retryable set.
func (p Policy) RetryableStatus(code int) bool {
	p = p.withDefaults()

	for _, s := range p.RetryStatuses {
		if code == s {
			return true
		}
	}
	return false
}

// schedule adapts a Policy to the backoff.BackOff interface so the retry
// driver sleeps exactly as Delay prescribes. Not safe for concurrent use;
// each RoundTrip builds its own schedule.
type schedule struct {
	policy Policy
	next   int
}

// NextBackOff returns the delay before the next attempt.
func (s *schedule) NextBackOff() time.Duration {
	d := s.policy.Delay(s.next)
	if s.next < math.MaxInt {
		s.next++
	}
	return d
}

// Reset rewinds the schedule to the delay preceding the second attempt.
func (s *schedule) Reset() {
	s.next = 2
}
