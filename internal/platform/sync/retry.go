package sync

import "time"

// RetryPolicy decides how long a failed item waits before the next attempt
type RetryPolicy interface {
	Delay(retryCount int) time.Duration
}

// FixedDelay waits the same time after every failure
type FixedDelay time.Duration

// Delay implements RetryPolicy
func (d FixedDelay) Delay(int) time.Duration {
	return time.Duration(d)
}

// ExponentialBackoff doubles the wait after every failure, up to Max
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements RetryPolicy
func (b ExponentialBackoff) Delay(retryCount int) time.Duration {
	if retryCount <= 1 {
		return b.Base
	}
	d := b.Base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	return d
}

// ready reports whether an item last attempted at lastRetryAt may be tried at now
func ready(p RetryPolicy, retryCount int, lastRetryAt *time.Time, now time.Time) bool {
	if lastRetryAt == nil {
		return true
	}
	return now.Sub(*lastRetryAt) >= p.Delay(retryCount)
}
