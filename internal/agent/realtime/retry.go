package realtime

import (
	"time"
)

// RetryPolicy decides how long to wait before the next reconnection attempt.
// NextDelay is consulted after each failed or dropped connection; Reset is
// called after a connection is successfully established.
type RetryPolicy interface {
	// NextDelay returns the wait before attempt n (1-based). ok=false means
	// give up and stay disconnected until a manual reconnect.
	NextDelay(attempt int) (delay time.Duration, ok bool)
	Reset()
}

// ExponentialBackoff doubles the delay per attempt, capped at Max. With
// MaxRetries zero it retries forever.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

func (b *ExponentialBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if b.MaxRetries > 0 && attempt > b.MaxRetries {
		return 0, false
	}
	d := b.Initial
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d, true
}

func (b *ExponentialBackoff) Reset() {}

// NoRetry never reconnects on its own; the connection comes back only through
// an explicit Reconnect call.
type NoRetry struct{}

func (NoRetry) NextDelay(int) (time.Duration, bool) { return 0, false }
func (NoRetry) Reset()                              {}
