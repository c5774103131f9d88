package swap

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stablezap/stablezap/pkg/txerr"
)

// Limiter caps quote requests per minute for the whole process
type Limiter struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	now     func() time.Time
}

// NewLimiter allows perMinute requests per minute, all of them in a burst if
// needed. The bucket refills while it drains, so a sliding 60 second window can
// admit up to 2*perMinute requests right after an idle minute; the sustained
// rate stays at perMinute.
func NewLimiter(perMinute int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		now:     time.Now,
	}
}

// Acquire takes one slot or returns RateLimitedError with the wait before the next slot
func (l *Limiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return &txerr.RateLimitedError{RetryAfter: time.Minute}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return &txerr.RateLimitedError{RetryAfter: delay}
	}
	return nil
}
