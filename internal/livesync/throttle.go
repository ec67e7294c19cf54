package livesync

import (
	"time"

	"golang.org/x/time/rate"
)

// throttle admits at most one pointer sample per interval. It is a bucket of
// depth one with no queue: rejected samples are gone and do not move the
// window.
type throttle struct {
	limiter *rate.Limiter
	now     func() time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

func (t *throttle) Allow() bool {
	return t.limiter.AllowN(t.now(), 1)
}
