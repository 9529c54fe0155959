package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Throttle paces remote calls. One Throttle may be shared by every caller
// in a process.
type Throttle interface {
	Wait(ctx context.Context) error
}

// FixedDelay enforces a minimum interval between consecutive calls.
type FixedDelay struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewFixedDelay returns a throttle spacing calls by interval.
func NewFixedDelay(interval time.Duration) *FixedDelay {
	return &FixedDelay{interval: interval, now: time.Now}
}

// Wait blocks until interval has passed since the previous call returned.
// Callers are served one at a time.
func (f *FixedDelay) Wait(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.last.IsZero() {
		if d := f.interval - f.now().Sub(f.last); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return eris.Wrap(ctx.Err(), "catalog: throttle wait")
			case <-t.C:
			}
		}
	}
	f.last = f.now()
	return nil
}

// TokenBucket paces calls with a token bucket.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket returns a throttle allowing perSec calls per second with
// the given burst.
func NewTokenBucket(perSec float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	return eris.Wrap(t.limiter.Wait(ctx), "catalog: throttle wait")
}

// NewThrottle builds the configured throttle kind: "fixed" or "token_bucket".
func NewThrottle(kind string, delay time.Duration, perSec float64, burst int) (Throttle, error) {
	switch kind {
	case "", "fixed":
		return NewFixedDelay(delay), nil
	case "token_bucket":
		if perSec <= 0 {
			return nil, eris.Errorf("catalog: token bucket rate must be > 0, got %v", perSec)
		}
		return NewTokenBucket(perSec, burst), nil
	default:
		return nil, eris.Errorf("catalog: unknown throttle %q", kind)
	}
}
