// Package ratelimit caps outbound provider calls with a non-blocking token bucket.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/geo-analyzer/internal/apperr"
)

const (
	defaultCapacity        = 60
	defaultRefillPerMinute = 60
)

// Bucket is a requests-per-minute token bucket. Consume never sleeps: an
// empty bucket fails fast with apperr.ErrRateLimited and the caller's retry
// loop decides when to try again.
type Bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	capacity int
	perMin   float64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a full bucket holding capacity tokens that refills at
// refillPerMinute tokens per minute.
func New(capacity int, refillPerMinute float64) *Bucket {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if refillPerMinute <= 0 {
		refillPerMinute = defaultRefillPerMinute
	}
	return &Bucket{
		limiter:  rate.NewLimiter(rate.Limit(refillPerMinute/60.0), capacity),
		capacity: capacity,
		perMin:   refillPerMinute,
		nowFunc:  time.Now,
	}
}

// WithClock replaces the bucket's time source.
func (b *Bucket) WithClock(now func() time.Time) *Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFunc = now
	return b
}

// Consume takes n tokens or returns apperr.ErrRateLimited if fewer than n
// are available after the lazy refill.
func (b *Bucket) Consume(n int) error {
	if n <= 0 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.limiter.AllowN(b.nowFunc(), n) {
		return eris.Wrapf(apperr.ErrRateLimited, "ratelimit: need %d token(s)", n)
	}
	return nil
}

// Tokens returns the number of tokens currently available, in [0, Capacity].
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	tokens := b.limiter.TokensAt(b.nowFunc())
	switch {
	case tokens < 0:
		return 0
	case tokens > float64(b.capacity):
		return float64(b.capacity)
	}
	return tokens
}

// Capacity returns the maximum number of tokens the bucket holds.
func (b *Bucket) Capacity() int {
	return b.capacity
}

// RefillPerMinute returns the refill rate.
func (b *Bucket) RefillPerMinute() float64 {
	return b.perMin
}
