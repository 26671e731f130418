package ratelimiter

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles byte throughput using the token bucket algorithm.
//
// One token is one byte. Downloads consume tokens as they write, so the
// sustained rate is bytesPerSecond while short bursts up to burst bytes pass
// without waiting.
//
// A zero rate means unlimited: every call returns immediately and the
// underlying limiter is never consulted.
//
// Thread safety:
// WaitN, AllowN, Tokens and Writer are safe for concurrent use; several
// downloads sharing one RateLimiter share one bandwidth budget. SetLimit
// must only be called while no transfer is in progress.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter for the given byte rate and burst capacity.
//
// Special cases:
//   - bytesPerSecond = 0: unlimited
//   - burst = 0: burst defaults to one second worth of bytes
//
// Example:
//
//	// 8 MiB/s sustained, 16 MiB burst
//	limiter := New(8<<20, 16<<20)
func New(bytesPerSecond, burst uint) *RateLimiter {
	if bytesPerSecond == 0 {
		return &RateLimiter{}
	}
	if burst == 0 {
		burst = bytesPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter lets everything through.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter == nil
}

// WaitN blocks until n bytes may pass or the context is cancelled.
//
// Requests larger than the burst are split so that a single large write
// does not fail with rate.Limiter's "exceeds burst" error.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r.Unlimited() {
		return ctx.Err()
	}

	burst := r.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := r.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// AllowN reports whether n bytes may pass right now, consuming the tokens if so.
func (r *RateLimiter) AllowN(n uint) bool {
	if r.Unlimited() {
		return true
	}
	return r.limiter.AllowN(time.Now(), int(n))
}

// SetLimit updates the sustained byte rate. Zero switches to unlimited.
func (r *RateLimiter) SetLimit(bytesPerSecond uint) {
	if bytesPerSecond == 0 {
		r.limiter = nil
		return
	}
	if r.limiter == nil {
		r.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
		return
	}
	r.limiter.SetLimit(rate.Limit(bytesPerSecond))
}

// Tokens returns the number of bytes currently available without waiting.
// Unlimited limiters report -1.
func (r *RateLimiter) Tokens() float64 {
	if r.Unlimited() {
		return -1
	}
	return r.limiter.Tokens()
}

// Writer wraps w so that every Write waits for enough tokens first.
//
// The context is checked on each write, which makes the wrapped writer a
// cancellation point for io.Copy loops.
func (r *RateLimiter) Writer(ctx context.Context, w io.Writer) io.Writer {
	return &limitedWriter{ctx: ctx, w: w, limiter: r}
}

type limitedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *RateLimiter
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if err := lw.limiter.WaitN(lw.ctx, len(p)); err != nil {
		return 0, err
	}
	return lw.w.Write(p)
}
