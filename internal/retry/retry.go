package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Options tunes Do. Zero values fall back to the defaults below.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 250 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
	return o
}

// Do runs fn through q with bounded retries. Generic failures back off with
// jitter between attempts; a *RateLimitError pauses the whole queue for the
// server-specified delay before the next attempt; an error marked Permanent
// aborts immediately. When all attempts fail Do returns an *ExhaustedError
// wrapping the last error. A nil q dispatches fn directly, without
// concurrency or rate gating.
func Do[T any](ctx context.Context, q *CallQueue, fn func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	o := opts.withDefaults()

	var last error
	for attempt := 0; attempt < o.MaxAttempts; attempt++ {
		var v T
		run := func(ctx context.Context) error {
			var err error
			v, err = fn(ctx)
			return err
		}

		var err error
		if q != nil {
			err = q.call(ctx, run)
		} else {
			err = run(ctx)
		}
		if err == nil {
			return v, nil
		}
		last = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if IsPermanent(err) {
			return zero, err
		}

		var rl *RateLimitError
		if errors.As(err, &rl) {
			// Server told us when to come back; the pause gates the whole
			// queue, so the next attempt (and every other caller) waits.
			if q != nil {
				q.Pause(rl.RetryAfter)
			} else if werr := sleep(ctx, rl.RetryAfter); werr != nil {
				return zero, werr
			}
			continue
		}

		if attempt < o.MaxAttempts-1 {
			if werr := sleep(ctx, backoff(o, attempt)); werr != nil {
				return zero, werr
			}
		}
	}

	return zero, &ExhaustedError{Attempts: o.MaxAttempts, Err: last}
}

func backoff(o Options, attempt int) time.Duration {
	delay := float64(o.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(o.MaxDelay) {
		delay = float64(o.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
