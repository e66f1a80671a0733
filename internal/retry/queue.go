package retry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/quickdigest/collector/internal/metrics"
)

// CallQueue bounds the concurrency and rate of calls against one remote
// service. A server-directed rate limit pauses the whole queue: no new call
// is dispatched until the pause elapses, while in-flight calls drain
// naturally.
type CallQueue struct {
	name    string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *zap.Logger

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewCallQueue builds a queue allowing at most concurrency in-flight calls
// and rateCount dispatches per rateWindow.
func NewCallQueue(name string, concurrency, rateCount int, rateWindow time.Duration, log *zap.Logger) *CallQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if rateCount <= 0 {
		rateCount = 1
	}
	if rateWindow <= 0 {
		rateWindow = time.Second
	}
	return &CallQueue{
		name:    name,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		limiter: rate.NewLimiter(rate.Every(rateWindow/time.Duration(rateCount)), rateCount),
		log:     log,
	}
}

// Pause holds back dispatch on the whole queue for d. A longer pause already
// in effect is never shortened.
func (q *CallQueue) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)
	q.mu.Lock()
	if until.After(q.pausedUntil) {
		q.pausedUntil = until
	}
	q.mu.Unlock()

	metrics.ObserveRateLimitPause(d)
	q.log.Info("call queue paused for rate limit",
		zap.String("queue", q.name),
		zap.Duration("delay", d),
	)
}

func (q *CallQueue) waitUnpaused(ctx context.Context) error {
	for {
		q.mu.Lock()
		until := q.pausedUntil
		q.mu.Unlock()

		wait := time.Until(until)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// call dispatches fn once, honoring the concurrency bound, the rate window
// and any active pause.
func (q *CallQueue) call(ctx context.Context, fn func(context.Context) error) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)

	if err := q.waitUnpaused(ctx); err != nil {
		return err
	}
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}
