// Package fetch implements polite outbound HTTP: a per-origin serialized
// queue with minimum spacing, a User-Agent-tagged client, and page text
// extraction.
package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quickdigest/collector/internal/metrics"
)

const defaultOriginInterval = 500 * time.Millisecond

// QueueSet owns one Queue per network origin. Queues are created lazily and
// retained for the process lifetime; a single ingestion pass touches a small,
// bounded set of origins. The set is plain owned state, not a package
// global, so separate runs never share throttling state.
type QueueSet struct {
	mu       sync.Mutex
	interval time.Duration
	queues   map[string]*Queue
}

// NewQueueSet builds a QueueSet with the given minimum same-origin spacing.
func NewQueueSet(interval time.Duration) *QueueSet {
	if interval <= 0 {
		interval = defaultOriginInterval
	}
	return &QueueSet{
		interval: interval,
		queues:   make(map[string]*Queue),
	}
}

// ForURL returns the queue for rawURL's origin, creating it on first use.
// Unparseable URLs share a single fallback queue.
func (s *QueueSet) ForURL(rawURL string) *Queue {
	origin := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		origin = strings.ToLower(u.Scheme + "://" + u.Host)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[origin]
	if !ok {
		q = &Queue{origin: origin, interval: s.interval}
		s.queues[origin] = q
	}
	return q
}

// Queue serializes tasks against one origin. A task starts no sooner than
// the configured interval after the previous task on the same queue
// completed. Tasks on different queues run fully in parallel, and one
// task's failure never affects another.
type Queue struct {
	mu       sync.Mutex
	origin   string
	interval time.Duration
	lastDone time.Time
}

// Do runs fn on the queue, returning its result. The wait for the queue's
// spacing honors ctx cancellation.
func Do[T any](ctx context.Context, q *Queue, fn func(context.Context) (T, error)) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.lastDone.IsZero() {
		if wait := q.interval - time.Since(q.lastDone); wait > 0 {
			metrics.ObserveOriginWait(q.origin, wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				var zero T
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	v, err := fn(ctx)
	q.lastDone = time.Now()
	return v, err
}
