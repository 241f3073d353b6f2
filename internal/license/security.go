package license

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AttemptLimiter bounds activation attempts per source (client address
// or license key) with a token bucket per entry. Idle entries are
// dropped by a background sweep.
type AttemptLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	stopChan chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAttemptLimiter creates a limiter allowing rps sustained attempts
// with the given burst per source.
func NewAttemptLimiter(rps float64, burst int) *AttemptLimiter {
	l := &AttemptLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		stopChan: make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether the source may attempt an activation now
func (l *AttemptLimiter) Allow(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[source]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[source] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// Stop terminates the cleanup goroutine
func (l *AttemptLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func (l *AttemptLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-1 * time.Hour)
			l.mu.Lock()
			for source, entry := range l.limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(l.limiters, source)
				}
			}
			l.mu.Unlock()
		case <-l.stopChan:
			return
		}
	}
}
