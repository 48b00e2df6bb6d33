package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Eviction cadence for the background sweep. A key whose arrival time is
// long past cannot limit anything, so idle entries are dropped to bound
// memory against churning client IPs.
const (
	sweepEvery = 30 * time.Second
	idleAfter  = 5 * time.Minute
)

// MemoryLimiter enforces per-key request rates using the generic cell rate
// algorithm (GCRA). Each key carries a single theoretical-arrival-time
// timestamp instead of a token counter, which keeps the hot path to one
// comparison and makes stale-entry eviction a timestamp check.
type MemoryLimiter struct {
	interval  time.Duration // spacing between conforming requests
	tolerance time.Duration // how far ahead of schedule a burst may run

	mu   sync.Mutex
	tats map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a limiter allowing a sustained rate of requests
// per second per key, with bursts of up to burst requests. Call Close to
// stop the eviction goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	interval := time.Duration(float64(time.Second) / rate)
	m := &MemoryLimiter{
		interval:  interval,
		tolerance: time.Duration(burst-1) * interval,
		tats:      make(map[string]time.Time),
		done:      make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow reports whether a request for key conforms to the configured rate.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	tat, ok := m.tats[key]
	if !ok || tat.Before(now) {
		tat = now
	}
	// A request conforms when its theoretical arrival time has not run
	// further ahead of the clock than the burst tolerance.
	if tat.Sub(now) > m.tolerance {
		return false, nil
	}
	m.tats[key] = tat.Add(m.interval)
	return true, nil
}

// Close stops the eviction goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idleAfter)
			m.mu.Lock()
			for key, tat := range m.tats {
				if tat.Before(cutoff) {
					delete(m.tats, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
