package sandbox

import (
	"sync"
	"time"
)

// orderLimiter enforces the per-agent order throttle: at most limit orders
// within any rolling window. Requests beyond the limit are rejected and the
// caller maps them to HOLD.
type orderLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps map[string][]time.Time
}

func newOrderLimiter(limit int, window time.Duration) *orderLimiter {
	return &orderLimiter{
		limit:  limit,
		window: window,
		stamps: make(map[string][]time.Time),
	}
}

// allow consumes one order slot for the agent if the rolling window has room.
func (l *orderLimiter) allow(agentID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.stamps[agentID][:0]
	for _, ts := range l.stamps[agentID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.stamps[agentID] = kept
		return false
	}
	l.stamps[agentID] = append(kept, now)
	return true
}

// reset drops the rolling window for one agent. Called on regeneration so a
// freshly deployed strategy starts with a clean budget.
func (l *orderLimiter) reset(agentID string) {
	l.mu.Lock()
	delete(l.stamps, agentID)
	l.mu.Unlock()
}
