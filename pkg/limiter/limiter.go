// Package limiter enforces per-client request budgets: a one-minute rolling
// window and a UTC calendar-day quota. Windows reset lazily on the next
// observed request; there is no background timer.
package limiter

import (
	"sync"
	"time"
)

// Rule names which ceiling rejected a request.
type Rule string

const (
	RulePerMinute  Rule = "rate_limited"
	RuleDailyQuota Rule = "daily_quota_exceeded"
)

type Config struct {
	PerMinute int
	PerDay    int
}

// Result reports the admission decision for one operation.
type Result struct {
	Allowed bool
	Rule    Rule // set when rejected
	Limit   int  // the ceiling of the rule that tripped
}

type clientState struct {
	mu          sync.Mutex
	windowStart time.Time
	minuteCount int
	day         string
	dayCount    int
}

// Limiter tracks per-client counters. Safe for concurrent use: the map is
// guarded by its own mutex and each client's check-and-increment sequence is
// serialized under that client's lock, so unrelated clients never contend.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*clientState

	now func() time.Time // injectable for tests
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		now:     time.Now,
	}
}

// Allow admits an operation of the given cost for a client, incrementing both
// counters together, or rejects it naming the rule that would be exceeded.
func (l *Limiter) Allow(clientKey string, cost int) Result {
	if cost <= 0 {
		cost = 1
	}
	st := l.state(clientKey)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.now().UTC()
	today := now.Format("2006-01-02")

	if now.Sub(st.windowStart) >= time.Minute {
		st.windowStart = now
		st.minuteCount = 0
	}
	if st.day != today {
		st.day = today
		st.dayCount = 0
	}

	if l.cfg.PerMinute > 0 && st.minuteCount+cost > l.cfg.PerMinute {
		return Result{Rule: RulePerMinute, Limit: l.cfg.PerMinute}
	}
	if l.cfg.PerDay > 0 && st.dayCount+cost > l.cfg.PerDay {
		return Result{Rule: RuleDailyQuota, Limit: l.cfg.PerDay}
	}

	st.minuteCount += cost
	st.dayCount += cost
	return Result{Allowed: true}
}

func (l *Limiter) state(key string) *clientState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.clients[key]
	if !ok {
		st = &clientState{}
		l.clients[key] = st
	}
	return st
}
