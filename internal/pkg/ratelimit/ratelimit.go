package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Named policies consulted before sensitive endpoints execute.
const (
	PolicyAPI     = "api"
	PolicyAuth    = "auth"
	PolicyPayment = "payment"
	PolicyStrict  = "strict"
	PolicyPublic  = "public"
)

// Policy defines a counting window and its request threshold.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

var policies = map[string]Policy{
	PolicyAPI:     {Name: PolicyAPI, Limit: 100, Window: time.Minute},
	PolicyAuth:    {Name: PolicyAuth, Limit: 10, Window: time.Minute},
	PolicyPayment: {Name: PolicyPayment, Limit: 20, Window: time.Minute},
	PolicyStrict:  {Name: PolicyStrict, Limit: 5, Window: time.Minute},
	PolicyPublic:  {Name: PolicyPublic, Limit: 300, Window: time.Minute},
}

// GetPolicy returns the named policy, falling back to the api policy.
func GetPolicy(name string) Policy {
	if p, ok := policies[name]; ok {
		return p
	}
	return policies[PolicyAPI]
}

// Result describes the outcome of a single Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

type entry struct {
	count int
	reset time.Time
}

const sweepInterval = 5 * time.Minute

// Limiter is a process-local counting-window limiter keyed by
// policy+identifier. Expired entries are swept on a fixed timer; the
// whole state is rebuilt empty on process restart.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	done    chan struct{}
	closed  sync.Once
}

// New creates a Limiter and starts its background sweeper.
func New() *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// NewWithClock creates a Limiter with an injected clock and no sweeper;
// used by tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		now:     now,
		done:    make(chan struct{}),
	}
}

// Allow counts a request for identifier under the named policy. Once the
// window end has passed the counter restarts from zero.
func (l *Limiter) Allow(policyName, identifier string) (Result, error) {
	if identifier == "" {
		identifier = "anonymous"
	}
	p := GetPolicy(policyName)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.entries == nil {
		return Result{}, fmt.Errorf("ratelimit: limiter is not initialized")
	}

	now := l.now()
	key := p.Name + ":" + identifier
	e, ok := l.entries[key]
	if !ok || !now.Before(e.reset) {
		e = &entry{count: 0, reset: now.Add(p.Window)}
		l.entries[key] = e
	}

	e.count++
	remaining := p.Limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   e.count <= p.Limit,
		Limit:     p.Limit,
		Remaining: remaining,
		Reset:     e.reset,
	}, nil
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.closed.Do(func() {
		close(l.done)
	})
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, e := range l.entries {
		if !now.Before(e.reset) {
			delete(l.entries, key)
		}
	}
}
