// Package ratelimit enforces per-actor, per-action request limits over fixed
// windows. Every check increments two independent counters — one keyed by user,
// one by client IP — and the more restrictive of the two gates the caller. The
// check-and-increment is atomic at the store, so concurrent requests can never
// both slip through a limit that should only have admitted one.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Actor scopes. Each scope keys an independent counter family.
const (
	ScopeUser = "user"
	ScopeIP   = "ip"
)

// LimitExceededError reports a rejected check. RetryAfter is the number of
// whole seconds until the rejecting counter's window rolls over, clamped to
// [1, window]; HTTP callers surface it as a Retry-After header on a 429.
type LimitExceededError struct {
	Action     string
	Scope      string
	Limit      int
	RetryAfter int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for action %q (%s scope, limit %d): retry after %ds",
		e.Action, e.Scope, e.Limit, e.RetryAfter)
}

// ScopeStatus is one scope's view of a counter in a Status result.
type ScopeStatus struct {
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// Status is the non-mutating view of an action's limit state for one actor.
type Status struct {
	Action        string      `json:"action"`
	Limit         int         `json:"limit"`
	WindowSeconds int         `json:"window_seconds"`
	User          ScopeStatus `json:"user"`
	IP            ScopeStatus `json:"ip"`
}

// Limiter checks per-action limits against a CounterStore.
type Limiter struct {
	store    CounterStore
	policies policyTable
	now      func() time.Time
}

// NewLimiter creates a Limiter over the given store. overrides replace
// individual entries of the default policy table; pass nil to keep defaults.
func NewLimiter(store CounterStore, overrides map[string]Policy) *Limiter {
	policies := DefaultPolicies()
	for action, p := range overrides {
		if p.Limit > 0 && p.Window > 0 {
			policies[action] = p
		}
	}
	return &Limiter{store: store, policies: policies, now: time.Now}
}

func counterKey(scope, actorID, action string) string {
	return scope + ":" + actorID + ":" + action
}

// Check records one request for the actor against the named action and returns
// a *LimitExceededError when either the user or the IP counter exceeds the
// action's limit. An empty userID skips the user counter (anonymous caller);
// an empty ip skips the IP counter.
//
// Both counters are incremented before either is compared, so a rejected
// request still counts against both scopes — retrying immediately does not
// reset the caller's standing.
func (l *Limiter) Check(ctx context.Context, action, userID, ip string) error {
	policy := l.policies.lookup(action)

	type result struct {
		scope   string
		counter Counter
	}
	results := make([]result, 0, 2)

	if userID != "" {
		c, err := l.store.Incr(ctx, counterKey(ScopeUser, userID, action), policy.Window)
		if err != nil {
			return err
		}
		results = append(results, result{ScopeUser, c})
	}
	if ip != "" {
		c, err := l.store.Incr(ctx, counterKey(ScopeIP, ip, action), policy.Window)
		if err != nil {
			return err
		}
		results = append(results, result{ScopeIP, c})
	}

	for _, r := range results {
		if r.counter.Count > int64(policy.Limit) {
			return &LimitExceededError{
				Action:     action,
				Scope:      r.scope,
				Limit:      policy.Limit,
				RetryAfter: l.retryAfter(policy, r.counter),
			}
		}
	}
	return nil
}

// retryAfter computes window − elapsed for the rejecting counter, clamped to
// [1, window] seconds.
func (l *Limiter) retryAfter(policy Policy, counter Counter) int {
	elapsed := l.now().Sub(counter.WindowStart)
	remaining := policy.Window - elapsed

	windowSeconds := int(policy.Window / time.Second)
	seconds := int((remaining + time.Second - 1) / time.Second) // round up
	if seconds < 1 {
		seconds = 1
	}
	if seconds > windowSeconds {
		seconds = windowSeconds
	}
	return seconds
}

// GetStatus reports the actor's current standing for an action without
// mutating any counter. Calling it repeatedly yields identical results.
func (l *Limiter) GetStatus(ctx context.Context, action, userID, ip string) (*Status, error) {
	policy := l.policies.lookup(action)
	status := &Status{
		Action:        action,
		Limit:         policy.Limit,
		WindowSeconds: int(policy.Window / time.Second),
	}

	if userID != "" {
		used, err := l.store.Get(ctx, counterKey(ScopeUser, userID, action))
		if err != nil {
			return nil, err
		}
		status.User = scopeStatus(used, policy.Limit)
	} else {
		status.User = scopeStatus(0, policy.Limit)
	}

	if ip != "" {
		used, err := l.store.Get(ctx, counterKey(ScopeIP, ip, action))
		if err != nil {
			return nil, err
		}
		status.IP = scopeStatus(used, policy.Limit)
	} else {
		status.IP = scopeStatus(0, policy.Limit)
	}

	return status, nil
}

func scopeStatus(used int64, limit int) ScopeStatus {
	remaining := int64(limit) - used
	if remaining < 0 {
		remaining = 0
	}
	return ScopeStatus{Used: used, Remaining: remaining}
}

// Reset zeroes one counter immediately. Intended for administrative recovery
// and tests, not for normal traffic.
func (l *Limiter) Reset(ctx context.Context, scope, actorID, action string) error {
	if scope != ScopeUser && scope != ScopeIP {
		return fmt.Errorf("ratelimit: unknown scope %q", scope)
	}
	return l.store.Reset(ctx, counterKey(scope, actorID, action))
}

// Policy returns the effective policy for an action, falling back to the
// default entry for unrecognized names.
func (l *Limiter) Policy(action string) Policy {
	return l.policies.lookup(action)
}
