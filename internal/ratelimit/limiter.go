package ratelimit

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jobwire/gateway/internal/logging"
	"github.com/jobwire/gateway/internal/variables"
)

// Scope is the dimension a rate-limit rule applies to.
type Scope string

const (
	ScopeGlobal  Scope = "GLOBAL"
	ScopeUser    Scope = "USER"
	ScopeIP      Scope = "IP_ADDRESS"
	ScopeAPIKey  Scope = "API_KEY"
	ScopeService Scope = "SERVICE"
)

// ValidScopes enumerates the accepted scope names.
var ValidScopes = map[Scope]bool{
	ScopeGlobal: true, ScopeUser: true, ScopeIP: true,
	ScopeAPIKey: true, ScopeService: true,
}

// scopePrecedence orders rule evaluation most-specific-first. Within a
// scope, rules keep their insertion order.
var scopePrecedence = []Scope{ScopeAPIKey, ScopeUser, ScopeIP, ScopeService, ScopeGlobal}

// Rule is a registered rate-limit quota.
type Rule struct {
	RuleID            string `json:"rule_id"`
	Scope             Scope  `json:"scope"`
	ScopeValue        string `json:"scope_value"`
	RequestsPerWindow int    `json:"requests_per_window"`
	WindowSeconds     int    `json:"window_seconds"`
	Enabled           bool   `json:"enabled"`
}

// Status is a read-only projection of a scope's current quota state.
type Status struct {
	Scope             Scope     `json:"scope"`
	ScopeValue        string    `json:"scope_value"`
	CurrentCount      int64     `json:"current_count"`
	Limit             int       `json:"limit"`
	WindowSeconds     int       `json:"window_seconds"`
	ResetTime         time.Time `json:"reset_time"`
	Blocked           bool      `json:"blocked"`
	RemainingRequests int64     `json:"remaining_requests"`
}

// windowCounter is one (rule, window) counter. Mutated only under its
// shard's lock.
type windowCounter struct {
	windowStart   int64
	windowSeconds int64
	count         int64
}

// Limiter enforces fixed-window request quotas per scope. Check and Record
// are separate stages: Check never consumes quota, Record must only be
// called once the request is confirmed admissible.
type Limiter struct {
	mu       sync.RWMutex
	rules    []*Rule
	ruleByID map[string]*Rule

	counters *shardedMap[*windowCounter]

	// now is swappable for window-rollover tests.
	now func() time.Time

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// New creates a limiter and starts its periodic counter cleanup.
func New() *Limiter {
	l := &Limiter{
		ruleByID:        make(map[string]*Rule),
		counters:        newShardedMap[*windowCounter](),
		now:             time.Now,
		cleanupInterval: 5 * time.Minute,
		done:            make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// AddRule registers a rate-limit rule. The rule ID must be unique and the
// quota positive.
func (l *Limiter) AddRule(rule *Rule) error {
	if !ValidScopes[rule.Scope] {
		return fmt.Errorf("invalid scope: %s", rule.Scope)
	}
	if rule.RequestsPerWindow <= 0 {
		return fmt.Errorf("requests_per_window must be > 0")
	}
	if rule.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be > 0")
	}
	if rule.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.ruleByID[rule.RuleID]; exists {
		return fmt.Errorf("duplicate rule_id: %s", rule.RuleID)
	}
	stored := *rule
	l.rules = append(l.rules, &stored)
	l.ruleByID[stored.RuleID] = &stored
	return nil
}

// ListRules returns copies of all registered rules in insertion order.
func (l *Limiter) ListRules() []*Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Rule, 0, len(l.rules))
	for _, r := range l.rules {
		copied := *r
		out = append(out, &copied)
	}
	return out
}

// applicable returns the enabled rules matching the request context,
// ordered most-specific-scope-first.
func (l *Limiter) applicable(rc *variables.RequestContext) []*Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Rule
	for _, scope := range scopePrecedence {
		for _, rule := range l.rules {
			if rule.Scope != scope || !rule.Enabled {
				continue
			}
			if l.matches(rule, rc) {
				out = append(out, rule)
			}
		}
	}
	return out
}

func (l *Limiter) matches(rule *Rule, rc *variables.RequestContext) bool {
	switch rule.Scope {
	case ScopeGlobal:
		return true
	case ScopeIP:
		return rc.ClientIP != "" && rc.ClientIP == rule.ScopeValue
	case ScopeUser:
		return rc.UserID != "" && rc.UserID == rule.ScopeValue
	case ScopeAPIKey:
		return rc.APIKey != "" && rc.APIKey == rule.ScopeValue
	case ScopeService:
		// TargetService is only known after route resolution, so SERVICE
		// rules take effect at the record stage and in status queries.
		return rc.TargetService != "" && rc.TargetService == rule.ScopeValue
	}
	return false
}

// counterKey identifies a (rule, window) counter.
func counterKey(ruleID string, windowStart int64) string {
	return ruleID + ":" + strconv.FormatInt(windowStart, 10)
}

func windowStart(now time.Time, windowSeconds int) int64 {
	w := int64(windowSeconds)
	return now.Unix() / w * w
}

// currentCount reads a rule's count in the active window without
// incrementing it.
func (l *Limiter) currentCount(rule *Rule, now time.Time) (int64, int64) {
	ws := windowStart(now, rule.WindowSeconds)
	c, ok := l.counters.get(counterKey(rule.RuleID, ws))
	if !ok {
		return 0, ws
	}
	return c.count, ws
}

func (l *Limiter) statusFor(rule *Rule, count int64, ws int64, blocked bool) *Status {
	remaining := int64(rule.RequestsPerWindow) - count
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		Scope:             rule.Scope,
		ScopeValue:        rule.ScopeValue,
		CurrentCount:      count,
		Limit:             rule.RequestsPerWindow,
		WindowSeconds:     rule.WindowSeconds,
		ResetTime:         time.Unix(ws+int64(rule.WindowSeconds), 0),
		Blocked:           blocked,
		RemainingRequests: remaining,
	}
}

// Check evaluates the request against all applicable rules without
// consuming quota. The first rule already at its limit blocks the request;
// otherwise the most restrictive unblocked rule's status is returned. With
// no applicable rule the limiter fails open with a zero-limit status.
func (l *Limiter) Check(rc *variables.RequestContext) *Status {
	if rc == nil {
		return &Status{Scope: ScopeGlobal, ScopeValue: "*"}
	}

	now := l.now()
	rules := l.applicable(rc)

	var best *Status
	for _, rule := range rules {
		count, ws := l.currentCount(rule, now)
		if count >= int64(rule.RequestsPerWindow) {
			return l.statusFor(rule, count, ws, true)
		}
		if best == nil || rule.RequestsPerWindow < best.Limit {
			best = l.statusFor(rule, count, ws, false)
		}
	}

	if best == nil {
		// Fail open: no rule constrains this request.
		return &Status{Scope: ScopeGlobal, ScopeValue: "*"}
	}
	return best
}

// Record consumes one unit of quota against every applicable rule. Call it
// only after Check admitted the request, immediately before proxying.
func (l *Limiter) Record(rc *variables.RequestContext) {
	if rc == nil {
		return
	}

	now := l.now()
	for _, rule := range l.applicable(rc) {
		ws := windowStart(now, rule.WindowSeconds)
		key := counterKey(rule.RuleID, ws)

		s := l.counters.getShard(key)
		s.mu.Lock()
		c, ok := s.items[key]
		if !ok {
			c = &windowCounter{windowStart: ws, windowSeconds: int64(rule.WindowSeconds)}
			s.items[key] = c
		}
		c.count++
		s.mu.Unlock()
	}
}

// StatusFor reports the current quota state for an explicit scope and
// value, for admin queries. Returns a fail-open zero status when no rule
// matches.
func (l *Limiter) StatusFor(scope Scope, scopeValue string) *Status {
	now := l.now()

	l.mu.RLock()
	var match *Rule
	for _, rule := range l.rules {
		if rule.Scope == scope && rule.ScopeValue == scopeValue {
			match = rule
			break
		}
	}
	l.mu.RUnlock()

	if match == nil {
		return &Status{Scope: scope, ScopeValue: scopeValue}
	}

	count, ws := l.currentCount(match, now)
	return l.statusFor(match, count, ws, count >= int64(match.RequestsPerWindow))
}

// Reset clears all window counters for rules matching the scope and value.
func (l *Limiter) Reset(scope Scope, scopeValue string) {
	l.mu.RLock()
	ids := make(map[string]bool)
	for _, rule := range l.rules {
		if rule.Scope == scope && rule.ScopeValue == scopeValue {
			ids[rule.RuleID] = true
		}
	}
	l.mu.RUnlock()

	if len(ids) == 0 {
		return
	}

	l.counters.deleteFunc(func(key string, _ *windowCounter) bool {
		for id := range ids {
			if len(key) > len(id) && key[:len(id)] == id && key[len(id)] == ':' {
				return true
			}
		}
		return false
	})
}

// cleanupLoop drops counters whose window ended more than two window
// lengths ago to bound memory.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	now := l.now().Unix()
	removed := 0
	l.counters.deleteFunc(func(_ string, c *windowCounter) bool {
		if now-c.windowStart > 2*c.windowSeconds {
			removed++
			return true
		}
		return false
	})
	if removed > 0 {
		logging.Debug("rate limit counters cleaned up", zap.Int("removed", removed))
	}
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}
