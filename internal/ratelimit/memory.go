package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps a token bucket per key. Limits are per process.
type MemoryLimiter struct {
	mu       sync.Mutex
	rules    Rules
	limiters map[string]*rate.Limiter
}

func NewMemoryLimiter(rules Rules) *MemoryLimiter {
	return &MemoryLimiter{rules: rules, limiters: make(map[string]*rate.Limiter)}
}

func (l *MemoryLimiter) Allow(_ context.Context, platform string, accountID int64, action string) (bool, error) {
	rule := l.rules.For(platform)
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("%s:%d:%s", platform, accountID, action)

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Limit)), rule.Limit)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow(), nil
}
