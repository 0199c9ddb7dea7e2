// Package ratelimit bounds publish calls per platform account.
package ratelimit

import (
	"context"
	"time"
)

type Limiter interface {
	// Allow consumes one unit for the key and reports whether the call may proceed.
	Allow(ctx context.Context, platform string, accountID int64, action string) (bool, error)
}

// Rule allows Limit calls per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules holds a default rule and per-platform overrides.
type Rules struct {
	Default    Rule
	ByPlatform map[string]Rule
}

func (r Rules) For(platform string) Rule {
	if rule, ok := r.ByPlatform[platform]; ok {
		return rule
	}
	return r.Default
}

// Unlimited allows every call.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string, int64, string) (bool, error) { return true, nil }
