package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisNotReady = errors.New("redis not ready")

// Connect parses url and pings until the server answers or attempts run out.
func Connect(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, ErrRedisNotReady
}

// RedisLimiter is a fixed window counter shared by every worker process.
type RedisLimiter struct {
	client *redis.Client
	rules  Rules
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, rules Rules) *RedisLimiter {
	return &RedisLimiter{client: client, rules: rules, prefix: "postflow:ratelimit", now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, platform string, accountID int64, action string) (bool, error) {
	rule := l.rules.For(platform)
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, nil
	}

	window := l.now().UnixNano() / int64(rule.Window)
	key := fmt.Sprintf("%s:%s:%d:%s:%d", l.prefix, platform, accountID, action, window)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(rule.Limit), nil
}
