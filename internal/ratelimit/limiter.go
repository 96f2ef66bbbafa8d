// Package ratelimit provides Redis-backed rate limiting using INCR + EXPIRE
// fixed windows. Each action (login, friend request, message, upgrade) is
// throttled per user id or per client address.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/dm-server/internal/apierror"
	"github.com/whisper/dm-server/internal/metrics"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Name   string        // label used in metrics
	Key    string        // Redis key prefix (e.g., "rl:msg:", "rl:friend:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rate limiting rules.
var (
	// RuleMessage allows 10 messages per 10 seconds per user.
	RuleMessage = Rule{Name: "message", Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleFriend allows 20 friend add/remove actions per minute per user.
	RuleFriend = Rule{Name: "friend", Key: "rl:friend:", Limit: 20, Window: time.Minute}

	// RuleLogin allows 10 login or signup attempts per minute per address.
	RuleLogin = Rule{Name: "login", Key: "rl:login:", Limit: 10, Window: time.Minute}

	// RuleConnect allows 30 WebSocket upgrades per minute per address.
	RuleConnect = Rule{Name: "connect", Key: "rl:conn:", Limit: 30, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis. A nil *Limiter allows
// everything.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the counter for identifier under rule and reports whether
// the request fits in the current window. Redis errors fail open so that an
// outage does not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if l == nil {
		return true, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// The first hit opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Check is Allow expressed as a domain error: it returns
// apierror.ErrRateLimited when the identifier is over the limit.
func (l *Limiter) Check(ctx context.Context, identifier string, rule Rule) error {
	ok, _ := l.Allow(ctx, identifier, rule)
	if ok {
		return nil
	}
	metrics.RateLimited.WithLabelValues(rule.Name).Inc()
	return apierror.ErrRateLimited
}

// Remaining returns how many requests identifier has left in the current
// window. Unknown keys and Redis errors report the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil {
		return rule.Limit, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}
