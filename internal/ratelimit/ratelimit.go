// Package ratelimit implements the fixed-window rate limiter middleware
// of spec §4.6: a Redis counter per (identifier, windowIndex), with
// authenticated/unauthenticated tiers.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// Options configures the limiter; field names mirror the config keys
// of spec §6.
type Options struct {
	Window             time.Duration
	UnauthenticatedLim int
	AuthenticatedLim   int
	KeyPrefix          string
}

// Middleware is the first global middleware when rate limiting is
// enabled (spec §4.6).
type Middleware struct {
	action.Base
	rdb  *redis.Client
	opts Options
	now  func() time.Time
}

func New(rdb *redis.Client, opts Options) *Middleware {
	return &Middleware{
		Base: action.NewBase("rate-limit"),
		rdb:  rdb,
		opts: opts,
		now:  time.Now,
	}
}

func (m *Middleware) RunBefore(ctx context.Context, params map[string]any, conn *connection.Connection) (action.HookOutcome, error) {
	identifier := m.identifierFor(conn)

	nowMs := m.now().UnixMilli()
	windowMs := m.opts.Window.Milliseconds()
	windowIndex := nowMs / windowMs
	key := fmt.Sprintf("%s:%s:%d", m.opts.KeyPrefix, identifier, windowIndex)

	count, err := m.rdb.Incr(ctx, key).Result()
	if err != nil {
		return action.Pass(), err
	}
	if count == 1 {
		if err := m.rdb.Expire(ctx, key, 2*m.opts.Window).Err(); err != nil {
			return action.Pass(), err
		}
	}

	authenticated := false
	if sess, loaded := conn.Session(); loaded {
		if _, ok := sess.UserID(); ok {
			authenticated = true
		}
	}
	limit := m.opts.UnauthenticatedLim
	if authenticated {
		limit = m.opts.AuthenticatedLim
	}

	resetAt := (windowIndex + 1) * windowMs
	remaining := int(limit) - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if int(count) > limit {
		retryAfterSec := math.Ceil(float64(resetAt-nowMs) / 1000)
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
		return action.Pass(), actionerr.New(actionerr.ConnectionRateLimited, "rate limit exceeded").
			WithRetryAfter(time.Duration(retryAfterSec) * time.Second)
	}

	conn.RateLimit = &connection.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	return action.Pass(), nil
}

func (m *Middleware) identifierFor(conn *connection.Connection) string {
	if sess, loaded := conn.Session(); loaded {
		if uid, ok := sess.UserID(); ok {
			return "user:" + uid
		}
	}
	return "ip:" + conn.Identifier
}
