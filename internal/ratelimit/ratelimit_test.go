package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/session"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testOptions() Options {
	return Options{
		Window:             time.Minute,
		UnauthenticatedLim: 5,
		AuthenticatedLim:   50,
		KeyPrefix:          "rl-test",
	}
}

func TestRunBeforeAllowsUnderLimit(t *testing.T) {
	_, rdb := setupTestRedis(t)
	mw := New(rdb, testOptions())
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	for i := 0; i < 5; i++ {
		_, err := mw.RunBefore(context.Background(), nil, conn)
		require.NoError(t, err)
	}
	require.NotNil(t, conn.RateLimit)
	assert.Equal(t, 0, conn.RateLimit.Remaining)
}

func TestRunBeforeRejectsOverLimit(t *testing.T) {
	_, rdb := setupTestRedis(t)
	mw := New(rdb, testOptions())
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	for i := 0; i < 5; i++ {
		_, err := mw.RunBefore(context.Background(), nil, conn)
		require.NoError(t, err)
	}

	_, err := mw.RunBefore(context.Background(), nil, conn)
	require.Error(t, err)
	typed, ok := actionerr.As(err)
	require.True(t, ok)
	assert.Equal(t, actionerr.ConnectionRateLimited, typed.Kind)
	assert.GreaterOrEqual(t, typed.RetryAfter, time.Second)
}

func TestRunBeforeAuthenticatedUsesHigherLimit(t *testing.T) {
	_, rdb := setupTestRedis(t)
	mw := New(rdb, testOptions())
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")
	conn.SetSession(session.Session{ID: "s1", Data: map[string]any{"userId": "u1"}})

	for i := 0; i < 6; i++ {
		_, err := mw.RunBefore(context.Background(), nil, conn)
		require.NoError(t, err)
	}
	assert.Equal(t, 50, conn.RateLimit.Limit)
}

func TestRunBeforeWindowExpiryResetsCounter(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	mw := New(rdb, testOptions())
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	for i := 0; i < 5; i++ {
		_, err := mw.RunBefore(context.Background(), nil, conn)
		require.NoError(t, err)
	}
	_, err := mw.RunBefore(context.Background(), nil, conn)
	require.Error(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = mw.RunBefore(context.Background(), nil, conn)
	assert.NoError(t, err)
}

func TestIdentifierForUsesIPWithoutSession(t *testing.T) {
	_, rdb := setupTestRedis(t)
	mw := New(rdb, testOptions())
	connA := connection.New(connection.TypeWeb, "1.1.1.1", "a")
	connB := connection.New(connection.TypeWeb, "2.2.2.2", "b")

	for i := 0; i < 5; i++ {
		_, err := mw.RunBefore(context.Background(), nil, connA)
		require.NoError(t, err)
	}
	// A different IP gets its own bucket, unaffected by A's usage.
	_, err := mw.RunBefore(context.Background(), nil, connB)
	assert.NoError(t, err)
	assert.Equal(t, 4, connB.RateLimit.Remaining)
}
