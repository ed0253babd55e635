package actions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
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

func TestSessionCreateAuthenticatesAndStampsUserID(t *testing.T) {
	_, rdb := setupTestRedis(t)
	sessions := session.NewStore(rdb, time.Minute, zap.NewNop())
	users := NewMemoryUserStore()
	_, err := users.Create("Ada", "ada@example.com", "hunter2")
	require.NoError(t, err)

	reg := action.NewRegistry()
	require.NoError(t, RegisterSessionActions(reg, users, sessions))
	a, _ := reg.Lookup("session:create")

	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")
	conn.SetSession(session.Session{ID: "c1", Data: map[string]any{}})

	params, err := action.ValidateAndCoerce(a, map[string]any{"email": "ada@example.com", "password": "hunter2"})
	require.NoError(t, err)

	result, err := a.Run(context.Background(), params, conn)
	require.NoError(t, err)
	assert.NotNil(t, result["user"])

	sess, loaded := conn.Session()
	require.True(t, loaded)
	uid, ok := sess.UserID()
	require.True(t, ok)
	assert.NotEmpty(t, uid)
}

func TestSessionCreateRejectsBadCredentials(t *testing.T) {
	_, rdb := setupTestRedis(t)
	sessions := session.NewStore(rdb, time.Minute, zap.NewNop())
	reg := action.NewRegistry()
	require.NoError(t, RegisterSessionActions(reg, NewMemoryUserStore(), sessions))
	a, _ := reg.Lookup("session:create")

	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")
	conn.SetSession(session.Session{ID: "c1"})

	params, err := action.ValidateAndCoerce(a, map[string]any{"email": "nope@example.com", "password": "wrong"})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), params, conn)
	require.Error(t, err)
	typed, ok := actionerr.As(err)
	require.True(t, ok)
	assert.Equal(t, actionerr.ActionValidation, typed.Kind)
}

func TestSessionDestroyRequiresAuthenticatedSession(t *testing.T) {
	_, rdb := setupTestRedis(t)
	sessions := session.NewStore(rdb, time.Minute, zap.NewNop())
	reg := action.NewRegistry()
	require.NoError(t, RegisterSessionActions(reg, NewMemoryUserStore(), sessions))
	a, _ := reg.Lookup("session:destroy")

	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")
	// No session attached at all.
	_, err := a.Middleware[0].RunBefore(context.Background(), nil, conn)
	require.Error(t, err)
	typed, ok := actionerr.As(err)
	require.True(t, ok)
	assert.Equal(t, actionerr.SessionNotFound, typed.Kind)
}

func TestSessionDestroyDeletesSession(t *testing.T) {
	_, rdb := setupTestRedis(t)
	sessions := session.NewStore(rdb, time.Minute, zap.NewNop())
	_, err := sessions.Create(context.Background(), "c1", "sid", map[string]any{"userId": "1"})
	require.NoError(t, err)

	reg := action.NewRegistry()
	require.NoError(t, RegisterSessionActions(reg, NewMemoryUserStore(), sessions))
	a, _ := reg.Lookup("session:destroy")

	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")
	result, err := a.Run(context.Background(), nil, conn)
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
}
