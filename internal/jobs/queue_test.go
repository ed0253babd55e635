package jobs

import (
	"context"
	"errors"
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
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func registryWithTaskAction(t *testing.T, queue string) *action.Registry {
	t.Helper()
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(&action.Action{
		Name: "widget:process",
		Task: &action.TaskBinding{Queue: queue},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			return nil, nil
		},
	}))
	return reg
}

func TestEnqueueUsesExplicitQueueOverTaskDefault(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())
	reg := registryWithTaskAction(t, "task-default")

	require.NoError(t, store.Enqueue(context.Background(), reg, "widget:process", map[string]any{"id": "1"}, "explicit-queue"))

	rec, err := store.Pop(context.Background(), []string{"explicit-queue"}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "explicit-queue", rec.Queue)
	assert.Equal(t, "widget:process", rec.Class)
}

func TestEnqueueFallsBackToTaskQueueThenDefault(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())
	reg := registryWithTaskAction(t, "task-default")

	require.NoError(t, store.Enqueue(context.Background(), reg, "widget:process", nil, ""))
	rec, err := store.Pop(context.Background(), []string{"task-default"}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "task-default", rec.Queue)
}

func TestEnqueueUnknownActionErrors(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())
	reg := action.NewRegistry()

	err := store.Enqueue(context.Background(), reg, "missing:action", nil, "")
	require.Error(t, err)
	typed, ok := actionerr.As(err)
	require.True(t, ok)
	assert.Equal(t, actionerr.ConnectionTaskDefinition, typed.Kind)
}

func TestPopTimesOutWithNilRecord(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())

	rec, err := store.Pop(context.Background(), []string{"empty"}, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestScheduleDelayedAndDrain(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())

	now := time.Now().Unix()
	rec := Record{Class: "widget:process", Queue: "default", Args: []map[string]any{{"id": "1"}}}
	require.NoError(t, store.ScheduleDelayed(context.Background(), now, rec))

	due, err := store.DueTimestamps(context.Background(), now+1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, now, due[0])

	require.NoError(t, store.DrainDelayed(context.Background(), due[0]))

	popped, err := store.Pop(context.Background(), []string{"default"}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, "widget:process", popped.Class)

	due, err = store.DueTimestamps(context.Background(), now+1)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRecordFailureAndFailed(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())

	rec := Record{Class: "widget:process", Queue: "default"}
	require.NoError(t, store.RecordFailure(context.Background(), rec, errors.New("boom"), ""))

	failures, err := store.Failed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "boom", failures[0].Error)
}

func TestAcquireLockIsExclusive(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())

	ok, err := store.AcquireLock(context.Background(), "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLock(context.Background(), "job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while lock is held")

	require.NoError(t, store.ReleaseLock(context.Background(), "job-1"))

	ok, err = store.AcquireLock(context.Background(), "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
