package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/session"
)

type fakeWorkerSessionLoader struct{}

func (fakeWorkerSessionLoader) Load(ctx context.Context, connID string) (session.Session, bool, error) {
	return session.Session{}, false, nil
}

func (fakeWorkerSessionLoader) Create(ctx context.Context, connID, cookieName string, data map[string]any) (session.Session, error) {
	return session.Session{ID: connID, Data: data}, nil
}

func TestWorkerProcessSuccessRecordsFanOutCompletion(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())

	reg := action.NewRegistry()
	require.NoError(t, reg.Register(&action.Action{
		Name: "fanout:child",
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			return action.Result{"processed": params["itemId"]}, nil
		},
	}))

	dispatcher := action.NewDispatcher(reg, fakeWorkerSessionLoader{}, "sid", nil, zap.NewNop())

	var enqueueErr error
	mgr := NewFanOutManager(rdb, reg, 10, time.Minute, zap.NewNop(),
		func(ctx context.Context, actionName string, inputs map[string]any, queue string) error { return enqueueErr })

	result, err := mgr.FanOut(context.Background(), "fanout:child", []map[string]any{{"itemId": "1"}}, "default")
	require.NoError(t, err)

	worker := NewWorker(store, dispatcher, reg, mgr, []string{"default"}, time.Second, zap.NewNop())
	rec := Record{Class: "fanout:child", Queue: "default", Args: []map[string]any{{"itemId": "1", fanOutIDField: result.FanOutID}}}
	worker.process(context.Background(), rec)

	status, err := mgr.Status(context.Background(), result.FanOutID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Completed)
	assert.Equal(t, int64(0), status.Failed)
}

func TestWorkerProcessFailureRecordsFanOutFailureAndAppendsToFailedList(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())

	reg := action.NewRegistry()
	require.NoError(t, reg.Register(&action.Action{
		Name: "fanout:child",
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			return nil, assertError("boom")
		},
	}))
	dispatcher := action.NewDispatcher(reg, fakeWorkerSessionLoader{}, "sid", nil, zap.NewNop())
	mgr := NewFanOutManager(rdb, reg, 10, time.Minute, zap.NewNop(), nil)

	hashResult, err := mgr.FanOut(context.Background(), "fanout:child", nil, "default")
	require.NoError(t, err)

	worker := NewWorker(store, dispatcher, reg, mgr, []string{"default"}, time.Second, zap.NewNop())
	rec := Record{Class: "fanout:child", Queue: "default", Args: []map[string]any{{fanOutIDField: hashResult.FanOutID}}}
	worker.process(context.Background(), rec)

	status, err := mgr.Status(context.Background(), hashResult.FanOutID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Failed)

	failed, err := store.Failed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "fanout:child", failed[0].Payload.Class)
}

func TestWorkerProcessWithoutFanOutIDDoesNotTouchFanOutManager(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())

	reg := action.NewRegistry()
	require.NoError(t, reg.Register(&action.Action{
		Name: "widget:process",
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			return action.Result{"ok": true}, nil
		},
	}))
	dispatcher := action.NewDispatcher(reg, fakeWorkerSessionLoader{}, "sid", nil, zap.NewNop())

	worker := NewWorker(store, dispatcher, reg, nil, []string{"default"}, time.Second, zap.NewNop())
	rec := Record{Class: "widget:process", Queue: "default", Args: []map[string]any{{"id": "1"}}}

	assert.NotPanics(t, func() { worker.process(context.Background(), rec) })
}

func TestWorkerRunStopsWhenContextCancelled(t *testing.T) {
	_, rdb := setupTestRedis(t)
	store := NewStore(rdb, zap.NewNop())
	reg := action.NewRegistry()
	dispatcher := action.NewDispatcher(reg, fakeWorkerSessionLoader{}, "sid", nil, zap.NewNop())
	worker := NewWorker(store, dispatcher, reg, nil, []string{"empty-queue"}, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker.Run did not return after context cancellation")
	}
}

type assertError string

func (e assertError) Error() string { return string(e) }
