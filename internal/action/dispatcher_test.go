package action

import (
	"context"
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/session"
)

type fakeSessionLoader struct {
	byConn  map[string]session.Session
	created int
}

func newFakeSessionLoader() *fakeSessionLoader {
	return &fakeSessionLoader{byConn: make(map[string]session.Session)}
}

func (f *fakeSessionLoader) Load(ctx context.Context, connID string) (session.Session, bool, error) {
	s, ok := f.byConn[connID]
	return s, ok, nil
}

func (f *fakeSessionLoader) Create(ctx context.Context, connID, cookieName string, data map[string]any) (session.Session, error) {
	f.created++
	s := session.Session{ID: connID, CookieName: cookieName, Data: data}
	f.byConn[connID] = s
	return s, nil
}

type recordingMiddleware struct {
	Base
	before, after int
}

func (m *recordingMiddleware) RunBefore(ctx context.Context, params map[string]any, conn *connection.Connection) (HookOutcome, error) {
	m.before++
	return Pass(), nil
}

func (m *recordingMiddleware) RunAfter(ctx context.Context, response Result, conn *connection.Connection) (HookOutcome, error) {
	m.after++
	return Pass(), nil
}

func newTestDispatcher(t *testing.T, global []Middleware) (*Dispatcher, *Registry, *fakeSessionLoader) {
	t.Helper()
	reg := NewRegistry()
	loader := newFakeSessionLoader()
	d := NewDispatcher(reg, loader, "sid", global, zap.NewNop())
	return d, reg, loader
}

func TestActUnknownActionReturnsActionNotFound(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	outcome := d.Act(context.Background(), conn, "missing:action", nil, "GET", "/missing")
	require.NotNil(t, outcome.Err)
	assert.Equal(t, actionerr.ActionNotFound, outcome.Err.Kind)
}

func TestActCreatesSessionOnFirstDispatch(t *testing.T) {
	d, reg, loader := newTestDispatcher(t, nil)
	require.NoError(t, reg.Register(&Action{
		Name: "status",
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (Result, error) {
			return Result{"status": "ok"}, nil
		},
	}))
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	outcome := d.Act(context.Background(), conn, "status", nil, "GET", "/status")
	require.Nil(t, outcome.Err)
	assert.Equal(t, Result{"status": "ok"}, outcome.Response)
	assert.Equal(t, 1, loader.created)

	sess, loaded := conn.Session()
	require.True(t, loaded)
	assert.Equal(t, "c1", sess.ID)
}

func TestActRunsGlobalThenActionMiddlewareInOrder(t *testing.T) {
	global := &recordingMiddleware{Base: NewBase("global")}
	perAction := &recordingMiddleware{Base: NewBase("per-action")}

	d, reg, _ := newTestDispatcher(t, []Middleware{global})
	require.NoError(t, reg.Register(&Action{
		Name:       "widget:create",
		Middleware: []Middleware{perAction},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (Result, error) {
			return Result{}, nil
		},
	}))
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	outcome := d.Act(context.Background(), conn, "widget:create", nil, "PUT", "/widget")
	require.Nil(t, outcome.Err)
	assert.Equal(t, 1, global.before)
	assert.Equal(t, 1, perAction.before)
	assert.Equal(t, 1, perAction.after)
	assert.Equal(t, 1, global.after)
}

func TestActPropagatesValidationError(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	require.NoError(t, reg.Register(&Action{
		Name:   "widget:create",
		Inputs: map[string]InputField{"name": {Type: TypeString, Required: true}},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (Result, error) {
			return Result{}, nil
		},
	}))
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	outcome := d.Act(context.Background(), conn, "widget:create", map[string]any{}, "PUT", "/widget")
	require.NotNil(t, outcome.Err)
	assert.Equal(t, actionerr.ActionParamRequired, outcome.Err.Kind)
}

func TestActRecoversFromPanicInRun(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	require.NoError(t, reg.Register(&Action{
		Name: "widget:explode",
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (Result, error) {
			panic("boom")
		},
	}))
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	outcome := d.Act(context.Background(), conn, "widget:explode", nil, "PUT", "/widget")
	require.NotNil(t, outcome.Err)
	assert.Equal(t, actionerr.ActionRun, outcome.Err.Kind)
}

func TestActGlobalMiddlewareErrorShortCircuitsAction(t *testing.T) {
	ran := false
	blocking := &blockingMiddleware{Base: NewBase("blocking"), err: errors.New("blocked")}
	d, reg, _ := newTestDispatcher(t, []Middleware{blocking})
	require.NoError(t, reg.Register(&Action{
		Name: "widget:create",
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (Result, error) {
			ran = true
			return Result{}, nil
		},
	}))
	conn := connection.New(connection.TypeWeb, "1.2.3.4", "c1")

	outcome := d.Act(context.Background(), conn, "widget:create", nil, "PUT", "/widget")
	require.NotNil(t, outcome.Err)
	assert.False(t, ran)
}

// requireRedactedEqual compares redactParams' output against want,
// dumping the actual structure via go-spew on mismatch (grounded on
// edirooss-zmux-server's own use of go-spew for diagnostic dumps) since
// assert.Equal's default diff is hard to read across nested maps.
func requireRedactedEqual(t *testing.T, want, got map[string]any) {
	t.Helper()
	if !assert.ObjectsAreEqual(want, got) {
		t.Fatalf("redacted params mismatch\nwant: %s\ngot:  %s", spew.Sdump(want), spew.Sdump(got))
	}
}

func TestRedactParamsMasksSecretFieldsAndFileMetadata(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Action{
		Name: "user:create",
		Inputs: map[string]InputField{
			"password": {Type: TypeString, Secret: true},
			"avatar":   {Type: TypeFile},
			"name":     {Type: TypeString},
		},
	}))

	raw := map[string]any{
		"password": "hunter2",
		"avatar":   map[string]any{"name": "me.png", "type": "image/png", "size": int64(1024)},
		"name":     "Ada",
	}
	got := redactParams(reg, "user:create", raw)

	want := map[string]any{
		"password": "[[secret]]",
		"avatar":   map[string]any{"name": "me.png", "type": "image/png", "size": int64(1024)},
		"name":     "Ada",
	}
	requireRedactedEqual(t, want, got)
}

func TestRedactParamsUnknownActionPassesThroughUnmodified(t *testing.T) {
	reg := NewRegistry()
	raw := map[string]any{"password": "hunter2"}
	got := redactParams(reg, "does:not-exist", raw)
	requireRedactedEqual(t, raw, got)
}

type blockingMiddleware struct {
	Base
	err error
}

func (m *blockingMiddleware) RunBefore(ctx context.Context, params map[string]any, conn *connection.Connection) (HookOutcome, error) {
	return Pass(), m.err
}
