package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runWithCanceledParent lets Run's internal signal.NotifyContext fire
// immediately (parent already done) so tests don't need to send real
// OS signals to exercise start/stop ordering.
func runWithCanceledParent(t *testing.T, lc *Lifecycle) error {
	t.Helper()
	parent, cancel := context.WithCancel(context.Background())
	cancel()
	return lc.Run(parent)
}

func TestRunStartsInPriorityOrderAndStopsInReverse(t *testing.T) {
	lc := New(ModeServer, time.Second, zap.NewNop())

	var mu sync.Mutex
	var started, stopped []string

	record := func(slice *[]string, name string) {
		mu.Lock()
		defer mu.Unlock()
		*slice = append(*slice, name)
	}

	lc.Register(Component{
		Name: "b", Priority: 20,
		Start: func(ctx context.Context) error { record(&started, "b"); return nil },
		Stop:  func(ctx context.Context) error { record(&stopped, "b"); return nil },
	})
	lc.Register(Component{
		Name: "a", Priority: 10,
		Start: func(ctx context.Context) error { record(&started, "a"); return nil },
		Stop:  func(ctx context.Context) error { record(&stopped, "a"); return nil },
	})

	require.NoError(t, runWithCanceledParent(t, lc))

	assert.Equal(t, []string{"a", "b"}, started)
	assert.Equal(t, []string{"b", "a"}, stopped)
}

func TestRunSkipsComponentsNotApplicableToMode(t *testing.T) {
	lc := New(ModeWorker, time.Second, zap.NewNop())

	ran := false
	lc.Register(Component{
		Name:  "server-only",
		Modes: []RunMode{ModeServer},
		Start: func(ctx context.Context) error { ran = true; return nil },
	})

	require.NoError(t, runWithCanceledParent(t, lc))
	assert.False(t, ran)
}

func TestRunHandlesNilStartAndStop(t *testing.T) {
	lc := New(ModeServer, time.Second, zap.NewNop())

	stopped := false
	lc.Register(Component{
		Name: "stop-only",
		Stop: func(ctx context.Context) error { stopped = true; return nil },
	})

	require.NoError(t, runWithCanceledParent(t, lc))
	assert.True(t, stopped)
}

func TestRunReturnsErrorWhenComponentFailsToStart(t *testing.T) {
	lc := New(ModeServer, time.Second, zap.NewNop())

	lc.Register(Component{
		Name:  "broken",
		Start: func(ctx context.Context) error { return errors.New("boom") },
	})

	err := runWithCanceledParent(t, lc)
	assert.Error(t, err)
}

func TestFromLoopStopsLoopOnCancel(t *testing.T) {
	var mu sync.Mutex
	running := false

	comp := FromLoop("loop", 0, nil, func(ctx context.Context) {
		mu.Lock()
		running = true
		mu.Unlock()
		<-ctx.Done()
		mu.Lock()
		running = false
		mu.Unlock()
	})

	require.NoError(t, comp.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, comp.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, running)
}
