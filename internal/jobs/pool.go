package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/lifecycle"
)

// WorkerPoolComponent runs n Workers under a single errgroup.Group as
// one lifecycle.Component: Start launches every worker against a
// shared cancellable context, Stop cancels it and waits (bounded by
// ctx's deadline) for all of them to finish their in-flight job, per
// spec §5's "workers finish the in-flight job and exit" guarantee.
func WorkerPoolComponent(name string, priority int, n int, store *Store, dispatcher *action.Dispatcher, registry *action.Registry, fanOut *FanOutManager, queues []string, timeout time.Duration, log *zap.Logger) lifecycle.Component {
	var cancel context.CancelFunc
	var g errgroup.Group

	return lifecycle.Component{
		Name:     name,
		Priority: priority,
		Start: func(ctx context.Context) error {
			var poolCtx context.Context
			poolCtx, cancel = context.WithCancel(ctx)
			for i := 0; i < n; i++ {
				worker := NewWorker(store, dispatcher, registry, fanOut, queues, timeout, log)
				g.Go(func() error {
					worker.Run(poolCtx)
					return nil
				})
			}
			return nil
		},
		Stop: func(ctx context.Context) error {
			cancel()
			done := make(chan error, 1)
			go func() { done <- g.Wait() }()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}
