package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// Worker repeatedly pops jobs off its queue list and dispatches them
// through the same Dispatcher used by HTTP/WebSocket (spec §4.5 "Worker
// loop").
type Worker struct {
	store      *Store
	dispatcher *action.Dispatcher
	registry   *action.Registry
	fanOut     *FanOutManager
	queues     []string
	timeout    time.Duration
	log        *zap.Logger
}

func NewWorker(store *Store, dispatcher *action.Dispatcher, registry *action.Registry, fanOut *FanOutManager, queues []string, timeout time.Duration, log *zap.Logger) *Worker {
	return &Worker{
		store:      store,
		dispatcher: dispatcher,
		registry:   registry,
		fanOut:     fanOut,
		queues:     queues,
		timeout:    timeout,
		log:        log.Named("worker"),
	}
}

// Run blocks, processing jobs until ctx is cancelled. A currently
// in-flight job is always finished before Run returns, matching spec
// §5's shutdown guarantee ("workers finish the in-flight job and
// exit").
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, err := w.store.Pop(ctx, w.queues, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("worker: pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if rec == nil {
			continue // timeout, no job
		}

		w.process(ctx, *rec)
	}
}

func (w *Worker) process(ctx context.Context, rec Record) {
	var args map[string]any
	if len(rec.Args) > 0 {
		args = rec.Args[0]
	} else {
		args = map[string]any{}
	}

	connID := uuid.NewString()
	conn := connection.New(connection.TypeJob, "job-runtime", connID)

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	outcome := w.dispatcher.Act(runCtx, conn, rec.Class, args, "", "")
	if outcome.Err != nil {
		stack := ""
		if outcome.Err.Cause != nil {
			stack = outcome.Err.Cause.Error()
		}
		if err := w.store.RecordFailure(ctx, rec, outcome.Err, stack); err != nil {
			w.log.Error("worker: failed to record failure", zap.Error(err))
		}
		w.maybeHandleFanOutFailure(ctx, args, outcome.Err.Error())
		return
	}

	w.maybeHandleFanOutSuccess(ctx, args, outcome.Response)
	w.maybeReenqueueRecurring(ctx, rec)
}

// maybeHandleFanOutSuccess records a successful child's result against
// its aggregate, if the job carried a _fanOutId (spec §4.5 "Worker
// completion of a fan-out child").
func (w *Worker) maybeHandleFanOutSuccess(ctx context.Context, args map[string]any, response action.Result) {
	if w.fanOut == nil {
		return
	}
	id, ok := args[fanOutIDField].(string)
	if !ok || id == "" {
		return
	}
	if err := w.fanOut.RecordSuccess(ctx, id, response); err != nil {
		w.log.Warn("fanout: failed to record child success", zap.String("fanOutId", id), zap.Error(err))
	}
}

func (w *Worker) maybeHandleFanOutFailure(ctx context.Context, args map[string]any, errMsg string) {
	if w.fanOut == nil {
		return
	}
	id, ok := args[fanOutIDField].(string)
	if !ok || id == "" {
		return
	}
	if err := w.fanOut.RecordFailure(ctx, id, errMsg); err != nil {
		w.log.Warn("fanout: failed to record child failure", zap.String("fanOutId", id), zap.Error(err))
	}
}

// maybeReenqueueRecurring re-enqueues a delayed copy of a recurring
// action's job frequency ms in the future, guarded by a delayed-queue
// lock to prevent duplicate future enqueues for the same timestamp
// (spec §4.5 "Recurring task locking").
func (w *Worker) maybeReenqueueRecurring(ctx context.Context, rec Record) {
	a, ok := w.registry.Lookup(rec.Class)
	if !ok || a.Task == nil || a.Task.FrequencyMillis <= 0 {
		return
	}

	nextAt := time.Now().Add(time.Duration(a.Task.FrequencyMillis) * time.Millisecond).Unix()
	lockName := fmt.Sprintf("delayed:%s:%d", rec.Class, nextAt)

	acquired, err := w.store.AcquireLock(ctx, lockName, time.Duration(a.Task.FrequencyMillis)*time.Millisecond)
	if err != nil {
		w.log.Warn("recurring re-enqueue: lock check failed", zap.String("action", rec.Class), zap.Error(err))
		return
	}
	if !acquired {
		return // another worker already scheduled this timestamp
	}

	if err := w.store.ScheduleDelayed(ctx, nextAt, rec); err != nil {
		w.log.Warn("recurring re-enqueue: schedule failed", zap.String("action", rec.Class), zap.Error(err))
	}
}
