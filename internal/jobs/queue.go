// Package jobs implements the Redis-backed background job runtime of
// spec §4.5: a Resque wire-compatible queue, a recurring-task
// scheduler, worker loop, and the fan-out coordination primitive.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
)

// Record is one Resque-style job, wire-compatible with the convention
// of spec §4.5/§6: {class, queue, args:[...]}.
type Record struct {
	Class string           `json:"class"`
	Queue string           `json:"queue"`
	Args  []map[string]any `json:"args"`
}

// FailureRecord is appended to resque:failed on worker failure.
type FailureRecord struct {
	FailedAt time.Time      `json:"failed_at"`
	Payload  Record         `json:"payload"`
	Error    string         `json:"error"`
	Stack    string         `json:"stack,omitempty"`
}

const (
	keyQueuePrefix  = "resque:queue:"
	keyQueueSet     = "resque:queues"
	keyDelayedPre   = "resque:delayed:"
	keyDelayedSched = "resque:delayed_queue_schedule"
	keyFailed       = "resque:failed"
)

func queueKey(name string) string   { return keyQueuePrefix + name }
func delayedKey(ts int64) string    { return fmt.Sprintf("%s%d", keyDelayedPre, ts) }
func jobLockKey(name string) string { return "resque:lock:" + name }
func workerLockKey(worker string) string { return "resque:workerslock:" + worker }

// Store wraps the Redis command client with the queue operations.
type Store struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewStore(rdb *redis.Client, log *zap.Logger) *Store {
	return &Store{rdb: rdb, log: log.Named("jobs")}
}

// Enqueue resolves queue precedence (explicit > action.task.queue >
// "default"), pushes one JSON record, and tracks the queue name (spec
// §4.5 "Enqueue contract").
func (s *Store) Enqueue(ctx context.Context, reg *action.Registry, actionName string, inputs map[string]any, queue string) error {
	a, ok := reg.Lookup(actionName)
	if !ok {
		return actionerr.New(actionerr.ConnectionTaskDefinition, fmt.Sprintf("unknown action %q", actionName))
	}

	resolvedQueue := queue
	if resolvedQueue == "" && a.Task != nil {
		resolvedQueue = a.Task.Queue
	}
	if resolvedQueue == "" {
		resolvedQueue = "default"
	}

	return s.push(ctx, resolvedQueue, Record{Class: actionName, Queue: resolvedQueue, Args: []map[string]any{inputs}})
}

func (s *Store) push(ctx context.Context, queue string, rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, keyQueueSet, queue)
	pipe.RPush(ctx, queueKey(queue), buf)
	_, err = pipe.Exec(ctx)
	return err
}

// Pop blocks (up to timeout) across the given queue priority list,
// returning the first job popped, or (nil, nil) on timeout.
func (s *Store) Pop(ctx context.Context, queues []string, timeout time.Duration) (*Record, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}
	result, err := s.rdb.BLPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// result is [key, value]
	var rec Record
	if err := json.Unmarshal([]byte(result[1]), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ScheduleDelayed pushes rec into the delayed list for timestamp (epoch
// seconds) and records the timestamp in the schedule zset.
func (s *Store) ScheduleDelayed(ctx context.Context, ts int64, rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, delayedKey(ts), buf)
	pipe.ZAdd(ctx, keyDelayedSched, redis.Z{Score: float64(ts), Member: ts})
	_, err = pipe.Exec(ctx)
	return err
}

// DueTimestamps returns every scheduled timestamp <= now (epoch
// seconds), per spec §4.5 "Scheduler".
func (s *Store) DueTimestamps(ctx context.Context, now int64) ([]int64, error) {
	members, err := s.rdb.ZRangeByScore(ctx, keyDelayedSched, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		var ts int64
		if _, err := fmt.Sscanf(m, "%d", &ts); err == nil {
			out = append(out, ts)
		}
	}
	return out, nil
}

// DrainDelayed moves every job scheduled at ts into its queue, then
// removes ts from the schedule.
func (s *Store) DrainDelayed(ctx context.Context, ts int64) error {
	key := delayedKey(ts)
	for {
		raw, err := s.rdb.LPop(ctx, key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn("scheduler: malformed delayed job", zap.Error(err))
			continue
		}
		if err := s.push(ctx, rec.Queue, rec); err != nil {
			return err
		}
	}
	return s.rdb.ZRem(ctx, keyDelayedSched, ts).Err()
}

// RecordFailure appends a failure record to resque:failed (spec §4.5
// "Worker loop" step 4).
func (s *Store) RecordFailure(ctx context.Context, rec Record, cause error, stack string) error {
	buf, err := json.Marshal(FailureRecord{
		FailedAt: time.Now(),
		Payload:  rec,
		Error:    cause.Error(),
		Stack:    stack,
	})
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, keyFailed, buf).Err()
}

// Failed returns up to count raw failure records, most recent last,
// for diagnostics (SPEC_FULL.md §D.5).
func (s *Store) Failed(ctx context.Context, count int64) ([]FailureRecord, error) {
	raws, err := s.rdb.LRange(ctx, keyFailed, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]FailureRecord, 0, len(raws))
	for _, raw := range raws {
		var rec FailureRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// AcquireLock takes a short-lived NX lock (job execution lock / queue
// lock / delayed-queue lock, per spec §4.5 "Recurring task locking").
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, jobLockKey(name), "1", ttl).Result()
	return ok, err
}

// ReleaseLock releases a previously acquired lock.
func (s *Store) ReleaseLock(ctx context.Context, name string) error {
	return s.rdb.Del(ctx, jobLockKey(name)).Err()
}

// AcquireWorkerLock is used by scheduler leader election.
func (s *Store) AcquireWorkerLock(ctx context.Context, worker string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, workerLockKey(worker), "1", ttl).Result()
}

func (s *Store) RenewWorkerLock(ctx context.Context, worker string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, workerLockKey(worker), ttl).Err()
}
