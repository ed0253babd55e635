package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
)

const fanOutIDField = "_fanOutId"

// FanOutResult is returned immediately by FanOut, before any child job
// has run.
type FanOutResult struct {
	FanOutID string   `json:"fanOutId"`
	Action   string   `json:"actionName"`
	Queue    string   `json:"queue"`
	Enqueued int      `json:"enqueued"`
	Errors   []string `json:"errors"`
}

// FanOutStatus is the aggregate read back by fanOutStatus(id).
type FanOutStatus struct {
	Total     int64            `json:"total"`
	Completed int64            `json:"completed"`
	Failed    int64            `json:"failed"`
	Action    string           `json:"actionName"`
	Queue     string           `json:"queue"`
	Results   []map[string]any `json:"results"`
	Errors    []string         `json:"errors"`
}

func fanOutHashKey(id string) string    { return "fanout:" + id }
func fanOutResultsKey(id string) string { return "fanout:" + id + ":results" }
func fanOutErrorsKey(id string) string  { return "fanout:" + id + ":errors" }

// FanOutManager implements the fan-out coordination primitive.
type FanOutManager struct {
	rdb       *redis.Client
	registry  *action.Registry
	batchSize int
	resultTTL time.Duration
	log       *zap.Logger
	enqueue   func(ctx context.Context, actionName string, inputs map[string]any, queue string) error

	// statusGroup collapses concurrent Status reads for the same
	// fanOutID into a single round trip to Redis, the way the teacher's
	// channel_summary.go dedupes concurrent cache-refill calls.
	statusGroup singleflight.Group
}

func NewFanOutManager(rdb *redis.Client, registry *action.Registry, batchSize int, resultTTL time.Duration, log *zap.Logger, enqueue func(ctx context.Context, actionName string, inputs map[string]any, queue string) error) *FanOutManager {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &FanOutManager{
		rdb:       rdb,
		registry:  registry,
		batchSize: batchSize,
		resultTTL: resultTTL,
		log:       log.Named("fanout"),
		enqueue:   enqueue,
	}
}

// FanOut enqueues len(inputs) child jobs under a new aggregate id (spec
// §4.5 "Fan-out" steps 1-6).
func (f *FanOutManager) FanOut(ctx context.Context, actionName string, inputs []map[string]any, queue string) (FanOutResult, error) {
	if _, ok := f.registry.Lookup(actionName); !ok {
		return FanOutResult{}, actionerr.New(actionerr.ConnectionTaskDefinition, fmt.Sprintf("unknown action %q", actionName))
	}

	for _, in := range inputs {
		if _, exists := in[fanOutIDField]; exists {
			return FanOutResult{}, actionerr.New(actionerr.ActionParamValidation,
				fmt.Sprintf("input already carries reserved field %q", fanOutIDField)).WithField(fanOutIDField, in[fanOutIDField])
		}
	}

	fanOutID := uuid.NewString()

	if err := f.rdb.HSet(ctx, fanOutHashKey(fanOutID),
		"total", len(inputs),
		"completed", 0,
		"failed", 0,
		"actionName", actionName,
		"queue", queue,
	).Err(); err != nil {
		return FanOutResult{}, err
	}

	result := FanOutResult{FanOutID: fanOutID, Action: actionName, Queue: queue}

	for i := 0; i < len(inputs); i += f.batchSize {
		end := i + f.batchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		for _, in := range inputs[i:end] {
			item := make(map[string]any, len(in)+1)
			for k, v := range in {
				item[k] = v
			}
			item[fanOutIDField] = fanOutID
			if err := f.enqueue(ctx, actionName, item, queue); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Enqueued++
		}
	}

	pipe := f.rdb.TxPipeline()
	pipe.Expire(ctx, fanOutHashKey(fanOutID), f.resultTTL)
	pipe.Expire(ctx, fanOutResultsKey(fanOutID), f.resultTTL)
	pipe.Expire(ctx, fanOutErrorsKey(fanOutID), f.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		f.log.Warn("fanout: failed to apply result TTLs", zap.String("fanOutId", fanOutID), zap.Error(err))
	}

	return result, nil
}

// RecordSuccess atomically increments the completed counter and appends
// result to the results list.
func (f *FanOutManager) RecordSuccess(ctx context.Context, fanOutID string, result map[string]any) error {
	buf, err := json.Marshal(result)
	if err != nil {
		return err
	}
	pipe := f.rdb.TxPipeline()
	pipe.HIncrBy(ctx, fanOutHashKey(fanOutID), "completed", 1)
	pipe.RPush(ctx, fanOutResultsKey(fanOutID), buf)
	_, err = pipe.Exec(ctx)
	return err
}

// RecordFailure atomically increments the failed counter and appends
// errMsg to the errors list.
func (f *FanOutManager) RecordFailure(ctx context.Context, fanOutID, errMsg string) error {
	pipe := f.rdb.TxPipeline()
	pipe.HIncrBy(ctx, fanOutHashKey(fanOutID), "failed", 1)
	pipe.RPush(ctx, fanOutErrorsKey(fanOutID), errMsg)
	_, err := pipe.Exec(ctx)
	return err
}

// Status reads the hash and lists for fanOutID. Unknown id yields zero
// totals and empty lists (spec §4.5). Concurrent callers polling the
// same fanOutID share one Redis round trip via statusGroup.
func (f *FanOutManager) Status(ctx context.Context, fanOutID string) (FanOutStatus, error) {
	v, err, _ := f.statusGroup.Do(fanOutID, func() (any, error) {
		return f.loadStatus(ctx, fanOutID)
	})
	if err != nil {
		return FanOutStatus{}, err
	}
	return v.(FanOutStatus), nil
}

func (f *FanOutManager) loadStatus(ctx context.Context, fanOutID string) (FanOutStatus, error) {
	h, err := f.rdb.HGetAll(ctx, fanOutHashKey(fanOutID)).Result()
	if err != nil {
		return FanOutStatus{}, err
	}

	var status FanOutStatus
	status.Total = parseInt64(h["total"])
	status.Completed = parseInt64(h["completed"])
	status.Failed = parseInt64(h["failed"])
	status.Action = h["actionName"]
	status.Queue = h["queue"]

	rawResults, err := f.rdb.LRange(ctx, fanOutResultsKey(fanOutID), 0, -1).Result()
	if err != nil {
		return FanOutStatus{}, err
	}
	for _, raw := range rawResults {
		var r map[string]any
		if err := json.Unmarshal([]byte(raw), &r); err == nil {
			status.Results = append(status.Results, r)
		}
	}

	rawErrors, err := f.rdb.LRange(ctx, fanOutErrorsKey(fanOutID), 0, -1).Result()
	if err != nil {
		return FanOutStatus{}, err
	}
	status.Errors = append(status.Errors, rawErrors...)

	return status, nil
}

func parseInt64(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}
