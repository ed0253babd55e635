// Command worker runs a standalone job-queue processor: no HTTP/WebSocket
// listener, just the scheduler (leader-elected) and a pool of workers
// pulling from Redis.
package main

import (
	"context"
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/evantahler/bun-actionhero-sub000/actions"
	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/config"
	"github.com/evantahler/bun-actionhero-sub000/internal/jobs"
	"github.com/evantahler/bun-actionhero-sub000/internal/lifecycle"
	"github.com/evantahler/bun-actionhero-sub000/internal/rediscli"
	"github.com/evantahler/bun-actionhero-sub000/internal/session"
)

func newLogger(nodeEnv string) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if nodeEnv == "production" {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zap.Must(cfg.Build())
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.ProcessName = "worker"

	zlog := newLogger(cfg.NodeEnv)
	defer zlog.Sync()
	zlog = zlog.Named("main")

	redisPool, err := rediscli.New(cfg.RedisURL, zlog)
	if err != nil {
		zlog.Fatal("redis: failed to connect", zap.Error(err))
	}

	sessions := session.NewStore(redisPool.Cmd, cfg.SessionTTL, zlog)
	registry := action.NewRegistry()
	userStore := actions.NewMemoryUserStore()
	jobStore := jobs.NewStore(redisPool.Cmd, zlog)
	fanOutMgr := jobs.NewFanOutManager(redisPool.Cmd, registry, cfg.FanOutBatchSize, cfg.FanOutResultTTL, zlog,
		func(ctx context.Context, actionName string, inputs map[string]any, queue string) error {
			return jobStore.Enqueue(ctx, registry, actionName, inputs, queue)
		})

	mustRegister := func(err error) {
		if err != nil {
			zlog.Fatal("action registration failed", zap.Error(err))
		}
	}
	mustRegister(actions.RegisterUserActions(registry, userStore))
	mustRegister(actions.RegisterFanOutChildAction(registry))
	mustRegister(actions.RegisterFanOutDemoActions(registry, fanOutMgr))

	dispatcher := action.NewDispatcher(registry, sessions, cfg.SessionCookieName, nil, zlog)

	lc := lifecycle.New(lifecycle.ModeWorker, cfg.ProcessShutdownTimeout, zlog)

	lc.Register(lifecycle.Component{
		Name:     "redis",
		Priority: 0,
		Stop: func(ctx context.Context) error {
			return redisPool.Close()
		},
	})

	lc.Register(lifecycle.FromLoop("scheduler", 10, nil, jobs.NewScheduler(jobStore, registry, cfg.ProcessName, zlog).Run))

	processors := cfg.TaskProcessors
	if processors < 1 {
		processors = 1
	}
	lc.Register(jobs.WorkerPoolComponent("workers", 20, processors, jobStore, dispatcher, registry, fanOutMgr, []string{"default"}, cfg.TaskTimeout, zlog))

	if err := lc.Run(context.Background()); err != nil {
		zlog.Fatal("lifecycle run failed", zap.Error(err))
	}
}
