// Command server runs the single HTTP+WebSocket listener together with
// the pub/sub receiver, presence heartbeat, and (optionally) an
// embedded job scheduler/worker pool, all under one lifecycle.
package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/evantahler/bun-actionhero-sub000/actions"
	"github.com/evantahler/bun-actionhero-sub000/channels"
	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/config"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/jobs"
	"github.com/evantahler/bun-actionhero-sub000/internal/lifecycle"
	"github.com/evantahler/bun-actionhero-sub000/internal/pubsub"
	"github.com/evantahler/bun-actionhero-sub000/internal/ratelimit"
	"github.com/evantahler/bun-actionhero-sub000/internal/rediscli"
	"github.com/evantahler/bun-actionhero-sub000/internal/session"
	"github.com/evantahler/bun-actionhero-sub000/internal/webserver"
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

	zlog := newLogger(cfg.NodeEnv)
	defer zlog.Sync()
	zlog = zlog.Named("main")

	redisPool, err := rediscli.New(cfg.RedisURL, zlog)
	if err != nil {
		zlog.Fatal("redis: failed to connect", zap.Error(err))
	}

	sessions := session.NewStore(redisPool.Cmd, cfg.SessionTTL, zlog)
	conns := connection.NewRegistry()
	chans := pubsub.NewRegistry()
	channels.Register(chans)
	presence := pubsub.NewPresence(redisPool.Cmd, cfg.PresenceTTL, cfg.ProcessName, zlog)
	bus := pubsub.New(redisPool.Cmd, redisPool.NewSubscriber(), cfg.ProcessNamePrefix, conns, chans, presence, zlog)

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
	mustRegister(actions.RegisterSessionActions(registry, userStore, sessions))
	mustRegister(actions.RegisterMessageActions(registry, bus))
	mustRegister(actions.RegisterStatusAction(registry))
	mustRegister(actions.RegisterFanOutChildAction(registry))
	mustRegister(actions.RegisterFanOutDemoActions(registry, fanOutMgr))

	var global []action.Middleware
	if cfg.RateLimitEnabled {
		global = append(global, ratelimit.New(redisPool.Cmd, ratelimit.Options{
			Window:             cfg.RateLimitWindow,
			UnauthenticatedLim: cfg.RateLimitUnauthLimit,
			AuthenticatedLim:   cfg.RateLimitAuthLimit,
			KeyPrefix:          cfg.RateLimitKeyPrefix,
		}))
	}

	dispatcher := action.NewDispatcher(registry, sessions, cfg.SessionCookieName, global, zlog)
	srv := webserver.New(cfg, dispatcher, registry, conns, bus, zlog)

	lc := lifecycle.New(lifecycle.ModeServer, cfg.ProcessShutdownTimeout, zlog)

	lc.Register(lifecycle.Component{
		Name:     "redis",
		Priority: 0,
		Stop: func(ctx context.Context) error {
			return redisPool.Close()
		},
	})

	lc.Register(lifecycle.FromLoop("pubsub-bus", 10, nil, bus.Run))

	lc.Register(lifecycle.FromLoop("presence-heartbeat", 20, nil, func(ctx context.Context) {
		ticker := time.NewTicker(cfg.PresenceHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				presence.Heartbeat(ctx)
				for _, ch := range presence.Channels() {
					presence.Sweep(ctx, ch)
				}
			}
		}
	}))

	if cfg.TasksEnabled {
		lc.Register(lifecycle.FromLoop("scheduler", 30, nil, jobs.NewScheduler(jobStore, registry, cfg.ProcessName, zlog).Run))

		processors := cfg.TaskProcessors
		if processors < 1 {
			processors = 1
		}
		lc.Register(jobs.WorkerPoolComponent("workers", 40, processors, jobStore, dispatcher, registry, fanOutMgr, []string{"default"}, cfg.TaskTimeout, zlog))
	}

	lc.Register(lifecycle.Component{
		Name:     "webserver",
		Priority: 50,
		Start: func(ctx context.Context) error {
			return srv.Start()
		},
		Stop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})

	if err := lc.Run(context.Background()); err != nil {
		zlog.Fatal("lifecycle run failed", zap.Error(err))
	}
}
