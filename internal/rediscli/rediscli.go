// Package rediscli wraps the two long-lived Redis connections the core
// needs (spec §2 item 3, §5): one for commands, safe for concurrent use
// across the process, and one dedicated to Pub/Sub subscriptions, driven
// by a single receiver goroutine. Grounded on the teacher's
// redis/client.go wrapper (dial/read/write timeouts, pool sizing,
// zap-logged Ping diagnostics), generalized from a single client to a
// pool pair.
package rediscli

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pool holds the command client and the options used to build dedicated
// subscriber connections on demand.
type Pool struct {
	Cmd *redis.Client

	opts *redis.Options
	log  *zap.Logger
}

// New parses addr (a redis:// URL) and dials the command connection.
// It does not dial a subscriber connection eagerly; callers needing
// Pub/Sub call NewSubscriber.
func New(addr string, log *zap.Logger) (*Pool, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 5
	opts.MaxRetries = 3

	log = log.Named("redis")
	client := redis.NewClient(opts)

	p := &Pool{Cmd: client, opts: opts, log: log}
	p.ping(context.Background())
	return p, nil
}

// NewSubscriber dials a fresh client dedicated to Pub/Sub, so the
// blocking-read subscriber connection never contends with command
// traffic (spec §5: "the Redis subscriber client is used from a single
// receiver task").
func (p *Pool) NewSubscriber() *redis.Client {
	subOpts := *p.opts
	subOpts.ReadTimeout = 0 // subscriber reads block indefinitely between messages
	return redis.NewClient(&subOpts)
}

func (p *Pool) ping(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	log := p.log.With(zap.String("addr", p.opts.Addr), zap.Int("db", p.opts.DB))
	start := time.Now()
	err := p.Cmd.Ping(ctx).Err()
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("connection failed", zap.Error(err), zap.Duration("ping_rtt", elapsed))
		return
	}
	log.Info("connection established", zap.Duration("ping_rtt", elapsed))
}

// Close closes the command connection.
func (p *Pool) Close() error {
	return p.Cmd.Close()
}
