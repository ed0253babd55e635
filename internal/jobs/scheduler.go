package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
)

const (
	schedulerLockName = "scheduler-leader"
	schedulerLockTTL  = 15 * time.Second
	schedulerPoll     = 1 * time.Second
)

// Scheduler polls resque:delayed_queue_schedule and moves due jobs into
// their queues, and enqueues startup copies of recurring actions (spec
// §4.5 "Scheduler"). Only the elected leader does either.
type Scheduler struct {
	store    *Store
	registry *action.Registry
	procID   string
	log      *zap.Logger
}

func NewScheduler(store *Store, registry *action.Registry, procID string, log *zap.Logger) *Scheduler {
	return &Scheduler{store: store, registry: registry, procID: procID, log: log.Named("scheduler")}
}

// Run blocks until ctx is cancelled, performing leader election and,
// while leader, polling due timestamps and renewing the lock.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(schedulerPoll)
	defer ticker.Stop()

	isLeader := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !isLeader {
				acquired, err := s.store.AcquireWorkerLock(ctx, schedulerLockName, schedulerLockTTL)
				if err != nil {
					s.log.Warn("leader election failed", zap.Error(err))
					continue
				}
				if !acquired {
					continue
				}
				isLeader = true
				s.log.Info("elected scheduler leader", zap.String("proc", s.procID))
				s.enqueueRecurringOnStartup(ctx)
			} else {
				if err := s.store.RenewWorkerLock(ctx, schedulerLockName, schedulerLockTTL); err != nil {
					s.log.Warn("leader lock renewal failed, relinquishing leadership", zap.Error(err))
					isLeader = false
					continue
				}
			}

			s.drainDue(ctx)
		}
	}
}

func (s *Scheduler) drainDue(ctx context.Context) {
	due, err := s.store.DueTimestamps(ctx, time.Now().Unix())
	if err != nil {
		s.log.Warn("scheduler: failed to list due timestamps", zap.Error(err))
		return
	}
	for _, ts := range due {
		if err := s.store.DrainDelayed(ctx, ts); err != nil {
			s.log.Warn("scheduler: failed to drain delayed bucket", zap.Int64("ts", ts), zap.Error(err))
		}
	}
}

// enqueueRecurringOnStartup seeds every recurring action's first run,
// only the leader does this (spec §4.5 "only the leader enqueues
// recurring jobs on startup").
func (s *Scheduler) enqueueRecurringOnStartup(ctx context.Context) {
	for _, a := range s.registry.Recurring() {
		if err := s.store.Enqueue(ctx, s.registry, a.Name, map[string]any{}, a.Task.Queue); err != nil {
			s.log.Warn("scheduler: failed to seed recurring action", zap.String("action", a.Name), zap.Error(err))
		}
	}
}
