package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Presence tracks, per channel, which connection-local presence keys
// are occupied, locally and in Redis (spec §3 PresenceEntry, §4.4
// "Presence").
type Presence struct {
	rdb      *redis.Client
	ttl      time.Duration
	procID   string
	log      *zap.Logger

	mu    sync.Mutex
	local map[string]map[string]map[string]struct{} // channel -> key -> connID set

	// emit is called with (channel, event, presenceKey) whenever a
	// join/leave transition happens locally; the bus wires this to
	// broadcast.
	emit func(channel, event, presenceKey string)
}

func NewPresence(rdb *redis.Client, ttl time.Duration, procID string, log *zap.Logger) *Presence {
	return &Presence{
		rdb:    rdb,
		ttl:    ttl,
		procID: procID,
		log:    log.Named("presence"),
		local:  make(map[string]map[string]map[string]struct{}),
	}
}

func (p *Presence) SetEmitter(fn func(channel, event, presenceKey string)) {
	p.emit = fn
}

func sharedSetKey(channel string) string       { return "presence:" + channel }
func expiryKey(channel, key string) string     { return "presence:" + channel + ":" + key }

// Join registers connID under presenceKey on channel. Emits a "join"
// event iff the local set for (channel, presenceKey) transitioned from
// empty to non-empty.
func (p *Presence) Join(ctx context.Context, channel, presenceKey, connID string) error {
	p.mu.Lock()
	keys, ok := p.local[channel]
	if !ok {
		keys = make(map[string]map[string]struct{})
		p.local[channel] = keys
	}
	conns, ok := keys[presenceKey]
	wasEmpty := !ok || len(conns) == 0
	if !ok {
		conns = make(map[string]struct{})
		keys[presenceKey] = conns
	}
	conns[connID] = struct{}{}
	p.mu.Unlock()

	if err := p.rdb.SAdd(ctx, sharedSetKey(channel), presenceKey).Err(); err != nil {
		return err
	}
	if err := p.rdb.Set(ctx, expiryKey(channel, presenceKey), p.procID, p.ttl).Err(); err != nil {
		return err
	}

	if wasEmpty && p.emit != nil {
		p.emit(channel, "join", presenceKey)
	}
	return nil
}

// Leave removes connID from presenceKey on channel. Emits a "leave"
// event iff the local set transitioned to empty.
func (p *Presence) Leave(ctx context.Context, channel, presenceKey, connID string) error {
	p.mu.Lock()
	becameEmpty := false
	if keys, ok := p.local[channel]; ok {
		if conns, ok := keys[presenceKey]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(keys, presenceKey)
				becameEmpty = true
			}
		}
		if len(keys) == 0 {
			delete(p.local, channel)
		}
	}
	p.mu.Unlock()

	if !becameEmpty {
		return nil
	}

	if err := p.rdb.SRem(ctx, sharedSetKey(channel), presenceKey).Err(); err != nil {
		return err
	}
	if err := p.rdb.Del(ctx, expiryKey(channel, presenceKey)).Err(); err != nil {
		return err
	}
	if p.emit != nil {
		p.emit(channel, "leave", presenceKey)
	}
	return nil
}

// RemoveConnection removes connID from every (channel, key) it holds.
// Bus.DestroyConnection does not call it; it leaves presence through
// Bus.Unsubscribe for each of the connection's channels.
func (p *Presence) RemoveConnection(ctx context.Context, connID string) {
	p.mu.Lock()
	type target struct{ channel, key string }
	var toLeave []target
	for channel, keys := range p.local {
		for key, conns := range keys {
			if _, ok := conns[connID]; ok {
				toLeave = append(toLeave, target{channel, key})
			}
		}
	}
	p.mu.Unlock()

	for _, t := range toLeave {
		if err := p.Leave(ctx, t.channel, t.key, connID); err != nil {
			p.log.Warn("presence leave failed on connection destroy",
				zap.String("channel", t.channel), zap.String("key", t.key), zap.Error(err))
		}
	}
}

// Members returns the keys currently in the shared presence set for
// channel. Unknown channel returns an empty slice.
func (p *Presence) Members(ctx context.Context, channel string) ([]string, error) {
	return p.rdb.SMembers(ctx, sharedSetKey(channel)).Result()
}

// Channels returns a snapshot of the channel names this process
// currently tracks local presence for, used to drive the heartbeat and
// sweep loop without reaching into Presence's internals.
func (p *Presence) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.local))
	for channel := range p.local {
		out = append(out, channel)
	}
	return out
}

// Heartbeat refreshes the TTL on every presence expiry entry this
// process owns (spec §4.4 "Heartbeat").
func (p *Presence) Heartbeat(ctx context.Context) {
	p.mu.Lock()
	type target struct{ channel, key string }
	var all []target
	for channel, keys := range p.local {
		for key := range keys {
			all = append(all, target{channel, key})
		}
	}
	p.mu.Unlock()

	for _, t := range all {
		if err := p.rdb.Expire(ctx, expiryKey(t.channel, t.key), p.ttl).Err(); err != nil {
			p.log.Warn("presence heartbeat refresh failed",
				zap.String("channel", t.channel), zap.String("key", t.key), zap.Error(err))
		}
	}
}

// Sweep reconciles the shared set for channel against its expiry
// entries: any key whose expiry entry has vanished (a crashed peer) is
// removed from the shared set and a "leave" event is emitted, per spec
// §4.4's presence-TTL sweep.
func (p *Presence) Sweep(ctx context.Context, channel string) {
	members, err := p.Members(ctx, channel)
	if err != nil {
		p.log.Warn("presence sweep: list members failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	for _, key := range members {
		exists, err := p.rdb.Exists(ctx, expiryKey(channel, key)).Result()
		if err != nil {
			p.log.Warn("presence sweep: exists check failed", zap.String("channel", channel), zap.String("key", key), zap.Error(err))
			continue
		}
		if exists == 0 {
			if err := p.rdb.SRem(ctx, sharedSetKey(channel), key).Err(); err != nil {
				p.log.Warn("presence sweep: srem failed", zap.Error(err))
				continue
			}
			if p.emit != nil {
				p.emit(channel, "leave", key)
			}
		}
	}
}
