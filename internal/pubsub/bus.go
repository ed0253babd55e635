package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// Message is the wire envelope carried on the single Redis Pub/Sub
// channel (spec §4.4 "Transport", §6 "Pub/Sub wire format").
type Message struct {
	Channel string `json:"channel"`
	Message any    `json:"message"`
	Sender  string `json:"sender"`
}

// ReceiveFunc delivers a broadcast payload to a subscribed connection,
// i.e. onBroadcastMessageReceived from spec §4.3/§4.4. The webserver
// wires this to write a WebSocket frame.
type ReceiveFunc func(conn *connection.Connection, msg Message)

// Bus is the process's Pub/Sub fan-out: one Redis channel, one
// subscriber connection driven by a single receiver goroutine (spec §5).
type Bus struct {
	cmd    *redis.Client
	sub    *redis.Client
	topic  string
	conns  *connection.Registry
	chans  *Registry
	pres   *Presence
	log    *zap.Logger
	deliver ReceiveFunc
}

func New(cmd, sub *redis.Client, processNamePrefix string, conns *connection.Registry, chans *Registry, pres *Presence, log *zap.Logger) *Bus {
	b := &Bus{
		cmd:   cmd,
		sub:   sub,
		topic: "keryx:pubsub:" + processNamePrefix,
		conns: conns,
		chans: chans,
		pres:  pres,
		log:   log.Named("pubsub"),
	}
	pres.SetEmitter(func(channel, event, presenceKey string) {
		_ = b.Broadcast(context.Background(), channel, map[string]any{
			"event":       event,
			"presenceKey": presenceKey,
		}, "presence")
	})
	return b
}

// SetReceiver installs the callback used to deliver broadcasts to
// subscribed connections.
func (b *Bus) SetReceiver(fn ReceiveFunc) { b.deliver = fn }

// Presence exposes the presence tracker so the process entrypoint can
// drive its heartbeat/sweep loop.
func (b *Bus) Presence() *Presence { return b.pres }

// Channels exposes the channel registry so the process entrypoint can
// register the example channel definitions before the bus starts
// receiving subscribe frames.
func (b *Bus) Channels() *Registry { return b.chans }

// Broadcast publishes message on channel (spec §4.4 "Broadcast
// contract").
func (b *Bus) Broadcast(ctx context.Context, channel string, message any, sender string) error {
	if sender == "" {
		sender = "unknown-sender"
	}
	env := Message{Channel: channel, Message: message, Sender: sender}
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.cmd.Publish(ctx, b.topic, buf).Err()
}

// Run drives the single subscriber receiver loop until ctx is
// cancelled. Errors are logged and swallowed (spec §7: "Pub/Sub
// receiver errors ... are logged and swallowed — they never abort the
// receiver loop").
func (b *Bus) Run(ctx context.Context) {
	pubsub := b.sub.Subscribe(ctx, b.topic)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *Bus) handle(payload string) {
	var env Message
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn("pubsub: malformed message", zap.Error(err))
		return
	}

	b.conns.Each(func(conn *connection.Connection) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Warn("pubsub: receiver panic recovered", zap.Any("recover", r))
			}
		}()
		if !conn.IsSubscribed(env.Channel) {
			return
		}
		if b.deliver != nil {
			b.deliver(conn, env)
		}
	})
}

// Subscribe authorizes and subscribes conn to channel (spec §4.4
// "Authorization", "Presence").
func (b *Bus) Subscribe(ctx context.Context, channel string, conn *connection.Connection) error {
	def, found := b.chans.Find(channel)
	if found {
		for _, mw := range def.Middleware {
			if err := mw.RunBefore(ctx, channel, conn); err != nil {
				return actionerr.New(actionerr.ConnectionChannelAuthorization, err.Error()).WithCause(err)
			}
		}
		if def.Authorize != nil {
			if err := def.Authorize(ctx, channel, conn); err != nil {
				return actionerr.New(actionerr.ConnectionChannelAuthorization, err.Error())
			}
		}
	}

	conn.Subscribe(channel)

	presenceKey := conn.ID
	if found {
		presenceKey = def.presenceKeyFor(conn)
	}
	if err := b.pres.Join(ctx, channel, presenceKey, conn.ID); err != nil {
		return fmt.Errorf("presence join: %w", err)
	}
	return nil
}

// Unsubscribe removes conn's subscription to channel, runs any
// registered runAfter middleware (errors logged, not raised), and
// updates presence.
func (b *Bus) Unsubscribe(ctx context.Context, channel string, conn *connection.Connection) {
	conn.Unsubscribe(channel)

	presenceKey := conn.ID
	if def, found := b.chans.Find(channel); found {
		presenceKey = def.presenceKeyFor(conn)
		for _, mw := range def.Middleware {
			if err := mw.RunAfter(ctx, channel, conn); err != nil {
				b.log.Warn("channel unsubscribe middleware error", zap.String("channel", channel), zap.Error(err))
			}
		}
	}

	if err := b.pres.Leave(ctx, channel, presenceKey, conn.ID); err != nil {
		b.log.Warn("presence leave failed", zap.String("channel", channel), zap.Error(err))
	}
}

// DestroyConnection unsubscribes conn from every channel it holds and
// removes it from the connection registry (spec §3 Connection
// lifecycle: "destruction removes it from the registry and from all
// presence tables").
func (b *Bus) DestroyConnection(ctx context.Context, conn *connection.Connection) {
	for _, ch := range conn.Subscriptions() {
		b.Unsubscribe(ctx, ch, conn)
	}
	b.conns.Remove(conn.ID)
}
