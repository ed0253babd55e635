// Package channels holds the example channel definitions used to
// exercise pub/sub authorization and presence (spec §4.4).
package channels

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/pubsub"
)

// SessionChannelMiddleware requires a loaded session carrying a userId
// before a subscribe is allowed (spec §8 scenario "Channel broadcast":
// "messages is protected by a SessionChannelMiddleware"). Unlike
// action middleware, channel middleware has no params to rewrite, so
// it only ever blocks or passes.
type SessionChannelMiddleware struct{}

func (SessionChannelMiddleware) Name() string { return "session-channel" }

func (SessionChannelMiddleware) RunBefore(ctx context.Context, channelName string, conn *connection.Connection) error {
	sess, loaded := conn.Session()
	if !loaded {
		return actionerr.New(actionerr.SessionNotFound, "session required to subscribe to "+channelName)
	}
	if _, ok := sess.UserID(); !ok {
		return actionerr.New(actionerr.SessionNotFound, "session required to subscribe to "+channelName)
	}
	return nil
}

func (SessionChannelMiddleware) RunAfter(ctx context.Context, channelName string, conn *connection.Connection) error {
	return nil
}

// Register wires the example channel definitions into reg.
func Register(reg *pubsub.Registry) {
	reg.Register(&pubsub.Channel{
		Name:        "messages",
		Description: "public chat broadcast, subscribe requires an authenticated session",
		Middleware:  []pubsub.ChannelMiddleware{SessionChannelMiddleware{}},
	})
}
