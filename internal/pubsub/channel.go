// Package pubsub implements cross-process broadcast, channel
// authorization, and presence tracking (spec §4.4).
package pubsub

import (
	"context"
	"regexp"

	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// ChannelMiddleware mirrors action.Middleware's shape but operates on
// (channelName, connection) instead of action params, per spec §4.4
// "Authorization".
type ChannelMiddleware interface {
	Name() string
	RunBefore(ctx context.Context, channelName string, conn *connection.Connection) error
	RunAfter(ctx context.Context, channelName string, conn *connection.Connection) error
}

// AuthorizeFunc is the channel's own authorization check, run after
// middleware. A nil AuthorizeFunc means the channel is open.
type AuthorizeFunc func(ctx context.Context, channelName string, conn *connection.Connection) error

// PresenceKeyFunc computes the presence key for a connection on a
// channel. The default returns the connection id.
type PresenceKeyFunc func(conn *connection.Connection) string

// Channel is a registered pub/sub topic definition (spec §3 Channel).
type Channel struct {
	Name        string // exact string, unless Pattern is set
	Pattern     *regexp.Regexp
	Description string

	Middleware []ChannelMiddleware
	Authorize  AuthorizeFunc
	PresenceKey PresenceKeyFunc
}

// Matches reports whether this definition matches name: exact equality,
// or regex match when Pattern is set.
func (c *Channel) Matches(name string) bool {
	if c.Pattern != nil {
		return c.Pattern.MatchString(name)
	}
	return c.Name == name
}

func (c *Channel) presenceKeyFor(conn *connection.Connection) string {
	if c.PresenceKey != nil {
		return c.PresenceKey(conn)
	}
	return conn.ID
}

// Registry holds channel definitions, loaded at startup. findChannel
// resolution order (spec §9): exact matches always win; regex matches
// are tried in registration order.
type Registry struct {
	exact map[string]*Channel
	regex []*Channel
}

func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]*Channel)}
}

// Register adds a channel definition. Exact-name channels are keyed by
// name; pattern channels are appended to the regex search order.
func (r *Registry) Register(c *Channel) {
	if c.Pattern != nil {
		r.regex = append(r.regex, c)
		return
	}
	r.exact[c.Name] = c
}

// Find returns the first matching definition for name, or (nil, false)
// if the channel is "open" (spec §4.4: absence of a definition means no
// authorization middleware runs, and presence still tracks with
// presenceKey = connection.id).
func (r *Registry) Find(name string) (*Channel, bool) {
	if c, ok := r.exact[name]; ok {
		return c, true
	}
	for _, c := range r.regex {
		if c.Matches(name) {
			return c, true
		}
	}
	return nil, false
}
