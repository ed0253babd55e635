// Package sessionmw implements the session-required middleware of spec
// §4.2: runBefore fails with SESSION_NOT_FOUND unless the connection's
// session carries a truthy userId.
package sessionmw

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// Required is attached per-action (or globally) wherever a dispatch
// must be backed by an authenticated session.
type Required struct {
	action.Base
}

func NewRequired() *Required {
	return &Required{Base: action.NewBase("session-required")}
}

func (r *Required) RunBefore(ctx context.Context, params map[string]any, conn *connection.Connection) (action.HookOutcome, error) {
	sess, loaded := conn.Session()
	if !loaded {
		return action.Pass(), actionerr.New(actionerr.SessionNotFound, "session required")
	}
	if _, ok := sess.UserID(); !ok {
		return action.Pass(), actionerr.New(actionerr.SessionNotFound, "session required")
	}
	return action.Pass(), nil
}
