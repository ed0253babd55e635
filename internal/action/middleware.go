package action

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// HookOutcome is the sum type spec §9 calls for in place of mutable
// in/out parameters: a hook either passes through, replaces the
// params (runBefore only), or replaces the response (runAfter only).
type HookOutcome struct {
	replaceParams   bool
	newParams       map[string]any
	replaceResponse bool
	newResponse     Result
}

// Pass is the zero-value outcome: no replacement.
func Pass() HookOutcome { return HookOutcome{} }

// ReplaceParams returns an outcome that substitutes the parameter
// mapping passed to subsequent hooks and the action itself.
func ReplaceParams(p map[string]any) HookOutcome {
	return HookOutcome{replaceParams: true, newParams: p}
}

// ReplaceResponse returns an outcome that substitutes the response
// returned to the caller.
func ReplaceResponse(r Result) HookOutcome {
	return HookOutcome{replaceResponse: true, newResponse: r}
}

// Middleware's two optional hooks. Either may return a typed error
// (via actionerr) to short-circuit the dispatch.
type Middleware interface {
	Name() string
	RunBefore(ctx context.Context, params map[string]any, conn *connection.Connection) (HookOutcome, error)
	RunAfter(ctx context.Context, response Result, conn *connection.Connection) (HookOutcome, error)
}

// Base embeds into concrete middleware to default both hooks to
// pass-through; implementers override only what they need, the way the
// teacher's gin.HandlerFunc middlewares are each single-purpose.
type Base struct{ name string }

func NewBase(name string) Base { return Base{name: name} }

func (b Base) Name() string { return b.name }

func (b Base) RunBefore(ctx context.Context, params map[string]any, conn *connection.Connection) (HookOutcome, error) {
	return Pass(), nil
}

func (b Base) RunAfter(ctx context.Context, response Result, conn *connection.Connection) (HookOutcome, error) {
	return Pass(), nil
}
