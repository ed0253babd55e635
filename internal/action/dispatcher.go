package action

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/session"
)

// SessionLoader abstracts the session store so the dispatcher doesn't
// import internal/session's Redis client directly; satisfied by
// *session.Store.
type SessionLoader interface {
	Load(ctx context.Context, connID string) (session.Session, bool, error)
	Create(ctx context.Context, connID, cookieName string, data map[string]any) (session.Session, error)
}

// Dispatcher runs the dispatch contract of spec §4.1 against a
// Registry, a chain of global middleware, and a session store.
type Dispatcher struct {
	registry         *Registry
	globalMiddleware []Middleware
	sessions         SessionLoader
	cookieName       string
	log              *zap.Logger
}

func NewDispatcher(registry *Registry, sessions SessionLoader, cookieName string, global []Middleware, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:         registry,
		globalMiddleware: global,
		sessions:         sessions,
		cookieName:       cookieName,
		log:              log.Named("dispatcher"),
	}
}

// Outcome carries the final, successful response of a dispatch in
// addition to the context the caller's transport needs (HTTP status
// mapping is done by the transport, based on err's Kind when non-nil).
type Outcome struct {
	Response Result
	Err      *actionerr.Error
}

// Act is the single entry point used identically by the HTTP router,
// the WebSocket frame handler, and job workers.
func (d *Dispatcher) Act(ctx context.Context, conn *connection.Connection, actionName string, rawParams map[string]any, httpMethod, url string) Outcome {
	start := time.Now()

	outcome := d.act(ctx, conn, actionName, rawParams, httpMethod, url)

	status := "OK"
	if outcome.Err != nil {
		status = "ERROR"
	}
	d.log.Info(fmt.Sprintf("[ACTION:%s]", status),
		zap.String("action", actionName),
		zap.Duration("duration", time.Since(start)),
		zap.String("method", httpMethod),
		zap.String("identifier", conn.Identifier),
		zap.String("url", url),
		zap.Any("params", redactParams(d.registry, actionName, rawParams)),
	)

	return outcome
}

func (d *Dispatcher) act(ctx context.Context, conn *connection.Connection, actionName string, rawParams map[string]any, httpMethod, url string) Outcome {
	a, ok := d.registry.Lookup(actionName)
	if !ok {
		return Outcome{Err: actionerr.New(actionerr.ActionNotFound, fmt.Sprintf("unknown action %q", actionName))}
	}

	if err := d.ensureSession(ctx, conn); err != nil {
		return Outcome{Err: actionerr.Wrap(err)}
	}

	params, err := ValidateAndCoerce(a, rawParams)
	if err != nil {
		return Outcome{Err: actionerr.Wrap(err)}
	}

	params, herr := runBeforeChain(ctx, d.globalMiddleware, params, conn)
	if herr != nil {
		return Outcome{Err: actionerr.Wrap(herr)}
	}
	params, herr = runBeforeChain(ctx, a.Middleware, params, conn)
	if herr != nil {
		return Outcome{Err: actionerr.Wrap(herr)}
	}

	response, runErr := safeRun(ctx, a, params, conn)
	if runErr != nil {
		return Outcome{Err: actionerr.Wrap(runErr)}
	}

	response, herr = runAfterChain(ctx, reverse(a.Middleware), response, conn)
	if herr != nil {
		return Outcome{Err: actionerr.Wrap(herr)}
	}
	response, herr = runAfterChain(ctx, reverse(d.globalMiddleware), response, conn)
	if herr != nil {
		return Outcome{Err: actionerr.Wrap(herr)}
	}

	return Outcome{Response: response}
}

// ensureSession lazily loads the session for this connection exactly
// once per connection lifetime (spec §4.1 item 2); if none exists, a
// fresh one is created.
func (d *Dispatcher) ensureSession(ctx context.Context, conn *connection.Connection) error {
	if _, loaded := conn.Session(); loaded {
		return nil
	}
	sess, found, err := d.sessions.Load(ctx, conn.ID)
	if err != nil {
		return err
	}
	if !found {
		sess, err = d.sessions.Create(ctx, conn.ID, d.cookieName, map[string]any{})
		if err != nil {
			return err
		}
	}
	conn.SetSession(sess)
	return nil
}

func safeRun(ctx context.Context, a *Action, params map[string]any, conn *connection.Connection) (resp Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in action %s: %v", a.Name, r)
		}
	}()
	return a.Run(ctx, params, conn)
}

func runBeforeChain(ctx context.Context, chain []Middleware, params map[string]any, conn *connection.Connection) (map[string]any, error) {
	for _, mw := range chain {
		outcome, err := mw.RunBefore(ctx, params, conn)
		if err != nil {
			return nil, err
		}
		if outcome.replaceParams {
			params = outcome.newParams
		}
	}
	return params, nil
}

func runAfterChain(ctx context.Context, chain []Middleware, response Result, conn *connection.Connection) (Result, error) {
	for _, mw := range chain {
		outcome, err := mw.RunAfter(ctx, response, conn)
		if err != nil {
			return nil, err
		}
		if outcome.replaceResponse {
			response = outcome.newResponse
		}
	}
	return response, nil
}

func reverse(in []Middleware) []Middleware {
	out := make([]Middleware, len(in))
	for i, mw := range in {
		out[len(in)-1-i] = mw
	}
	return out
}

// redactParams produces a loggable copy of rawParams: secret fields are
// replaced with "[[secret]]" and file fields are reduced to
// {name,type,size}, per spec §4.1 item 8.
func redactParams(reg *Registry, actionName string, rawParams map[string]any) map[string]any {
	out := make(map[string]any, len(rawParams))
	for k, v := range rawParams {
		out[k] = v
	}
	a, ok := reg.Lookup(actionName)
	if !ok {
		return out
	}
	for name, field := range a.Inputs {
		v, present := out[name]
		if !present {
			continue
		}
		if field.Secret {
			out[name] = "[[secret]]"
			continue
		}
		if field.Type == TypeFile {
			if fm, ok := v.(map[string]any); ok {
				out[name] = map[string]any{
					"name": fm["name"],
					"type": fm["type"],
					"size": fm["size"],
				}
			}
		}
	}
	return out
}
