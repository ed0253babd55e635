package actions

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// RegisterStatusAction wires a trivial GET /status action; spec §8's
// rate-limit scenario drives its unauthenticated tier against this
// action since it carries no side effects of its own.
func RegisterStatusAction(reg *action.Registry) error {
	return reg.Register(&action.Action{
		Name:        "status",
		Description: "report that the server is accepting requests",
		HTTP:        &action.HTTPBinding{Route: "/status", Method: "GET"},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			return action.Result{"status": "ok"}, nil
		},
	})
}
