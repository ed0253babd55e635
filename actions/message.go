package actions

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/pubsub"
)

// RegisterMessageActions wires message:create (spec §8 scenario
// "Channel broadcast"): broadcasts {body, user_name} on the "messages"
// channel to every connection subscribed to it.
func RegisterMessageActions(reg *action.Registry, bus *pubsub.Bus) error {
	return reg.Register(&action.Action{
		Name:        "message:create",
		Description: "broadcast a chat message on the messages channel",
		Inputs: map[string]action.InputField{
			"body":      {Type: action.TypeString, Required: true},
			"user_name": {Type: action.TypeString, Required: true},
		},
		InputOrder: []string{"body", "user_name"},
		HTTP: &action.HTTPBinding{Route: "/message", Method: "PUT"},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			body, _ := params["body"].(string)
			userName, _ := params["user_name"].(string)

			payload := map[string]any{"body": body, "user_name": userName}
			if err := bus.Broadcast(ctx, "messages", payload, conn.ID); err != nil {
				return nil, err
			}

			return action.Result{"message": payload}, nil
		},
	})
}
