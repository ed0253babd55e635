package actions

import (
	"context"
	"fmt"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/jobs"
)

// RegisterFanOutChildAction wires fanout:child (spec §8 scenario
// "Fan-out aggregation"): a queue-only action, invoked once per item,
// that reports back to the fan-out it belongs to via the worker's own
// success/failure hooks (internal/jobs/worker.go), not from here.
func RegisterFanOutChildAction(reg *action.Registry) error {
	return reg.Register(&action.Action{
		Name:        "fanout:child",
		Description: "process a single fan-out item",
		Inputs: map[string]action.InputField{
			"itemId": {Type: action.TypeString, Required: true},
		},
		InputOrder: []string{"itemId"},
		Task:       &action.TaskBinding{Queue: "default"},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			itemID, _ := params["itemId"].(string)
			return action.Result{"processed": itemID}, nil
		},
	})
}

// RegisterFanOutDemoActions wires fanOut and fanOutStatus (spec §8
// scenario "Fan-out aggregation"): HTTP entry points onto
// jobs.FanOutManager so the demo is reachable without a worker CLI.
func RegisterFanOutDemoActions(reg *action.Registry, mgr *jobs.FanOutManager) error {
	if err := reg.Register(&action.Action{
		Name:        "fanOut",
		Description: "enqueue a batch of child jobs under one fan-out id",
		Inputs: map[string]action.InputField{
			"action": {Type: action.TypeString, Required: true, Default: "fanout:child"},
			"items":  {Type: action.TypeList, Required: true},
			"queue":  {Type: action.TypeString, Default: "default"},
		},
		InputOrder: []string{"action", "items", "queue"},
		HTTP: &action.HTTPBinding{Route: "/fanout", Method: "PUT"},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			actionName, _ := params["action"].(string)
			queue, _ := params["queue"].(string)
			rawItems, _ := params["items"].([]any)

			inputs := make([]map[string]any, 0, len(rawItems))
			for i, raw := range rawItems {
				item, ok := raw.(map[string]any)
				if !ok {
					return nil, actionerr.New(actionerr.ActionParamValidation,
						fmt.Sprintf("items[%d] must be an object", i)).WithField("items", raw)
				}
				inputs = append(inputs, item)
			}

			result, err := mgr.FanOut(ctx, actionName, inputs, queue)
			if err != nil {
				return nil, err
			}
			return action.Result{
				"fanOutId": result.FanOutID,
				"enqueued": result.Enqueued,
				"errors":   result.Errors,
			}, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(&action.Action{
		Name:        "fanOutStatus",
		Description: "read the aggregate status of a fan-out",
		Inputs: map[string]action.InputField{
			"fanOutId": {Type: action.TypeString, Required: true},
		},
		InputOrder: []string{"fanOutId"},
		HTTP: &action.HTTPBinding{Route: "/fanout/:fanOutId", Method: "GET"},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			fanOutID, _ := params["fanOutId"].(string)
			status, err := mgr.Status(ctx, fanOutID)
			if err != nil {
				return nil, err
			}
			return action.Result{
				"total":     status.Total,
				"completed": status.Completed,
				"failed":    status.Failed,
				"results":   status.Results,
				"errors":    status.Errors,
			}, nil
		},
	})
}
