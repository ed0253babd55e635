package actions

import (
	"context"
	"strconv"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/session"
	"github.com/evantahler/bun-actionhero-sub000/internal/sessionmw"
)

// RegisterSessionActions wires session:create and session:destroy
// (spec §8 scenario "User registration & session"): the dispatcher
// already attached a bare session to conn before Run is invoked
// (spec §4.1 item 2), so session:create only needs to authenticate and
// stamp userId onto it.
func RegisterSessionActions(reg *action.Registry, users UserStore, sessions *session.Store) error {
	if err := reg.Register(&action.Action{
		Name:        "session:create",
		Description: "authenticate and attach a user to the current session",
		Inputs: map[string]action.InputField{
			"email":    {Type: action.TypeString, Required: true},
			"password": {Type: action.TypeString, Required: true, Secret: true},
		},
		InputOrder: []string{"email", "password"},
		HTTP: &action.HTTPBinding{Route: "/session", Method: "PUT"},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			email, _ := params["email"].(string)
			password, _ := params["password"].(string)

			u, ok := users.Authenticate(email, password)
			if !ok {
				return nil, actionerr.New(actionerr.ActionValidation, "email or password is incorrect")
			}

			sess, _ := conn.Session()
			// userId is stored as a string: session.Session.UserID only
			// recognizes string/float64, and int64 survives untouched
			// in-memory until the next JSON round trip through Redis.
			data, err := sessions.Update(ctx, sess, map[string]any{"userId": strconv.FormatInt(u.ID, 10)})
			if err != nil {
				return nil, err
			}
			sess.Data = data
			conn.SetSession(sess)

			return action.Result{
				"user":    u,
				"session": map[string]any{"data": data},
			}, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(&action.Action{
		Name:        "session:destroy",
		Description: "destroy the current session",
		HTTP:        &action.HTTPBinding{Route: "/session", Method: "DELETE"},
		Middleware:  []action.Middleware{sessionmw.NewRequired()},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			destroyed, err := sessions.Destroy(ctx, conn.ID)
			if err != nil {
				return nil, err
			}
			return action.Result{"success": destroyed}, nil
		},
	})
}
