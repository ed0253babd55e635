package actions

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

func minLen(n float64) *float64 { return &n }

// RegisterUserActions wires user:create (spec §8 scenario "User
// registration & session"): PUT /user, name/email/password in, the
// created user (sans password) out.
func RegisterUserActions(reg *action.Registry, users UserStore) error {
	return reg.Register(&action.Action{
		Name:        "user:create",
		Description: "register a new user",
		Inputs: map[string]action.InputField{
			"name":     {Type: action.TypeString, Required: true, Min: minLen(3)},
			"email":    {Type: action.TypeString, Required: true, Min: minLen(3)},
			"password": {Type: action.TypeString, Required: true, Min: minLen(6), Secret: true},
		},
		InputOrder: []string{"name", "email", "password"},
		HTTP: &action.HTTPBinding{Route: "/user", Method: "PUT"},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (action.Result, error) {
			name, _ := params["name"].(string)
			email, _ := params["email"].(string)
			password, _ := params["password"].(string)

			u, err := users.Create(name, email, password)
			if err != nil {
				return nil, actionerr.New(actionerr.ActionValidation, err.Error()).WithField("email", email)
			}
			return action.Result{"user": u}, nil
		},
	})
}
