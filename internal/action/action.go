// Package action implements the Action Registry & Dispatcher of spec
// §3/§4.1: a single handler contract invoked uniformly from HTTP,
// WebSocket, and the job runtime, with shared middleware, typed
// parameter validation, and redaction-aware logging.
package action

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// FieldType is the declared type of an input schema field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "boolean"
	TypeList   FieldType = "list"
	TypeObject FieldType = "object"
	TypeFile   FieldType = "file"
)

// InputField declares a single parameter in an Action's input schema
// (spec §3 Action: "a mapping of parameter name -> type, constraints,
// default, secret flag, description").
type InputField struct {
	Type        FieldType
	Required    bool
	Default     any
	Secret      bool
	Description string

	Min     *float64 // numeric minimum, or minimum length for strings/lists
	Max     *float64
	Pattern string // regex, for TypeString
}

// WithSecret marks the field secret, returning a copy. Matches the
// builder-flag shape spec §9 calls for instead of runtime prototype
// augmentation.
func (f InputField) WithSecret() InputField {
	f.Secret = true
	return f
}

// HTTPBinding declares the optional HTTP route for an action.
type HTTPBinding struct {
	Route  string // e.g. "/users/:id"
	Method string // e.g. "GET"
}

// TaskBinding declares the optional job-queue binding for an action.
type TaskBinding struct {
	Queue           string
	FrequencyMillis int64 // > 0 for recurring tasks; requires Queue non-empty
}

// MCPExposure marks whether/how an action is exposed to the (out of
// scope) MCP bridge. Kept as data only, per SPEC_FULL.md §D.3, so a
// future bridge can filter the registry without reaching into it.
type MCPExposure struct {
	Exposed  bool
	ReadOnly bool
}

// Result is the sum of a successful action's response and any
// replacement middleware hooks produced.
type Result map[string]any

// Run is the handler body: validated params in, a structured result or
// a typed error out.
type Run func(ctx context.Context, params map[string]any, conn *connection.Connection) (Result, error)

// Action is the immutable, registered unit of dispatch.
type Action struct {
	Name        string
	Description string

	Inputs map[string]InputField

	// InputOrder declares the validation order for Inputs (spec §8
	// testable property #2: a request invalid in several fields must
	// deterministically report the first one in declaration order, the
	// way the original's object-keyed input schema does). Names absent
	// from Inputs are ignored; Inputs names absent from InputOrder are
	// still validated, appended in sorted order after it.
	InputOrder []string

	HTTP *HTTPBinding
	Task *TaskBinding
	MCP  MCPExposure

	RateLimited bool // per-action rate-limit toggle; carried as data only, neither the dispatcher nor the rate limiter reads it

	Middleware []Middleware

	Run Run
}

// Validate enforces the Action invariants of spec §3: a recurring
// frequency requires a declared queue.
func (a *Action) Validate() error {
	if a.Task != nil && a.Task.FrequencyMillis > 0 && a.Task.Queue == "" {
		return &validationError{msg: "action " + a.Name + " declares a recurring frequency but no queue"}
	}
	return nil
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
