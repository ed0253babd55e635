// Package actionerr defines the typed error taxonomy shared by every
// transport (HTTP, WebSocket, job runtime). A Kind maps to exactly one
// HTTP status code, per spec §7.
package actionerr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is a tagged error kind drawn from the fixed taxonomy.
type Kind string

const (
	ServerInitialization Kind = "SERVER_INITIALIZATION"
	ServerStart          Kind = "SERVER_START"
	ServerStop           Kind = "SERVER_STOP"

	ConfigError Kind = "CONFIG_ERROR"

	InitializerValidation Kind = "INITIALIZER_VALIDATION"
	ActionValidation      Kind = "ACTION_VALIDATION"
	TaskValidation        Kind = "TASK_VALIDATION"

	SessionNotFound Kind = "SESSION_NOT_FOUND"

	ActionNotFound Kind = "ACTION_NOT_FOUND"

	ActionParamRequired   Kind = "ACTION_PARAM_REQUIRED"
	ActionParamValidation Kind = "ACTION_PARAM_VALIDATION"
	ActionParamFormatting Kind = "ACTION_PARAM_FORMATTING"

	ActionRun Kind = "ACTION_RUN"

	ConnectionTypeNotFound         Kind = "CONNECTION_TYPE_NOT_FOUND"
	ConnectionNotSubscribed        Kind = "CONNECTION_NOT_SUBSCRIBED"
	ConnectionChannelAuthorization Kind = "CONNECTION_CHANNEL_AUTHORIZATION"
	ConnectionRateLimited          Kind = "CONNECTION_RATE_LIMITED"
	ConnectionTaskDefinition       Kind = "CONNECTION_TASK_DEFINITION"
)

// statusByKind is the Kind -> HTTP status mapping from spec §7.
var statusByKind = map[Kind]int{
	ServerInitialization: http.StatusInternalServerError,
	ServerStart:          http.StatusInternalServerError,
	ServerStop:           http.StatusInternalServerError,

	ConfigError: http.StatusInternalServerError,

	InitializerValidation: http.StatusInternalServerError,
	ActionValidation:      http.StatusInternalServerError,
	TaskValidation:        http.StatusInternalServerError,

	SessionNotFound: http.StatusUnauthorized,

	ActionNotFound: http.StatusNotFound,

	ActionParamRequired:   http.StatusNotAcceptable,
	ActionParamValidation: http.StatusNotAcceptable,
	ActionParamFormatting: http.StatusNotAcceptable,

	ActionRun: http.StatusInternalServerError,

	ConnectionTypeNotFound:         http.StatusNotAcceptable,
	ConnectionNotSubscribed:        http.StatusNotAcceptable,
	ConnectionChannelAuthorization: http.StatusUnauthorized,
	ConnectionRateLimited:          http.StatusTooManyRequests,
	ConnectionTaskDefinition:       http.StatusInternalServerError,
}

// Error is the typed error passed through middleware chains and the
// transport layer. It never needs to be wrapped twice: Wrap returns its
// argument unchanged if already an *Error.
type Error struct {
	Kind    Kind
	Message string
	Key     string // offending field name, when applicable
	Value   any    // offending value, redacted by the caller when secret
	Cause   error  // underlying error, for stack preservation in logs

	// RetryAfter is populated only for ConnectionRateLimited.
	RetryAfter time.Duration

	occurredAt time.Time
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Kind, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for this error's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// OccurredAt is the time the error was constructed, used for the
// response envelope's timestamp field.
func (e *Error) OccurredAt() time.Time { return e.occurredAt }

// New constructs a typed error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, occurredAt: time.Now()}
}

// Newf constructs a typed error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), occurredAt: time.Now()}
}

// WithField attaches the offending field name/value to a copy of e.
func (e *Error) WithField(key string, value any) *Error {
	cp := *e
	cp.Key = key
	cp.Value = value
	return &cp
}

// WithCause attaches an underlying cause to a copy of e.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithRetryAfter attaches a Retry-After duration to a copy of e (used by
// ConnectionRateLimited).
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Wrap converts any error into a typed ACTION_RUN error unless it is
// already typed, per spec §4.1 item 9 and §7 propagation rules.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := As(err); ok {
		return te
	}
	return &Error{
		Kind:       ActionRun,
		Message:    err.Error(),
		Cause:      err,
		occurredAt: time.Now(),
	}
}
