package action

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
)

// validate is shared across calls; go-playground/validator's Validate
// is safe for concurrent use once built, same lifecycle as the
// package-level validators used via gin's binding engine in the
// teacher repo.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateAndCoerce applies an Action's input schema to rawParams per
// spec §4.1 item 4: coerce strings to numbers/booleans, apply defaults,
// enforce min/max/length/pattern, and fail with a typed error carrying
// the offending field (value redacted if secret).
func ValidateAndCoerce(a *Action, rawParams map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(rawParams))
	for k, v := range rawParams {
		out[k] = v
	}

	for _, name := range inputOrder(a) {
		field := a.Inputs[name]
		raw, present := out[name]

		if !present || raw == nil {
			if field.Default != nil {
				out[name] = field.Default
				raw, present = field.Default, true
			} else if field.Required {
				return nil, actionerr.New(actionerr.ActionParamRequired,
					fmt.Sprintf("%s is required", name)).WithField(name, nil)
			} else {
				continue
			}
		}

		coerced, err := coerce(field.Type, raw)
		if err != nil {
			return nil, redactedValidationError(actionerr.ActionParamFormatting,
				fmt.Sprintf("%s must be a valid %s", name, field.Type), name, raw, field.Secret)
		}
		out[name] = coerced

		if err := enforceConstraints(name, field, coerced); err != nil {
			return nil, redactedValidationError(actionerr.ActionParamValidation,
				err.Error(), name, coerced, field.Secret)
		}
		_ = present
	}

	return out, nil
}

// inputOrder returns every name in a.Inputs in a deterministic order:
// a.InputOrder first, then any remaining names sorted, so two requests
// invalid in the same fields always fail on the same field first.
func inputOrder(a *Action) []string {
	seen := make(map[string]bool, len(a.InputOrder))
	out := make([]string, 0, len(a.Inputs))
	for _, name := range a.InputOrder {
		if _, ok := a.Inputs[name]; !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}

	var rest []string
	for name := range a.Inputs {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func redactedValidationError(kind actionerr.Kind, msg, key string, value any, secret bool) *actionerr.Error {
	v := value
	if secret {
		v = "[[secret]]"
	}
	return actionerr.New(kind, msg).WithField(key, v)
}

func coerce(t FieldType, v any) (any, error) {
	switch t {
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		default:
			return fmt.Sprintf("%v", s), nil
		}
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, err
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to number", v)
		}
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, err
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to boolean", v)
		}
	case TypeList:
		switch l := v.(type) {
		case []any:
			return l, nil
		default:
			return []any{v}, nil
		}
	default:
		return v, nil
	}
}

func enforceConstraints(name string, field InputField, v any) error {
	if field.Pattern != "" {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be a string to match pattern", name)
		}
		re, err := regexp.Compile(field.Pattern)
		if err != nil {
			return fmt.Errorf("%s has an invalid pattern configured", name)
		}
		if !re.MatchString(s) {
			return fmt.Errorf("%s does not match the required pattern", name)
		}
	}

	if field.Min != nil || field.Max != nil {
		switch t := v.(type) {
		case string:
			l := float64(len(t))
			if field.Min != nil && l < *field.Min {
				return fmt.Errorf("%s must be at least %v characters", name, *field.Min)
			}
			if field.Max != nil && l > *field.Max {
				return fmt.Errorf("%s must be at most %v characters", name, *field.Max)
			}
		case float64:
			if field.Min != nil {
				if err := validate.Var(t, fmt.Sprintf("min=%v", *field.Min)); err != nil {
					return fmt.Errorf("%s must be at least %v", name, *field.Min)
				}
			}
			if field.Max != nil {
				if err := validate.Var(t, fmt.Sprintf("max=%v", *field.Max)); err != nil {
					return fmt.Errorf("%s must be at most %v", name, *field.Max)
				}
			}
		case []any:
			l := float64(len(t))
			if field.Min != nil && l < *field.Min {
				return fmt.Errorf("%s must have at least %v items", name, *field.Min)
			}
			if field.Max != nil && l > *field.Max {
				return fmt.Errorf("%s must have at most %v items", name, *field.Max)
			}
		}
	}

	return nil
}
