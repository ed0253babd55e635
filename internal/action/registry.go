package action

import "fmt"

// Registry holds all registered actions, keyed by name. Registration
// happens once at startup; the registry is read-mostly thereafter
// (spec §5 "Shared resources").
type Registry struct {
	byName map[string]*Action
	names  []string // registration order, for deterministic iteration (e.g. recurring task startup)
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Action)}
}

// Register adds action to the registry. Duplicate names are rejected,
// and the Action's own invariants (spec §3) are checked.
func (r *Registry) Register(a *Action) error {
	if a.Name == "" {
		return fmt.Errorf("action registration: name must not be empty")
	}
	if _, exists := r.byName[a.Name]; exists {
		return fmt.Errorf("action registration: duplicate action name %q", a.Name)
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("action registration: %w", err)
	}
	r.byName[a.Name] = a
	r.names = append(r.names, a.Name)
	return nil
}

// Lookup returns the action with the given name, if registered.
func (r *Registry) Lookup(name string) (*Action, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// All returns every registered action in registration order.
func (r *Registry) All() []*Action {
	out := make([]*Action, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

// Recurring returns every action with a positive task frequency.
func (r *Registry) Recurring() []*Action {
	var out []*Action
	for _, n := range r.names {
		a := r.byName[n]
		if a.Task != nil && a.Task.FrequencyMillis > 0 {
			out = append(out, a)
		}
	}
	return out
}
