package rail

import (
	"context"
	"fmt"
	"sort"
)

// Delta is the set of turn variable updates an external action wants
// merged back into the turn context.
type Delta map[string]string

// ActionFunc is an external side-effecting action invoked by a flow's
// "do" step. It receives the turn context read-only and returns the
// variable updates to apply. It must honor ctx cancellation; a returned
// error aborts the turn via the dispatcher's failure policy.
type ActionFunc func(ctx context.Context, turn *TurnContext) (Delta, error)

// Registry maps external action names to their implementations. All
// registrations happen during startup, before the engine accepts
// turns; afterwards the registry is read-only and safe for concurrent
// lookups.
type Registry struct {
	actions map[string]ActionFunc
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]ActionFunc)}
}

// Register adds an action under the given name.
func (r *Registry) Register(name string, fn ActionFunc) error {
	if name == "" {
		return fmt.Errorf("action name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("action %q: nil function", name)
	}
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	r.actions[name] = fn
	return nil
}

// Get looks up an action by name.
func (r *Registry) Get(name string) (ActionFunc, bool) {
	fn, ok := r.actions[name]
	return fn, ok
}

// Verify checks that every name is registered. The engine calls this at
// startup so a rule set referencing a missing action fails to load
// instead of failing mid-turn.
func (r *Registry) Verify(names []string) error {
	var missing []string
	for _, name := range names {
		if _, ok := r.actions[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("rule set references unregistered actions: %v", missing)
	}
	return nil
}
