package rail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/guardly/dialograils/internal/metrics"
	"github.com/guardly/dialograils/internal/rules"
)

// ErrActionFailure marks a runtime failure of an external action or LLM
// call. The engine recovers it into the fallback utterance; it is never
// surfaced to the end user as raw error text.
var ErrActionFailure = errors.New("action failure")

// Dispatcher executes a flow's action list strictly in order against
// the turn context.
type Dispatcher struct {
	registry      *Registry
	actionTimeout time.Duration
	logger        *log.Logger
}

// NewDispatcher creates a dispatcher. actionTimeout bounds each
// external action invocation; zero means no per-action deadline beyond
// the caller's context.
func NewDispatcher(registry *Registry, actionTimeout time.Duration, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		registry:      registry,
		actionTimeout: actionTimeout,
		logger:        logger,
	}
}

// Execute runs the flow's actions in order. It returns stopped=true
// when a stop marker was executed, which tells the engine to halt flow
// evaluation for the rest of the turn. An external action error is
// wrapped in ErrActionFailure.
func (d *Dispatcher) Execute(ctx context.Context, rs *rules.RuleSet, flow rules.Flow, turn *TurnContext) (stopped bool, err error) {
	for _, action := range flow.Actions {
		switch action.Kind {
		case rules.ActionSay:
			msg, ok := rs.Message(action.Ref)
			if !ok {
				// Unreachable for validated rule sets.
				return false, fmt.Errorf("%w: flow %q says unknown message %q", ErrActionFailure, flow.Name, action.Ref)
			}
			turn.SetResponse(msg)

		case rules.ActionDo:
			if err := d.invoke(ctx, action.Ref, turn); err != nil {
				metrics.RecordActionFailure(action.Ref)
				return false, err
			}

		case rules.ActionStop:
			return true, nil
		}
	}
	return false, nil
}

// invoke calls a registered external action with a bounded context and
// merges its delta back into the turn.
func (d *Dispatcher) invoke(ctx context.Context, name string, turn *TurnContext) error {
	fn, ok := d.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: action %q is not registered", ErrActionFailure, name)
	}

	if d.actionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.actionTimeout)
		defer cancel()
	}

	delta, err := fn(ctx, turn)
	if err != nil {
		d.logger.Printf("[rail] action %q failed for turn %s: %v", name, turn.TurnID, err)
		return fmt.Errorf("%w: %s: %v", ErrActionFailure, name, err)
	}

	for k, v := range delta {
		turn.Set(k, v)
	}
	return nil
}
