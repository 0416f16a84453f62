package rail

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/guardly/dialograils/internal/matcher"
	"github.com/guardly/dialograils/internal/metrics"
	"github.com/guardly/dialograils/internal/provider"
	"github.com/guardly/dialograils/internal/rules"
)

// defaultApology is used when the rule set does not define a message
// under rules.FallbackMessageID.
const defaultApology = "I'm sorry, I encountered an error while processing your request. Please try again."

// Turn decisions, also used as metric labels.
const (
	DecisionBlocked   = "blocked"   // a user flow stopped the turn with a canned response
	DecisionFallback  = "fallback"  // no flow intervened, the LLM answer passed through
	DecisionRewritten = "rewritten" // a bot flow rewrote or annotated the response
	DecisionPassed    = "passed"    // a user flow produced the response without stopping
	DecisionRecovered = "recovered" // the turn aborted into the fallback apology
)

// Config holds engine tuning.
type Config struct {
	// GenerateTimeout bounds each LLM fallback call.
	GenerateTimeout time.Duration
	// ActionTimeout bounds each external action invocation.
	ActionTimeout time.Duration
	// GenerateOptions are passed to the provider on fallback calls.
	GenerateOptions provider.Options
}

// Result is the outcome of one turn.
type Result struct {
	TurnID   string      `json:"turn_id"`
	Response string      `json:"response"`
	Decision string      `json:"decision"`
	Fired    []FiredFlow `json:"flows_fired,omitempty"`
	Blocked  bool        `json:"blocked"`
}

// Engine evaluates declared flows against turn events. Rule data is
// read through the store so concurrent turns share immutable sets
// without locking; each turn works against the one set it picked up at
// turn start.
type Engine struct {
	store      *rules.Store
	provider   provider.Provider
	dispatcher *Dispatcher
	logger     *log.Logger
	config     Config
}

// NewEngine wires the engine. It verifies that every external action
// the current rule set references is registered (a dangling action
// name is a startup error, not a mid-turn surprise) and installs the
// same check as the store's reload validator.
func NewEngine(store *rules.Store, prov provider.Provider, registry *Registry, config Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}
	validate := func(rs *rules.RuleSet) error {
		return registry.Verify(rs.ExternalActionNames())
	}
	if err := validate(store.Current()); err != nil {
		return nil, err
	}
	store.Validate = validate

	return &Engine{
		store:      store,
		provider:   prov,
		dispatcher: NewDispatcher(registry, config.ActionTimeout, logger),
		logger:     logger,
		config:     config,
	}, nil
}

// RunTurn processes one user message into one bot response. Runtime
// failures of external actions or the LLM are recovered into the
// fallback apology; the only error RunTurn returns is the caller's own
// context cancellation.
func (e *Engine) RunTurn(ctx context.Context, userMessage string) (*Result, error) {
	metrics.TurnsTotal.Inc()

	rs := e.store.Current()
	turn := NewTurnContext(userMessage)

	// User event: match intents, evaluate user flows in declaration
	// order.
	matched := matcher.Match(userMessage, rs.Intents)
	stopped, err := e.runEvent(ctx, rs, rs.UserFlows, matched, turn)
	if err != nil {
		return e.recover(ctx, rs, turn, err)
	}
	if stopped {
		return e.finish(turn, DecisionBlocked), nil
	}

	// No flow produced a response: forward the raw message to the LLM.
	llmCalled := false
	if _, ok := turn.Response(); !ok {
		llmCalled = true
		out, genErr := e.generate(ctx, userMessage)
		if genErr != nil {
			return e.recover(ctx, rs, turn, fmt.Errorf("%w: generate: %v", ErrActionFailure, genErr))
		}
		turn.SetResponse(out)
	}

	// Bot event: the candidate response is ready, run bot flows. These
	// rewrite or annotate rather than block, so a stop here just ends
	// evaluation early.
	botStart := len(turn.Fired)
	if _, err := e.runEvent(ctx, rs, rs.BotFlows, nil, turn); err != nil {
		return e.recover(ctx, rs, turn, err)
	}

	decision := DecisionPassed
	switch {
	case len(turn.Fired) > botStart:
		decision = DecisionRewritten
	case llmCalled:
		decision = DecisionFallback
	}
	return e.finish(turn, decision), nil
}

// runEvent evaluates flows in declaration order. Every flow whose
// clause sequence holds executes; a stop action aborts the remainder.
func (e *Engine) runEvent(ctx context.Context, rs *rules.RuleSet, flows []rules.Flow, matched map[string]bool, turn *TurnContext) (bool, error) {
	for _, flow := range flows {
		if !flowFires(rs, flow, matched, turn) {
			continue
		}
		turn.recordFired(flow)
		metrics.RecordFlowFired(flow.Name)

		stopped, err := e.dispatcher.Execute(ctx, rs, flow, turn)
		if err != nil {
			return false, err
		}
		if stopped {
			return true, nil
		}
	}
	return false, nil
}

// flowFires checks the flow's trigger clauses conjunctively.
func flowFires(rs *rules.RuleSet, flow rules.Flow, matched map[string]bool, turn *TurnContext) bool {
	for _, clause := range flow.Clauses {
		switch clause.Kind {
		case rules.ClauseAny:
			// Matches any user message.
		case rules.ClauseIntent:
			if !matched[clause.Ref] {
				return false
			}
		case rules.ClausePredicate:
			if !rs.Predicates[clause.Ref].Evaluate(turn.Vars) {
				return false
			}
		case rules.ClauseExpr:
			if !clause.Expr.Evaluate(turn.Vars) {
				return false
			}
		}
	}
	return true
}

func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	if e.config.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.GenerateTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := e.provider.Generate(ctx, prompt, e.config.GenerateOptions)
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	return out, err
}

// recover turns a runtime failure into the bounded fallback apology.
// Caller-initiated cancellation is the one failure that propagates: the
// caller is gone, there is nobody to apologize to.
func (e *Engine) recover(ctx context.Context, rs *rules.RuleSet, turn *TurnContext, cause error) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	e.logger.Printf("[rail] turn %s aborted: %v", turn.TurnID, cause)
	msg, ok := rs.Message(rules.FallbackMessageID)
	if !ok {
		msg = defaultApology
	}
	turn.SetResponse(msg)
	return e.finish(turn, DecisionRecovered), nil
}

func (e *Engine) finish(turn *TurnContext, decision string) *Result {
	metrics.RecordDecision(decision)
	response, _ := turn.Response()
	return &Result{
		TurnID:   turn.TurnID,
		Response: response,
		Decision: decision,
		Fired:    turn.Fired,
		Blocked:  decision == DecisionBlocked,
	}
}
