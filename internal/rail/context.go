// Package rail contains the dialogue policy engine: the per-turn
// context, the flow engine that evaluates declared flows against turn
// events, and the dispatcher that executes flow actions.
//
// Flow evaluation contract: flows run in declaration order, every flow
// whose trigger clauses all hold executes, and a "stop" action aborts
// evaluation of all remaining flows for the turn. Declaration order is
// the sole precedence mechanism, so reordering a rule file changes
// observable behavior.
package rail

import (
	"time"

	"github.com/google/uuid"

	"github.com/guardly/dialograils/internal/rules"
)

// Well-known turn variables. Rule file expressions reference these by
// the same names.
const (
	VarUserMessage = "$user_message"
	VarResponse    = "$response"
)

// FiredFlow records one flow that executed during a turn.
type FiredFlow struct {
	Name  string      `json:"name"`
	Event rules.Event `json:"event"`
}

// TurnContext is the mutable state of one turn: a variable map shared
// by matcher, evaluator and dispatcher, plus a trace of fired flows.
// It is created at turn start, owned by a single goroutine for the
// duration of the turn, and discarded once the turn's output is
// produced. It is never shared across turns or conversations.
type TurnContext struct {
	TurnID    string
	StartedAt time.Time
	Vars      map[string]string
	Fired     []FiredFlow
}

// NewTurnContext creates the context for one incoming user message.
func NewTurnContext(userMessage string) *TurnContext {
	return &TurnContext{
		TurnID:    uuid.New().String(),
		StartedAt: time.Now(),
		Vars: map[string]string{
			VarUserMessage: userMessage,
		},
	}
}

// Get returns a turn variable and whether it is set.
func (tc *TurnContext) Get(name string) (string, bool) {
	v, ok := tc.Vars[name]
	return v, ok
}

// Set assigns a turn variable.
func (tc *TurnContext) Set(name, value string) {
	tc.Vars[name] = value
}

// UserMessage returns the raw user message for this turn.
func (tc *TurnContext) UserMessage() string {
	return tc.Vars[VarUserMessage]
}

// Response returns the candidate bot response, if one has been
// produced yet.
func (tc *TurnContext) Response() (string, bool) {
	v, ok := tc.Vars[VarResponse]
	return v, ok
}

// SetResponse replaces the candidate bot response.
func (tc *TurnContext) SetResponse(response string) {
	tc.Vars[VarResponse] = response
}

func (tc *TurnContext) recordFired(flow rules.Flow) {
	tc.Fired = append(tc.Fired, FiredFlow{Name: flow.Name, Event: flow.Event})
}

// FiredNames returns the names of all flows that executed, in order.
func (tc *TurnContext) FiredNames() []string {
	names := make([]string, len(tc.Fired))
	for i, f := range tc.Fired {
		names[i] = f.Name
	}
	return names
}
