// Package rules defines the declarative rule set driving the dialogue
// policy engine: intents (trigger phrases), named predicates, canned
// bot messages and flows. Rule sets are loaded from YAML files at
// startup, validated eagerly, and immutable afterwards; concurrent
// turns share a loaded set without locking.
package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/guardly/dialograils/internal/rules/expr"
)

// Event says which half of a turn a flow applies to.
type Event string

const (
	// EventUser flows run against the incoming user message.
	EventUser Event = "user"
	// EventBot flows run against the candidate bot response before it
	// is released.
	EventBot Event = "bot"
)

// ClauseKind identifies what a trigger clause tests.
type ClauseKind string

const (
	ClauseIntent    ClauseKind = "intent"
	ClausePredicate ClauseKind = "predicate"
	ClauseExpr      ClauseKind = "expr"
	// ClauseAny is the wildcard "*": any user message.
	ClauseAny ClauseKind = "any"
)

// ActionKind identifies what an action does.
type ActionKind string

const (
	// ActionSay replaces the candidate response with a canned message.
	ActionSay ActionKind = "say"
	// ActionDo invokes a registered external action by name.
	ActionDo ActionKind = "do"
	// ActionStop halts flow evaluation for the current turn.
	ActionStop ActionKind = "stop"
)

// Intent is a named category of user utterance defined by trigger
// phrases. Phrases are matched case-insensitively as substrings of the
// normalized input.
type Intent struct {
	Name    string
	Phrases []string
}

// Clause is a single trigger condition of a flow. All clauses of a flow
// must hold for the flow to fire.
type Clause struct {
	Kind ClauseKind
	// Ref is the intent or predicate name for ClauseIntent and
	// ClausePredicate.
	Ref string
	// Expr is the compiled expression for ClauseExpr.
	Expr *expr.Expr
}

// Action is one step of a flow's action list.
type Action struct {
	Kind ActionKind
	// Ref is the message id for ActionSay or the external action name
	// for ActionDo.
	Ref string
}

// Flow is an ordered rule: trigger clauses plus an action sequence.
// Flows are evaluated strictly in declaration order; every flow whose
// full clause sequence holds fires, and a stop action skips the rest.
// Reordering flows changes observable behavior. Declaration order is
// the contract, there is no specificity scoring.
type Flow struct {
	Name    string
	Event   Event
	Clauses []Clause
	Actions []Action
}

// Stops reports whether the flow's action list contains a stop marker.
func (f *Flow) Stops() bool {
	for _, a := range f.Actions {
		if a.Kind == ActionStop {
			return true
		}
	}
	return false
}

// RuleSet is a fully validated, immutable rule set.
type RuleSet struct {
	Version    string
	Intents    []Intent
	Predicates map[string]*expr.Expr
	Messages   map[string]string
	UserFlows  []Flow
	BotFlows   []Flow
}

// Message looks up a canned bot message by id.
func (rs *RuleSet) Message(id string) (string, bool) {
	m, ok := rs.Messages[id]
	return m, ok
}

// ExternalActionNames returns the distinct external action names the
// rule set references, so callers can verify every one is registered
// before accepting traffic.
func (rs *RuleSet) ExternalActionNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, flows := range [][]Flow{rs.UserFlows, rs.BotFlows} {
		for _, f := range flows {
			for _, a := range f.Actions {
				if a.Kind == ActionDo && !seen[a.Ref] {
					seen[a.Ref] = true
					names = append(names, a.Ref)
				}
			}
		}
	}
	return names
}

// --- YAML document structures ---

// ruleFile mirrors the on-disk YAML layout before validation.
type ruleFile struct {
	Version    string            `yaml:"version"`
	Intents    []intentSpec      `yaml:"intents"`
	Predicates map[string]string `yaml:"predicates"`
	Messages   map[string]string `yaml:"messages"`
	Flows      []flowSpec        `yaml:"flows"`
}

type intentSpec struct {
	Name    string   `yaml:"name"`
	Phrases []string `yaml:"phrases"`
}

type flowSpec struct {
	Name string       `yaml:"name"`
	On   string       `yaml:"on"`
	When []clauseSpec `yaml:"when"`
	Do   []actionSpec `yaml:"do"`
}

// clauseSpec accepts either the scalar wildcard "*" or a single-key
// mapping: {intent: name}, {predicate: name} or {expr: "..."}.
type clauseSpec struct {
	Kind ClauseKind
	Val  string
}

func (c *clauseSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value != "*" {
			return fmt.Errorf("line %d: unknown trigger %q (only \"*\" may appear bare)", node.Line, node.Value)
		}
		c.Kind = ClauseAny
		return nil
	}
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: trigger clause must be \"*\" or a single intent/predicate/expr entry", node.Line)
	}
	key, val := node.Content[0].Value, node.Content[1].Value
	switch key {
	case "intent":
		c.Kind = ClauseIntent
	case "predicate":
		c.Kind = ClausePredicate
	case "expr":
		c.Kind = ClauseExpr
	default:
		return fmt.Errorf("line %d: unknown trigger kind %q", node.Line, key)
	}
	c.Val = val
	return nil
}

// actionSpec accepts the scalar "stop" or a single-key mapping:
// {say: message-id} or {do: action-name}.
type actionSpec struct {
	Kind ActionKind
	Val  string
}

func (a *actionSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value != string(ActionStop) {
			return fmt.Errorf("line %d: unknown action %q (only \"stop\" may appear bare)", node.Line, node.Value)
		}
		a.Kind = ActionStop
		return nil
	}
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: action must be \"stop\" or a single say/do entry", node.Line)
	}
	key, val := node.Content[0].Value, node.Content[1].Value
	switch key {
	case "say":
		a.Kind = ActionSay
	case "do":
		a.Kind = ActionDo
	default:
		return fmt.Errorf("line %d: unknown action kind %q", node.Line, key)
	}
	a.Val = val
	return nil
}
