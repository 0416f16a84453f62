package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/guardly/dialograils/internal/rules/expr"
)

// FallbackMessageID is the reserved message id used when a turn is
// aborted by a failed external action or LLM call. Rule files may
// override the apology text under this id.
const FallbackMessageID = "error fallback"

//go:embed default_rules.yaml
var defaultRules []byte

// Default returns the built-in rule set, used when no rules file is
// configured. The embedded file is validated by the package tests, so a
// parse failure here is a programming error.
func Default() *RuleSet {
	rs, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("rules: embedded default rule set is invalid: %v", err))
	}
	return rs
}

// LoadFile reads and validates a rule file. Any malformed predicate,
// dangling reference or structural problem is an error: a broken rule
// set must fail to load rather than silently skip rules.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Parse builds a validated RuleSet from YAML rule data.
func Parse(data []byte) (*RuleSet, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	rs := &RuleSet{
		Version:    file.Version,
		Predicates: make(map[string]*expr.Expr),
		Messages:   make(map[string]string),
	}
	if rs.Version == "" {
		rs.Version = "1.0"
	}

	// Intents: unique names, non-empty phrase lists, phrases normalized
	// for case-insensitive substring matching.
	seenIntents := make(map[string]bool)
	for _, spec := range file.Intents {
		if spec.Name == "" {
			return nil, fmt.Errorf("intent with empty name")
		}
		if seenIntents[spec.Name] {
			return nil, fmt.Errorf("duplicate intent %q", spec.Name)
		}
		seenIntents[spec.Name] = true
		if len(spec.Phrases) == 0 {
			return nil, fmt.Errorf("intent %q has no trigger phrases", spec.Name)
		}
		phrases := make([]string, len(spec.Phrases))
		for i, p := range spec.Phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				return nil, fmt.Errorf("intent %q has an empty trigger phrase", spec.Name)
			}
			phrases[i] = p
		}
		rs.Intents = append(rs.Intents, Intent{Name: spec.Name, Phrases: phrases})
	}

	// Predicates compile eagerly; a malformed expression is fatal.
	for name, source := range file.Predicates {
		compiled, err := expr.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("predicate %q: %w", name, err)
		}
		rs.Predicates[name] = compiled
	}

	for id, text := range file.Messages {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("message %q is empty", id)
		}
		rs.Messages[id] = text
	}

	seenFlows := make(map[string]bool)
	for i, spec := range file.Flows {
		flow, err := rs.compileFlow(i, spec, seenIntents)
		if err != nil {
			return nil, err
		}
		if seenFlows[flow.Name] {
			return nil, fmt.Errorf("duplicate flow %q", flow.Name)
		}
		seenFlows[flow.Name] = true
		switch flow.Event {
		case EventUser:
			rs.UserFlows = append(rs.UserFlows, flow)
		case EventBot:
			rs.BotFlows = append(rs.BotFlows, flow)
		}
	}

	return rs, nil
}

func (rs *RuleSet) compileFlow(index int, spec flowSpec, intents map[string]bool) (Flow, error) {
	name := spec.Name
	if name == "" {
		return Flow{}, fmt.Errorf("flow #%d has no name", index+1)
	}

	event := Event(spec.On)
	if spec.On == "" {
		event = EventUser
	}
	if event != EventUser && event != EventBot {
		return Flow{}, fmt.Errorf("flow %q: unknown event %q (want user or bot)", name, spec.On)
	}

	if len(spec.When) == 0 {
		return Flow{}, fmt.Errorf("flow %q has no trigger clauses", name)
	}
	if len(spec.Do) == 0 {
		return Flow{}, fmt.Errorf("flow %q has no actions", name)
	}

	flow := Flow{Name: name, Event: event}
	for _, c := range spec.When {
		clause := Clause{Kind: c.Kind, Ref: c.Val}
		switch c.Kind {
		case ClauseIntent:
			if event != EventUser {
				return Flow{}, fmt.Errorf("flow %q: intent triggers only apply to user flows", name)
			}
			if !intents[c.Val] {
				return Flow{}, fmt.Errorf("flow %q references unknown intent %q", name, c.Val)
			}
		case ClausePredicate:
			if _, ok := rs.Predicates[c.Val]; !ok {
				return Flow{}, fmt.Errorf("flow %q references unknown predicate %q", name, c.Val)
			}
		case ClauseExpr:
			compiled, err := expr.Parse(c.Val)
			if err != nil {
				return Flow{}, fmt.Errorf("flow %q: %w", name, err)
			}
			clause.Expr = compiled
		case ClauseAny:
			if event != EventUser {
				return Flow{}, fmt.Errorf("flow %q: the wildcard trigger only applies to user flows", name)
			}
		}
		flow.Clauses = append(flow.Clauses, clause)
	}

	for _, a := range spec.Do {
		action := Action{Kind: a.Kind, Ref: a.Val}
		if a.Kind == ActionSay {
			if _, ok := rs.Messages[a.Val]; !ok {
				return Flow{}, fmt.Errorf("flow %q says unknown message %q", name, a.Val)
			}
		}
		flow.Actions = append(flow.Actions, action)
	}

	return flow, nil
}
