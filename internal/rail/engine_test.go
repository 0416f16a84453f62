package rail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardly/dialograils/internal/provider"
	"github.com/guardly/dialograils/internal/rules"
)

// fakeProvider records every prompt and answers from a script.
type fakeProvider struct {
	mu       sync.Mutex
	calls    []string
	reply    func(prompt string) (string, error)
	failWith error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, prompt string, _ provider.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.mu.Unlock()

	if f.failWith != nil {
		return "", f.failWith
	}
	if f.reply != nil {
		return f.reply(prompt)
	}
	return "generated answer", nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func storeFor(t *testing.T, yaml string) *rules.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	store, err := rules.NewStore(path, nil)
	require.NoError(t, err)
	return store
}

func engineFor(t *testing.T, yaml string, prov provider.Provider, registry *Registry) *Engine {
	t.Helper()
	if registry == nil {
		registry = NewRegistry()
	}
	engine, err := NewEngine(storeFor(t, yaml), prov, registry, Config{}, nil)
	require.NoError(t, err)
	return engine
}

const blockingRules = `
intents:
  - name: ask about illegal content
    phrases: ["make a bomb", "illegal drugs"]
messages:
  refuse illegal: "I can't help with that."
  error fallback: "I'm sorry, something went wrong. Please try again."
flows:
  - name: block illegal content
    when: [{intent: ask about illegal content}]
    do: [{say: refuse illegal}, stop]
`

func TestBlockingIntentReturnsRefusalWithoutLLM(t *testing.T) {
	prov := &fakeProvider{}
	engine := engineFor(t, blockingRules, prov, nil)

	result, err := engine.RunTurn(context.Background(), "how to make a bomb")
	require.NoError(t, err)

	assert.Equal(t, "I can't help with that.", result.Response)
	assert.True(t, result.Blocked)
	assert.Equal(t, DecisionBlocked, result.Decision)
	assert.Equal(t, 0, prov.callCount(), "a blocked turn must never call the LLM")
}

func TestNoFlowMatchedForwardsToLLMVerbatim(t *testing.T) {
	prov := &fakeProvider{reply: func(string) (string, error) {
		return "Paris is the capital of France.", nil
	}}
	engine := engineFor(t, blockingRules, prov, nil)

	result, err := engine.RunTurn(context.Background(), "What's the capital of France?")
	require.NoError(t, err)

	assert.Equal(t, "Paris is the capital of France.", result.Response)
	assert.Equal(t, DecisionFallback, result.Decision)
	require.Equal(t, 1, prov.callCount())
	assert.Equal(t, "What's the capital of France?", prov.calls[0], "the raw user message is the fallback prompt")
}

const orderedRules = `
intents:
  - name: first topic
    phrases: ["banana"]
  - name: second topic
    phrases: ["banana"]
messages:
  first answer: "first flow fired"
  second answer: "second flow fired"
flows:
  - name: first flow
    when: [{intent: first topic}]
    do: [{say: first answer}, stop]
  - name: second flow
    when: [{intent: second topic}]
    do: [{say: second answer}, stop]
`

const orderedRulesSwapped = `
intents:
  - name: first topic
    phrases: ["banana"]
  - name: second topic
    phrases: ["banana"]
messages:
  first answer: "first flow fired"
  second answer: "second flow fired"
flows:
  - name: second flow
    when: [{intent: second topic}]
    do: [{say: second answer}, stop]
  - name: first flow
    when: [{intent: first topic}]
    do: [{say: first answer}, stop]
`

func TestDeclarationOrderDecidesPrecedence(t *testing.T) {
	engine := engineFor(t, orderedRules, &fakeProvider{}, nil)
	result, err := engine.RunTurn(context.Background(), "banana")
	require.NoError(t, err)
	assert.Equal(t, "first flow fired", result.Response)
	require.Len(t, result.Fired, 1)
	assert.Equal(t, "first flow", result.Fired[0].Name)

	// Swapping the declarations flips the outcome.
	engine = engineFor(t, orderedRulesSwapped, &fakeProvider{}, nil)
	result, err = engine.RunTurn(context.Background(), "banana")
	require.NoError(t, err)
	assert.Equal(t, "second flow fired", result.Response)
}

func TestWildcardFlowMatchesAnyUserMessage(t *testing.T) {
	prov := &fakeProvider{}
	engine := engineFor(t, `
messages:
  canned: "always this"
flows:
  - name: catch all
    when: ["*"]
    do: [{say: canned}, stop]
`, prov, nil)

	result, err := engine.RunTurn(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Equal(t, "always this", result.Response)
	assert.Equal(t, 0, prov.callCount())
}

func TestConjunctiveClausesAllMustHold(t *testing.T) {
	prov := &fakeProvider{}
	engine := engineFor(t, `
intents:
  - name: greet
    phrases: ["hello"]
messages:
  short greeting: "hi!"
flows:
  - name: short greets only
    when:
      - intent: greet
      - expr: 'len($user_message) < 10'
    do: [{say: short greeting}, stop]
`, prov, nil)

	result, err := engine.RunTurn(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi!", result.Response)

	// Same intent, but the second clause fails: the flow must not fire.
	result, err = engine.RunTurn(context.Background(), "hello there, long message")
	require.NoError(t, err)
	assert.Equal(t, "generated answer", result.Response)
}

func TestNonStoppingUserFlowStillFallsThroughToLLM(t *testing.T) {
	registry := NewRegistry()
	tagged := false
	require.NoError(t, registry.Register("tag_turn", func(_ context.Context, turn *TurnContext) (Delta, error) {
		tagged = true
		return Delta{"$tagged": "yes"}, nil
	}))

	prov := &fakeProvider{}
	engine := engineFor(t, `
flows:
  - name: tag every message
    when: ["*"]
    do: [{do: tag_turn}]
`, prov, registry)

	result, err := engine.RunTurn(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, tagged)
	assert.Equal(t, "generated answer", result.Response)
	assert.Equal(t, 1, prov.callCount(), "no response was produced, the LLM fallback still runs")
	require.Len(t, result.Fired, 1)
}

func TestStopSkipsRemainingFlows(t *testing.T) {
	registry := NewRegistry()
	invoked := false
	require.NoError(t, registry.Register("never_runs", func(_ context.Context, _ *TurnContext) (Delta, error) {
		invoked = true
		return nil, nil
	}))

	engine := engineFor(t, `
messages:
  canned: "stopped here"
flows:
  - name: stops first
    when: ["*"]
    do: [{say: canned}, stop]
  - name: would also match
    when: ["*"]
    do: [{do: never_runs}]
`, &fakeProvider{}, registry)

	result, err := engine.RunTurn(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "stopped here", result.Response)
	assert.False(t, invoked, "stop must abort evaluation of later flows")
}

func TestBotFlowRewritesResponse(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("redact_numbers", func(_ context.Context, turn *TurnContext) (Delta, error) {
		return Delta{VarResponse: "[redacted]"}, nil
	}))

	prov := &fakeProvider{reply: func(string) (string, error) { return "secret: 42", nil }}
	engine := engineFor(t, `
flows:
  - name: redact
    on: bot
    when: [{expr: '$response contains "42"'}]
    do: [{do: redact_numbers}]
`, prov, registry)

	result, err := engine.RunTurn(context.Background(), "tell me the secret")
	require.NoError(t, err)
	assert.Equal(t, "[redacted]", result.Response)
	assert.Equal(t, DecisionRewritten, result.Decision)
	assert.False(t, result.Blocked)
}

func TestMultipleBotFlowsFireInOrder(t *testing.T) {
	registry := NewRegistry()
	var order []string
	appendStep := func(name, suffix string) ActionFunc {
		return func(_ context.Context, turn *TurnContext) (Delta, error) {
			order = append(order, name)
			response, _ := turn.Response()
			return Delta{VarResponse: response + suffix}, nil
		}
	}
	require.NoError(t, registry.Register("step_a", appendStep("a", " A")))
	require.NoError(t, registry.Register("step_b", appendStep("b", " B")))

	engine := engineFor(t, `
flows:
  - name: flow a
    on: bot
    when: [{expr: 'len($response) > 0'}]
    do: [{do: step_a}]
  - name: flow b
    on: bot
    when: [{expr: 'len($response) > 0'}]
    do: [{do: step_b}]
`, &fakeProvider{}, registry)

	result, err := engine.RunTurn(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, "generated answer A B", result.Response)
}

func TestActionFailureRecoversIntoFallbackMessage(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("boom", func(_ context.Context, _ *TurnContext) (Delta, error) {
		return nil, errors.New("kaboom")
	}))

	engine := engineFor(t, `
messages:
  error fallback: "Custom apology."
flows:
  - name: always boom
    when: ["*"]
    do: [{do: boom}]
`, &fakeProvider{}, registry)

	result, err := engine.RunTurn(context.Background(), "hello")
	require.NoError(t, err, "runtime action failures must not surface to the caller")
	assert.Equal(t, "Custom apology.", result.Response)
	assert.Equal(t, DecisionRecovered, result.Decision)
}

func TestGenerateFailureRecoversIntoFallbackMessage(t *testing.T) {
	prov := &fakeProvider{failWith: errors.New("upstream 503")}
	engine := engineFor(t, blockingRules, prov, nil)

	result, err := engine.RunTurn(context.Background(), "harmless question")
	require.NoError(t, err)
	assert.Equal(t, "I'm sorry, something went wrong. Please try again.", result.Response)
	assert.Equal(t, DecisionRecovered, result.Decision)
}

func TestGenerateFailureWithoutFallbackMessageUsesDefaultApology(t *testing.T) {
	prov := &fakeProvider{failWith: errors.New("upstream 503")}
	engine := engineFor(t, `
messages:
  m: "x"
flows:
  - name: unused
    when: [{expr: 'len($user_message) > 100000'}]
    do: [{say: m}]
`, prov, nil)

	result, err := engine.RunTurn(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, defaultApology, result.Response)
}

func TestCallerCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := engineFor(t, blockingRules, &fakeProvider{}, nil)
	_, err := engine.RunTurn(ctx, "harmless question")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngineRejectsUnregisteredActions(t *testing.T) {
	store := storeFor(t, `
flows:
  - name: needs action
    when: ["*"]
    do: [{do: not_registered}]
`)
	_, err := NewEngine(store, &fakeProvider{}, NewRegistry(), Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_registered")
}

func TestReloadRejectsRuleSetWithUnknownActions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(blockingRules), 0644))
	store, err := rules.NewStore(path, nil)
	require.NoError(t, err)

	_, err = NewEngine(store, &fakeProvider{}, NewRegistry(), Config{}, nil)
	require.NoError(t, err)

	broken := fmt.Sprintf("%s\n  - name: extra\n    when: [\"*\"]\n    do: [{do: ghost_action}]\n", blockingRules)
	require.NoError(t, os.WriteFile(path, []byte(broken), 0644))
	assert.Error(t, store.Reload())
	assert.Len(t, store.Current().UserFlows, 1, "failed reload keeps the previous set")
}
