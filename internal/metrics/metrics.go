package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Standard Prometheus collectors for the dialogue rails engine
var (
	// dialograils_turns_total (counter): turns processed
	TurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialograils_turns_total",
		Help: "Total number of dialogue turns processed by the engine",
	})

	// dialograils_decision_count{decision=blocked|fallback|rewritten|passed|recovered}
	DecisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialograils_decision_count",
		Help: "Outcome of each turn after flow evaluation",
	}, []string{"decision"})

	// dialograils_flow_fired{flow=...}
	FlowFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialograils_flow_fired",
		Help: "Number of times each declared flow fired",
	}, []string{"flow"})

	// dialograils_llm_latency_seconds (histogram): provider call duration
	LLMLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dialograils_llm_latency_seconds",
		Help:    "LLM provider call latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// dialograils_action_failures{action=...}
	ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialograils_action_failures",
		Help: "Number of external action or provider failures recovered by the dispatcher",
	}, []string{"action"})
)

// RecordDecision increments the decision counter
func RecordDecision(decision string) {
	DecisionCount.WithLabelValues(decision).Inc()
}

// RecordFlowFired increments the fired counter for a flow
func RecordFlowFired(flow string) {
	FlowFired.WithLabelValues(flow).Inc()
}

// RecordActionFailure increments the failure counter for an action
func RecordActionFailure(action string) {
	ActionFailures.WithLabelValues(action).Inc()
}
