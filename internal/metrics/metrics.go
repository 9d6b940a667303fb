// Package metrics 进程内 prometheus 指标，/metrics 暴露。
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_order_messages_total",
			Help: "Inbound messages by result kind.",
		},
		[]string{"kind"},
	)

	RouterDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_order_intent_decisions_total",
			Help: "Intent router decisions by lane and source.",
		},
		[]string{"lane", "source"},
	)

	OverridesLearned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_order_overrides_learned_total",
			Help: "Override rules created from user corrections.",
		},
		[]string{"lane"},
	)

	LLMLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_order_llm_classify_seconds",
			Help:    "Latency of LLM intent classification calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_order_state_transitions_total",
			Help: "Conversation state transitions.",
		},
		[]string{"from", "to"},
	)

	QuoteResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_order_delivery_quotes_total",
			Help: "Delivery quote outcomes (ok or failure reason).",
		},
		[]string{"result"},
	)

	LockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_order_customer_lock_timeouts_total",
			Help: "Messages processed without the per-customer lock after waiting.",
		},
	)

	PaymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_order_payment_events_total",
			Help: "Payment confirmation messages by outcome.",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Register 注册全部指标；reg 为 nil 时使用默认注册器。重复调用安全。
func Register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerOnce.Do(func() {
		reg.MustRegister(
			MessagesHandled,
			RouterDecisions,
			OverridesLearned,
			LLMLatency,
			Transitions,
			QuoteResults,
			LockContention,
			PaymentEvents,
		)
	})
}
