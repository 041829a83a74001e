package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "dealership"

func registerer(reg prometheus.Registerer) prometheus.Registerer {
	if reg == nil {
		return prometheus.DefaultRegisterer
	}
	return reg
}

// MessagingMetrics exposes counters/histograms for the WhatsApp webhook.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	repliesTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp webhooks",
		}, []string{"kind", "status"}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "replies_total",
			Help:      "Total TwiML replies rendered",
		}, []string{"fallback"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of WhatsApp webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	registerer(reg).MustRegister(m.inboundTotal, m.repliesTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(kind, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *MessagingMetrics) ObserveReply(fallback bool) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(boolLabel(fallback)).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}

// LifecycleMetrics counts lead status transitions.
type LifecycleMetrics struct {
	transitionsTotal *prometheus.CounterVec
	persistRetries   prometheus.Counter
}

func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	m := &LifecycleMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lead status transitions by outcome",
		}, []string{"from", "to", "outcome"}),
		persistRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "persist_retries_total",
			Help:      "Transition writes retried after a transient failure",
		}),
	}
	registerer(reg).MustRegister(m.transitionsTotal, m.persistRetries)
	return m
}

// ObserveTransition records outcome as one of ok, rejected, persist_failed.
func (m *LifecycleMetrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to, outcome).Inc()
}

func (m *LifecycleMetrics) ObservePersistRetry() {
	if m == nil {
		return
	}
	m.persistRetries.Inc()
}

// GuardrailMetrics counts reply audits and the rules they tripped.
type GuardrailMetrics struct {
	validationsTotal *prometheus.CounterVec
	issuesTotal      *prometheus.CounterVec
	failOpenTotal    *prometheus.CounterVec
}

func NewGuardrailMetrics(reg prometheus.Registerer) *GuardrailMetrics {
	m := &GuardrailMetrics{
		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guardrail",
			Name:      "validations_total",
			Help:      "Candidate replies audited",
		}, []string{"valid"}),
		issuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guardrail",
			Name:      "issues_total",
			Help:      "Compliance issues found by rule",
		}, []string{"rule"}),
		failOpenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guardrail",
			Name:      "model_audit_fail_open_total",
			Help:      "Model audits that failed open",
		}, []string{"reason"}),
	}
	registerer(reg).MustRegister(m.validationsTotal, m.issuesTotal, m.failOpenTotal)
	return m
}

func (m *GuardrailMetrics) ObserveValidation(valid bool) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(boolLabel(valid)).Inc()
}

func (m *GuardrailMetrics) ObserveIssue(rule string) {
	if m == nil {
		return
	}
	m.issuesTotal.WithLabelValues(rule).Inc()
}

func (m *GuardrailMetrics) ObserveFailOpen(reason string) {
	if m == nil {
		return
	}
	m.failOpenTotal.WithLabelValues(reason).Inc()
}

// ConversationMetrics tracks model turns and tool calls.
type ConversationMetrics struct {
	turnsTotal     *prometheus.CounterVec
	toolCallsTotal *prometheus.CounterVec
	modelLatency   *prometheus.HistogramVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Conversation turns by outcome",
		}, []string{"outcome"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "tool_calls_total",
			Help:      "Tool invocations emitted by the model",
		}, []string{"tool", "side"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "model_latency_seconds",
			Help:      "Latency of model calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 12, 20},
		}, []string{"model"}),
	}
	registerer(reg).MustRegister(m.turnsTotal, m.toolCallsTotal, m.modelLatency)
	return m
}

func (m *ConversationMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

// ObserveToolCall records side as "server" or "client".
func (m *ConversationMetrics) ObserveToolCall(tool, side string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, side).Inc()
}

func (m *ConversationMetrics) ObserveModelLatency(model string, seconds float64) {
	if m == nil {
		return
	}
	m.modelLatency.WithLabelValues(model).Observe(seconds)
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
