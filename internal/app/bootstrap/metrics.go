package bootstrap

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dealership-ai-platform/internal/observability/metrics"
)

// Metrics groups the component collectors registered on one registry.
type Metrics struct {
	Messaging    *metrics.MessagingMetrics
	Lifecycle    *metrics.LifecycleMetrics
	Guardrail    *metrics.GuardrailMetrics
	Conversation *metrics.ConversationMetrics
	Handler      http.Handler
}

// BuildMetrics registers every collector on a fresh registry and returns the
// /metrics handler for it.
func BuildMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		Messaging:    metrics.NewMessagingMetrics(reg),
		Lifecycle:    metrics.NewLifecycleMetrics(reg),
		Guardrail:    metrics.NewGuardrailMetrics(reg),
		Conversation: metrics.NewConversationMetrics(reg),
		Handler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}
