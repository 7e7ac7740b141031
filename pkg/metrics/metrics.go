package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wpmcp_auth_resolutions_total",
		Help: "Auth resolver outcomes by scheme and result code.",
	}, []string{"scheme", "result"})

	UsageDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wpmcp_usage_decisions_total",
		Help: "Usage gate decisions.",
	}, []string{"result"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wpmcp_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})

	WebhookDeliverySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wpmcp_webhook_delivery_seconds",
		Help:    "Webhook delivery latency.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	WebhooksDisabled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wpmcp_webhooks_disabled_total",
		Help: "Webhooks auto-disabled after consecutive failures.",
	})
)
