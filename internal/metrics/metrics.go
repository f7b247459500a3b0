package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpn_miniapp_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vpn_miniapp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OrdersCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpn_miniapp_orders_created_total",
			Help: "Total number of payment orders created",
		},
		[]string{"method"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpn_miniapp_transaction_transitions_total",
			Help: "Applied transaction status transitions",
		},
		[]string{"to", "source"},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpn_miniapp_webhooks_total",
			Help: "Inbound payment webhooks by outcome",
		},
		[]string{"outcome"},
	)

	WalletOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpn_miniapp_wallet_operations_total",
			Help: "Wallet credits and debits by outcome",
		},
		[]string{"type", "outcome"},
	)

	SubscriptionsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vpn_miniapp_subscriptions_issued_total",
			Help: "Total number of subscriptions issued",
		},
	)

	GatewayErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpn_miniapp_gateway_errors_total",
			Help: "Payment gateway call failures",
		},
		[]string{"operation"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordOrder(method string) {
	OrdersCreatedTotal.WithLabelValues(method).Inc()
}

func RecordTransition(to, source string) {
	TransitionsTotal.WithLabelValues(to, source).Inc()
}

func RecordWebhook(outcome string) {
	WebhooksTotal.WithLabelValues(outcome).Inc()
}

func RecordWalletOperation(opType, outcome string) {
	WalletOperationsTotal.WithLabelValues(opType, outcome).Inc()
}

func RecordSubscription() {
	SubscriptionsIssuedTotal.Inc()
}

func RecordGatewayError(operation string) {
	GatewayErrorsTotal.WithLabelValues(operation).Inc()
}
