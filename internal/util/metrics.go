package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_mutations_total",
		Help: "Total number of cart mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_checkouts_total",
		Help: "Total number of checkout attempts by outcome",
	}, []string{"outcome"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_checkout_latency_seconds",
		Help:    "Latency of compiling a cart into an order",
		Buckets: prometheus.DefBuckets,
	})

	ProofsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_payment_proofs_total",
		Help: "Total number of payment proof submissions by outcome",
	}, []string{"outcome"})

	ProofBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_payment_proof_bytes",
		Help:    "Size of accepted payment proofs",
		Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_order_transitions_total",
		Help: "Total number of committed order status transitions",
	}, []string{"from", "to"})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_stock_conflicts_total",
		Help: "Total number of approvals refused for insufficient stock",
	})

	ApprovalLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_approval_latency_seconds",
		Help:    "Latency of the approval transaction",
		Buckets: prometheus.DefBuckets,
	})

	EventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_events_publish_failed_total",
		Help: "Total number of lifecycle events that could not be published",
	}, []string{"event_type"})

	CatalogCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_catalog_cache_evictions_total",
		Help: "Total number of catalog cache entries evicted after approvals",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
