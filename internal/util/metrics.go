package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_attempts_total",
		Help: "Total number of checkout attempts",
	})

	CheckoutFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failed_total",
		Help: "Total number of failed checkout attempts",
	}, []string{"reason"})

	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders committed",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	StockHoldsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_holds_reaped_total",
		Help: "Total number of expired stock holds released by the reaper",
	})

	PaymentAuthTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_authorizations_total",
		Help: "Total number of payment authorization attempts",
	})

	PaymentDeclinedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_declined_total",
		Help: "Total number of declined payment authorizations",
	}, []string{"reason"})

	PaymentAuthLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_authorization_latency_seconds",
		Help:    "Latency of payment authorization",
		Buckets: prometheus.DefBuckets,
	})

	CommitRecoveriesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_commit_recoveries_pending",
		Help: "Post-payment commit failures awaiting reconciliation",
	})

	CommitRecoveryRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_commit_recovery_retries_total",
		Help: "Retries of failed post-payment commits",
	}, []string{"outcome"})

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
