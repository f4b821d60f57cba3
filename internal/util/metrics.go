package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StockOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_operations_total",
		Help: "Total number of fast store stock operations",
	}, []string{"op", "result"})

	StockCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_cache_misses_total",
		Help: "Total number of stock reads that found no fast store record",
	})

	StockCompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_decrease_compensations_total",
		Help: "Total number of decrements rolled back because the counter went negative",
	})

	LeaseAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_lease_acquire_total",
		Help: "Total number of reservation lease acquisition attempts",
	}, []string{"result"})

	LeaseReleaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_lease_release_total",
		Help: "Total number of reservation lease releases",
	}, []string{"result"})

	SyncTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_sync_tasks_total",
		Help: "Total number of durable store propagation tasks",
	}, []string{"trigger", "result"})

	SyncPoolBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stock_sync_pool_backlog",
		Help: "Tasks waiting for a sync worker",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_sync_sweep_duration_seconds",
		Help:    "Duration of scheduled stock sweeps",
		Buckets: prometheus.DefBuckets,
	})

	AuditMismatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_audit_mismatches_total",
		Help: "Total number of fast/durable mismatches found by audits",
	})

	AuditConsistencyRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stock_audit_consistency_rate",
		Help: "Consistency rate reported by the last audit",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_reserved_total",
		Help: "Total number of orders with stock reserved",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders committed at payment",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of order stock reservation",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

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
