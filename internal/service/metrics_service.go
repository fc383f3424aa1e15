package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	allocationsCreated  prometheus.Counter
	allocationsDeleted  prometheus.Counter
	allocationsRejected *prometheus.CounterVec
	schedulerRuns       *prometheus.CounterVec
	schedulerNodes      prometheus.Histogram
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	allocationsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "allocations_created_total",
		Help: "Total allocations committed to the ledger",
	})

	allocationsDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "allocations_deleted_total",
		Help: "Total allocations removed from the ledger",
	})

	allocationsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocations_rejected_total",
		Help: "Total rejected allocation candidates by reason code",
	}, []string{"reason"})

	schedulerRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_runs_total",
		Help: "Total regenerate runs by outcome",
	}, []string{"outcome"})

	schedulerNodes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_nodes_explored",
		Help:    "Nodes explored per regenerate run",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, allocationsCreated, allocationsDeleted, allocationsRejected, schedulerRuns, schedulerNodes, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		allocationsCreated:  allocationsCreated,
		allocationsDeleted:  allocationsDeleted,
		allocationsRejected: allocationsRejected,
		schedulerRuns:       schedulerRuns,
		schedulerNodes:      schedulerNodes,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordAllocationCreated counts a committed allocation.
func (m *MetricsService) RecordAllocationCreated() {
	if m == nil {
		return
	}
	m.allocationsCreated.Inc()
}

// RecordAllocationDeleted counts a removed allocation.
func (m *MetricsService) RecordAllocationDeleted() {
	if m == nil {
		return
	}
	m.allocationsDeleted.Inc()
}

// RecordAllocationRejected counts a rejected candidate by reason code.
func (m *MetricsService) RecordAllocationRejected(reason string) {
	if m == nil {
		return
	}
	m.allocationsRejected.WithLabelValues(reason).Inc()
}

// RecordSchedulerRun records one regenerate outcome and its explored nodes.
func (m *MetricsService) RecordSchedulerRun(outcome string, nodes int) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(outcome).Inc()
	m.schedulerNodes.Observe(float64(nodes))
}
