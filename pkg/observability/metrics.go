package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsProvider exposes the engine's Prometheus instruments. Unlike the
// HTTP-service metrics this is grounded on, there is no OpenTelemetry metric
// pipeline here: a single order-book process has nothing to federate across,
// so a plain Prometheus registry plus promhttp is enough.
type MetricsProvider struct {
	registry *prometheus.Registry

	ordersReceived   *prometheus.CounterVec
	ordersRejected   *prometheus.CounterVec
	matchesTotal     prometheus.Counter
	cancelsTotal     prometheus.Counter
	editsTotal       *prometheus.CounterVec
	matchLatency     prometheus.Histogram
	intakeQueueDepth prometheus.Gauge
	bookHalted       prometheus.Gauge
	persistenceLag   prometheus.Gauge
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	ServiceName string
	Pair        string
	Port        int
	Enabled     bool
}

// NewMetricsProvider creates a new metrics provider.
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"pair": cfg.Pair}

	mp := &MetricsProvider{
		registry: registry,
		ordersReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "orderbook",
			Name:        "orders_received_total",
			Help:        "Orders accepted off the intake socket, by order type.",
			ConstLabels: constLabels,
		}, []string{"order_type", "side"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "orderbook",
			Name:        "orders_rejected_total",
			Help:        "Orders rejected before or during matching, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		matchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "orderbook",
			Name:        "matches_total",
			Help:        "Number of trade executions produced by the matcher.",
			ConstLabels: constLabels,
		}),
		cancelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "orderbook",
			Name:        "cancels_total",
			Help:        "Number of orders cancelled, at-book or pre-queue.",
			ConstLabels: constLabels,
		}),
		editsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "orderbook",
			Name:        "edits_total",
			Help:        "Order amendments, split by whether they were applied or rejected.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		matchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "orderbook",
			Name:        "match_latency_seconds",
			Help:        "Time to process a single intake command through the book.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.00005, 2, 16),
		}),
		intakeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "orderbook",
			Name:        "intake_queue_depth",
			Help:        "Current number of commands waiting in the priority intake queue.",
			ConstLabels: constLabels,
		}),
		bookHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "orderbook",
			Name:        "halted",
			Help:        "1 if the book has halted intake because the persistence writer stopped.",
			ConstLabels: constLabels,
		}),
		persistenceLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "orderbook",
			Name:        "persistence_queue_depth",
			Help:        "Commands queued for the persistence writer but not yet committed.",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(
		mp.ordersReceived, mp.ordersRejected, mp.matchesTotal, mp.cancelsTotal,
		mp.editsTotal, mp.matchLatency, mp.intakeQueueDepth, mp.bookHalted, mp.persistenceLag,
	)

	return mp, nil
}

func (mp *MetricsProvider) RecordOrderReceived(orderType, side string) {
	if mp.ordersReceived == nil {
		return
	}
	mp.ordersReceived.WithLabelValues(orderType, side).Inc()
}

func (mp *MetricsProvider) RecordOrderRejected(reason string) {
	if mp.ordersRejected == nil {
		return
	}
	mp.ordersRejected.WithLabelValues(reason).Inc()
}

func (mp *MetricsProvider) RecordMatch() {
	if mp.matchesTotal == nil {
		return
	}
	mp.matchesTotal.Inc()
}

func (mp *MetricsProvider) RecordCancel() {
	if mp.cancelsTotal == nil {
		return
	}
	mp.cancelsTotal.Inc()
}

func (mp *MetricsProvider) RecordEdit(applied bool) {
	if mp.editsTotal == nil {
		return
	}
	outcome := "rejected"
	if applied {
		outcome = "applied"
	}
	mp.editsTotal.WithLabelValues(outcome).Inc()
}

func (mp *MetricsProvider) ObserveMatchLatency(d time.Duration) {
	if mp.matchLatency == nil {
		return
	}
	mp.matchLatency.Observe(d.Seconds())
}

func (mp *MetricsProvider) SetIntakeQueueDepth(n int) {
	if mp.intakeQueueDepth == nil {
		return
	}
	mp.intakeQueueDepth.Set(float64(n))
}

func (mp *MetricsProvider) SetHalted(halted bool) {
	if mp.bookHalted == nil {
		return
	}
	if halted {
		mp.bookHalted.Set(1)
	} else {
		mp.bookHalted.Set(0)
	}
}

func (mp *MetricsProvider) SetPersistenceQueueDepth(n int) {
	if mp.persistenceLag == nil {
		return
	}
	mp.persistenceLag.Set(float64(n))
}

// Handler returns the Prometheus scrape handler for this provider's registry.
func (mp *MetricsProvider) Handler() http.Handler {
	if mp.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer starts the Prometheus metrics HTTP server. Intended to
// run in its own goroutine; returns when the server stops or fails to start.
func (mp *MetricsProvider) StartMetricsServer(port int) error {
	if mp.registry == nil {
		return fmt.Errorf("metrics not enabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", mp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return server.ListenAndServe()
}

// Shutdown is a no-op kept for symmetry with the rest of the observability
// package's lifecycle methods; the Prometheus registry needs no teardown.
func (mp *MetricsProvider) Shutdown(_ context.Context) error {
	return nil
}
