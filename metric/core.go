package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// processingDurationBuckets is the 10-bucket ms ladder from the external
// interfaces section, converted to seconds for Prometheus's native unit.
var processingDurationBuckets = msBucketsToSeconds(1, 5, 10, 25, 50, 100, 250, 500, 1000)

// cacheReadDurationBuckets is the 7-bucket ms ladder (six bounds plus
// Prometheus's implicit +Inf) for cache reads.
var cacheReadDurationBuckets = msBucketsToSeconds(1, 5, 10, 25, 50, 100)

func msBucketsToSeconds(msBuckets ...float64) []float64 {
	buckets := make([]float64, len(msBuckets))
	for i, ms := range msBuckets {
		buckets[i] = ms / 1000
	}
	return buckets
}

// Metrics contains all gateway metrics exposed at /metrics.
type Metrics struct {
	// Pipeline throughput
	MessagesReceived     *prometheus.CounterVec // message_type
	MessagesProcessed    *prometheus.CounterVec // message_type, result ∈ {applied,skipped,retried}
	ProcessingDuration    *prometheus.HistogramVec // message_type
	CacheReadDuration     *prometheus.HistogramVec // operation

	// COV
	COVNotifications   *prometheus.CounterVec // result ∈ {sent,failed}
	COVSubscriptions   prometheus.Gauge

	// Registry
	RegistryObjects prometheus.Gauge
	StreamPosition  *prometheus.GaugeVec // subscription_id

	// Errors and health
	ErrorsTotal       *prometheus.CounterVec // component, class
	HealthCheckStatus *prometheus.GaugeVec   // service

	// Event-store connection
	EventStoreConnected      prometheus.Gauge
	EventStoreReconnects     prometheus.Counter
	EventStoreCircuitBreaker prometheus.Gauge
}

// NewMetrics creates and registers all gateway metric collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of event-store messages received",
			},
			[]string{"message_type"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "messages",
				Name:      "processed_total",
				Help:      "Total number of event-store messages processed, by outcome",
			},
			[]string{"message_type", "result"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "processing_duration_seconds",
				Help:      "Time to decode and apply one event to the registry",
				Buckets:   processingDurationBuckets,
			},
			[]string{"message_type"},
		),

		CacheReadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "cache_read_duration_seconds",
				Help:      "Time to read from the cache mirror",
				Buckets:   cacheReadDurationBuckets,
			},
			[]string{"operation"},
		),

		COVNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "cov",
				Name:      "notifications_total",
				Help:      "Total number of COV notifications dispatched, by outcome",
			},
			[]string{"result"},
		),

		COVSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "cov",
				Name:      "subscriptions",
				Help:      "Current number of live COV subscriptions",
			},
		),

		RegistryObjects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "registry",
				Name:      "objects",
				Help:      "Current number of objects in the registry",
			},
		),

		StreamPosition: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Name:      "stream_position",
				Help:      "Last applied stream position per subscription",
			},
			[]string{"subscription_id"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors, by component and classification",
			},
			[]string{"component", "class"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		EventStoreConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "event_store",
				Name:      "connected",
				Help:      "Event-store connection status (0=disconnected, 1=connected)",
			},
		),

		EventStoreReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "event_store",
				Name:      "reconnects_total",
				Help:      "Total number of event-store reconnections",
			},
		),

		EventStoreCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "event_store",
				Name:      "circuit_breaker",
				Help:      "Event-store circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// RecordMessageReceived increments the received-message counter.
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageProcessed increments the processed-message counter for one outcome.
func (m *Metrics) RecordMessageProcessed(messageType, result string) {
	m.MessagesProcessed.WithLabelValues(messageType, result).Inc()
}

// RecordProcessingDuration observes the apply-path latency for one message type.
func (m *Metrics) RecordProcessingDuration(messageType string, d time.Duration) {
	m.ProcessingDuration.WithLabelValues(messageType).Observe(d.Seconds())
}

// RecordCacheReadDuration observes a cache read's latency for one operation.
func (m *Metrics) RecordCacheReadDuration(operation string, d time.Duration) {
	m.CacheReadDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordCOVNotification increments the COV notification counter for one outcome.
func (m *Metrics) RecordCOVNotification(result string) {
	m.COVNotifications.WithLabelValues(result).Inc()
}

// SetCOVSubscriptions sets the live-subscription gauge.
func (m *Metrics) SetCOVSubscriptions(n int) {
	m.COVSubscriptions.Set(float64(n))
}

// SetRegistryObjects sets the registry-size gauge.
func (m *Metrics) SetRegistryObjects(n int) {
	m.RegistryObjects.Set(float64(n))
}

// SetStreamPosition records the last applied position for a subscription.
func (m *Metrics) SetStreamPosition(subscriptionID string, position uint64) {
	m.StreamPosition.WithLabelValues(subscriptionID).Set(float64(position))
}

// RecordError increments the error counter for a component and classification.
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus updates the health-check gauge for a service.
func (m *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordEventStoreStatus updates the event-store connection gauge.
func (m *Metrics) RecordEventStoreStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.EventStoreConnected.Set(value)
}

// RecordEventStoreReconnect increments the reconnection counter.
func (m *Metrics) RecordEventStoreReconnect() {
	m.EventStoreReconnects.Inc()
}

// RecordCircuitBreakerState updates the circuit breaker state gauge.
func (m *Metrics) RecordCircuitBreakerState(state int) {
	m.EventStoreCircuitBreaker.Set(float64(state))
}
