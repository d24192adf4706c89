package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled bool

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Pipeline metrics
	MeasurementsProcessed *prometheus.CounterVec
	ProcessingLatency     *prometheus.HistogramVec

	// Alerting metrics
	AlertsFired *prometheus.CounterVec

	// Delivery metrics
	SnapshotsStored       prometheus.Counter
	WSClientsConnected    prometheus.Gauge
	AMQPPublishedMessages *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "behavior_sessions_active",
			Help: "Number of live analysis sessions",
		})

		SessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "behavior_sessions_total",
			Help: "Total number of analysis sessions created",
		})

		SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "behavior_session_duration_seconds",
			Help:    "Duration of completed analysis sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		})

		MeasurementsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "behavior_measurements_processed_total",
				Help: "Total number of measurements processed",
			},
			[]string{"type"},
		)

		ProcessingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "behavior_processing_latency_seconds",
				Help:    "Latency of one full measurement pipeline pass",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~400ms
			},
			[]string{"type"},
		)

		AlertsFired = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "behavior_alerts_fired_total",
				Help: "Total number of behavior alerts fired",
			},
			[]string{"type", "severity"},
		)

		SnapshotsStored = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "behavior_snapshots_stored_total",
			Help: "Total number of snapshots written to storage",
		})

		WSClientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "behavior_ws_clients_connected",
			Help: "Number of connected WebSocket clients",
		})

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "behavior_amqp_published_messages_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"event_type"},
		)

		registry.MustRegister(
			SessionsActive,
			SessionsTotal,
			SessionDuration,
			MeasurementsProcessed,
			ProcessingLatency,
			AlertsFired,
			SnapshotsStored,
			WSClientsConnected,
			AMQPPublishedMessages,
		)

		metricsEnabled = true
		logger.Info("Prometheus metrics initialized")
	})
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	if !metricsEnabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SessionStarted records a session creation. All recorders are safe to
// call before Init; they become no-ops.
func SessionStarted() {
	if !metricsEnabled {
		return
	}
	SessionsActive.Inc()
	SessionsTotal.Inc()
}

// SessionEnded records a session teardown.
func SessionEnded(duration time.Duration) {
	if !metricsEnabled {
		return
	}
	SessionsActive.Dec()
	SessionDuration.Observe(duration.Seconds())
}

// RecordMeasurement records one processed measurement and its latency.
func RecordMeasurement(measurementType string, latency time.Duration) {
	if !metricsEnabled {
		return
	}
	MeasurementsProcessed.WithLabelValues(measurementType).Inc()
	ProcessingLatency.WithLabelValues(measurementType).Observe(latency.Seconds())
}

// RecordAlert records a fired behavior alert.
func RecordAlert(alertType, severity string) {
	if !metricsEnabled {
		return
	}
	AlertsFired.WithLabelValues(alertType, severity).Inc()
}

// RecordSnapshotStored records one snapshot written to storage.
func RecordSnapshotStored() {
	if !metricsEnabled {
		return
	}
	SnapshotsStored.Inc()
}

// RecordAMQPPublish records one AMQP publish by event type.
func RecordAMQPPublish(eventType string) {
	if !metricsEnabled {
		return
	}
	AMQPPublishedMessages.WithLabelValues(eventType).Inc()
}

// WSClientConnected tracks WebSocket client connects and disconnects.
func WSClientConnected(delta int) {
	if !metricsEnabled {
		return
	}
	WSClientsConnected.Add(float64(delta))
}
