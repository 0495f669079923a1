package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "outlier_"

// Pass results.
const (
	PassSuccess = "success"
	PassSkipped = "skipped"
	PassError   = "error"
)

var (
	registerOnce sync.Once

	eventsReceived *prometheus.CounterVec

	clusterPasses  *prometheus.CounterVec
	clusterLatency *prometheus.HistogramVec

	sensorsFlagged prometheus.Counter

	streamReconnects prometheus.Counter
)

// Init registers the process metrics.
func Init() {
	registerOnce.Do(func() {
		eventsReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_received_total",
				Help: "Total sensor events received by source",
			},
			[]string{"source"},
		)
		clusterPasses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cluster_passes_total",
				Help: "Total clustering passes by result",
			},
			[]string{"result"},
		)
		clusterLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cluster_pass_latency_seconds",
				Help:    "Clustering pass latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		sensorsFlagged = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sensors_flagged_total",
				Help: "Total sensors flagged as outliers across passes",
			},
		)
		streamReconnects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_reconnects_total",
				Help: "Total event stream reconnection attempts",
			},
		)

		prometheus.MustRegister(
			eventsReceived,
			clusterPasses,
			clusterLatency,
			sensorsFlagged,
			streamReconnects,
		)
	})
}

// IncEventReceived counts one received sensor event.
func IncEventReceived(source string) {
	if source == "" {
		source = "unknown"
	}
	if eventsReceived != nil {
		eventsReceived.WithLabelValues(source).Inc()
	}
}

// ObserveClusterPass records pass duration and result.
func ObserveClusterPass(result string, duration time.Duration) {
	if result == "" {
		result = PassSuccess
	}
	if clusterPasses != nil {
		clusterPasses.WithLabelValues(result).Inc()
	}
	if clusterLatency != nil {
		clusterLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddSensorsFlagged counts flagged sensors for one pass.
func AddSensorsFlagged(count int) {
	if count <= 0 {
		return
	}
	if sensorsFlagged != nil {
		sensorsFlagged.Add(float64(count))
	}
}

// IncStreamReconnect counts one stream reconnection attempt.
func IncStreamReconnect() {
	if streamReconnects != nil {
		streamReconnects.Inc()
	}
}
