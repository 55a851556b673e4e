package tdsingestor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the ingestion loop
type Metrics struct {
	Received       prometheus.Counter
	Persisted      prometheus.Counter
	Dropped        *prometheus.CounterVec
	LastValue      prometheus.Gauge
	BrokerUp       prometheus.Gauge
	InsertDuration prometheus.Histogram
}

// NewMetrics registers the ingestion metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Received: f.NewCounter(prometheus.CounterOpts{
			Name: "tds_bridge_messages_received_total",
			Help: "Publish events received from the TDS topic",
		}),
		Persisted: f.NewCounter(prometheus.CounterOpts{
			Name: "tds_bridge_readings_persisted_total",
			Help: "Readings written to the store",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_bridge_messages_dropped_total",
			Help: "Messages dropped without a stored reading, by reason",
		}, []string{"reason"}),
		LastValue: f.NewGauge(prometheus.GaugeOpts{
			Name: "tds_bridge_last_reading_ppm",
			Help: "Value of the most recently persisted reading",
		}),
		BrokerUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "tds_bridge_broker_connected",
			Help: "1 while the broker connection is up",
		}),
		InsertDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tds_bridge_insert_duration_seconds",
			Help:    "Store insert latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
		}),
	}
}
