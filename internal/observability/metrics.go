package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "corona_report"

// Metrics holds the Prometheus counters, histograms, and gauges for the report pipeline.
type Metrics struct {
	Cycles        *prometheus.CounterVec // labels: outcome={published,unchanged,fetch_error,parse_error,store_error,timeout,panic}
	CyclesDropped prometheus.Counter
	CycleDuration prometheus.Histogram
	LastSuccess   prometheus.Gauge
	SchedulerUp   prometheus.Gauge

	// Ingestion metrics.
	FetchErrors *prometheus.CounterVec // labels: reason={network,http-status,timeout}
	ParseErrors *prometheus.CounterVec // labels: reason={missing-sheet,missing-column,...}
	Anomalies   *prometheus.CounterVec // labels: kind={decrease,aggregate-mismatch}

	// Delivery metrics.
	MessagesSent       prometheus.Counter
	MessagesFailed     *prometheus.CounterVec // labels: kind={permanent,transient}
	SubscribersRemoved prometheus.Counter
	Subscribers        prometheus.Gauge
	ReportsPublished   *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Cycles,
		m.CyclesDropped,
		m.CycleDuration,
		m.LastSuccess,
		m.SchedulerUp,
		m.FetchErrors,
		m.ParseErrors,
		m.Anomalies,
		m.MessagesSent,
		m.MessagesFailed,
		m.SubscribersRemoved,
		m.Subscribers,
		m.ReportsPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed poll cycles by outcome.",
		}, []string{"outcome"}),
		CyclesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_dropped_total",
			Help:      "Scheduler ticks dropped because a cycle was still running.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-parse-diff-dispatch cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that fetched and parsed the workbook.",
		}),
		SchedulerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the scheduler loop is active, 0 when shut down.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Workbook download failures by reason.",
		}, []string{"reason"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Workbook parse failures by reason.",
		}, []string{"reason"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Data anomalies detected in committed observations.",
		}, []string{"kind"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Reports delivered to subscribers.",
		}),
		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Report deliveries that failed.",
		}, []string{"kind"}),
		SubscribersRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_removed_total",
			Help:      "Subscribers dropped after a permanent delivery failure.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Current number of subscribed chats.",
		}),
		ReportsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_published_total",
			Help:      "Delta reports written to Kafka by outcome.",
		}, []string{"outcome"}),
	}
}
