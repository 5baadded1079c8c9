package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prijswacht_runs_total",
			Help: "Query executions by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prijswacht_run_duration_seconds",
			Help:    "Wall time of one query execution, fetch through dispatch",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	itemsSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prijswacht_items_seen_total",
			Help: "Catalog items returned by the source across all runs",
		},
	)

	catalogEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prijswacht_catalog_events_total",
			Help: "Detected catalog changes by kind",
		},
		[]string{"kind"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prijswacht_notifications_total",
			Help: "Notification deliveries by result",
		},
		[]string{"result"},
	)

	fetchPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prijswacht_fetch_pages_total",
			Help: "Source catalog pages fetched",
		},
	)

	fetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prijswacht_fetch_errors_total",
			Help: "Source requests that failed after all attempts",
		},
	)

	auditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prijswacht_audit_dropped_total",
			Help: "Execution records dropped because the audit queue was full",
		},
	)

	auditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prijswacht_audit_queue_depth",
			Help: "Execution records waiting for the audit writer",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prijswacht_db_connections_in_use",
			Help: "Database connections currently leased from the pool",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records one finished query execution.
func RecordRun(outcome string, duration time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(duration.Seconds())
}

// RecordItemsSeen adds to the count of items returned by the source.
func RecordItemsSeen(n int) {
	itemsSeen.Add(float64(n))
}

// RecordEvent records one detected catalog change.
func RecordEvent(kind string) {
	catalogEvents.WithLabelValues(kind).Inc()
}

// RecordNotification records one delivery attempt's result.
func RecordNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

// RecordFetchPage counts one fetched catalog page.
func RecordFetchPage() {
	fetchPages.Inc()
}

// RecordFetchError counts one source request that exhausted its attempts.
func RecordFetchError() {
	fetchErrors.Inc()
}

// RecordAuditDrop counts one execution record lost to a full queue.
func RecordAuditDrop() {
	auditDropped.Inc()
}

// SetAuditQueueDepth sets the current audit backlog size.
func SetAuditQueueDepth(n int) {
	auditQueueDepth.Set(float64(n))
}

// SetDBConnectionsInUse sets the number of leased pool connections.
func SetDBConnectionsInUse(n int) {
	dbConnectionsInUse.Set(float64(n))
}
