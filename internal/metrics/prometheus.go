package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls       *prometheus.CounterVec
	queryRejections prometheus.Counter
	queryDuration   prometheus.Histogram
	poolAcquires    *prometheus.CounterVec
	resourceReads   *prometheus.CounterVec
	resourceLists   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysql_mcp_tool_calls_total",
				Help: "Total number of tool calls",
			},
			[]string{"tool", "status"},
		),
		queryRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mysql_mcp_query_rejections_total",
				Help: "Total number of queries rejected by the safety classifier",
			},
		),
		queryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mysql_mcp_query_duration_seconds",
				Help:    "Query execution duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),
		poolAcquires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysql_mcp_pool_acquire_total",
				Help: "Connection acquisitions by result",
			},
			[]string{"result"},
		),
		resourceReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysql_mcp_resource_reads_total",
				Help: "Total number of resource reads",
			},
			[]string{"status"},
		),
		resourceLists: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysql_mcp_resource_lists_total",
				Help: "Total number of resource enumerations",
			},
			[]string{"source"},
		),
	}

	m.registry.MustRegister(
		m.toolCalls,
		m.queryRejections,
		m.queryDuration,
		m.poolAcquires,
		m.resourceReads,
		m.resourceLists,
		collectors.NewGoCollector(),
	)
	return m
}

// RegisterDB exports database/sql pool statistics for db.
func (m *Metrics) RegisterDB(db *sql.DB, name string) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordToolCall(tool string, isError bool) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status(isError)).Inc()
}

func (m *Metrics) RecordRejection() {
	if m == nil {
		return
	}
	m.queryRejections.Inc()
}

func (m *Metrics) RecordQueryDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.Observe(d.Seconds())
}

// RecordPoolAcquire counts an acquisition attempt: "ok", "exhausted", "failure" or "canceled".
func (m *Metrics) RecordPoolAcquire(result string) {
	if m == nil {
		return
	}
	m.poolAcquires.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordResourceRead(isError bool) {
	if m == nil {
		return
	}
	m.resourceReads.WithLabelValues(status(isError)).Inc()
}

// RecordResourceList counts enumerations served from the "database" or the "cache".
func (m *Metrics) RecordResourceList(source string) {
	if m == nil {
		return
	}
	m.resourceLists.WithLabelValues(source).Inc()
}

func status(isError bool) string {
	if isError {
		return "error"
	}
	return "success"
}
