package sqlrun

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Metrics counts executed statements and scripts. A nil *Metrics records nothing.
type Metrics struct {
	statements *prometheus.CounterVec
	scripts    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlrun",
			Name:      "statements_total",
			Help:      "SQL statements committed (ok) or failed (error), by connection.",
		}, []string{"connection", "outcome"}),
		scripts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlrun",
			Name:      "scripts_total",
			Help:      "SQL scripts run, by connection and outcome.",
		}, []string{"connection", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sqlrun",
			Name:      "script_duration_seconds",
			Help:      "Wall time of SQL script runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"connection"}),
	}
	if reg != nil {
		reg.MustRegister(m.statements, m.scripts, m.duration)
	}
	return m
}

// observeScript records a finished run. Statements only count as ok once the
// transaction committed; a failing statement counts as one error and the
// rolled-back statements before it are not counted.
func (m *Metrics) observeScript(connection string, executed int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	} else {
		m.statements.WithLabelValues(connection, outcomeOK).Add(float64(executed))
	}
	var stmtErr *StatementError
	if errors.As(err, &stmtErr) {
		m.statements.WithLabelValues(connection, outcomeError).Inc()
	}
	m.scripts.WithLabelValues(connection, outcome).Inc()
	m.duration.WithLabelValues(connection).Observe(elapsed.Seconds())
}
