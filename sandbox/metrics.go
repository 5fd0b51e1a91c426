package sandbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for sandbox executions. All metrics use
// the skillbox_sandbox_ namespace. One Metrics value may be shared by any
// number of sandboxes; series are partitioned by the skill label.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	PermissionDenials *prometheus.CounterVec
	Timeouts          *prometheus.CounterVec
}

// NewMetrics creates and registers sandbox metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillbox",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total command executions by skill and status.",
		}, []string{"skill", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "skillbox",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"skill"}),

		PermissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillbox",
			Subsystem: "sandbox",
			Name:      "permission_denials_total",
			Help:      "Commands rejected by the permission gate.",
		}, []string{"skill"}),

		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillbox",
			Subsystem: "sandbox",
			Name:      "timeouts_total",
			Help:      "Executions killed by the supervisory timeout.",
		}, []string{"skill"}),
	}

	reg.MustRegister(m.ExecutionsTotal, m.ExecutionDuration, m.PermissionDenials, m.Timeouts)
	return m
}

// observe records one finished execution.
func (m *Metrics) observe(skill string, res *Result) {
	status := "success"
	switch {
	case res.Kind != "":
		status = string(res.Kind)
	case res.ExitCode != 0:
		status = "nonzero_exit"
	}

	m.ExecutionsTotal.WithLabelValues(skill, status).Inc()
	m.ExecutionDuration.WithLabelValues(skill).Observe(res.Duration.Seconds())

	switch res.Kind {
	case FailurePermissionDenied:
		m.PermissionDenials.WithLabelValues(skill).Inc()
	case FailureTimeout:
		m.Timeouts.WithLabelValues(skill).Inc()
	}
}

// Stats is a snapshot of one sandbox's execution counters.
type Stats struct {
	TotalExecutions   int
	Succeeded         int
	Failed            int
	PermissionDenials int
	Timeouts          int
	TotalDuration     time.Duration
}

// AverageDuration returns the mean execution time, or zero when nothing
// has run yet.
func (s Stats) AverageDuration() time.Duration {
	if s.TotalExecutions == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.TotalExecutions)
}

// Stats returns a copy of the sandbox's execution counters.
func (s *Sandbox) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Sandbox) recordStats(res *Result) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.TotalExecutions++
	s.stats.TotalDuration += res.Duration
	if res.Success {
		s.stats.Succeeded++
	} else {
		s.stats.Failed++
	}
	switch res.Kind {
	case FailurePermissionDenied:
		s.stats.PermissionDenials++
	case FailureTimeout:
		s.stats.Timeouts++
	}
}
