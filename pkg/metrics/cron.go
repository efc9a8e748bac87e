package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron run results.
const (
	CronResultSuccess = "success"
	CronResultFailure = "failure"
	CronResultSkipped = "skipped"
)

// CronJobMetrics records sweep and replay runs.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_cron_runs_total",
		Help: "Scheduled job runs, by job and result.",
	}, []string{"job", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "entitlement_cron_run_duration_seconds",
		Help:    "Wall time of scheduled jobs that acquired their lock.",
		Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 300},
	}, []string{"job"})
	reg.MustRegister(runs, duration)
	return &CronJobMetrics{runs: runs, duration: duration}
}

// RecordRun counts one run. Skipped runs carry no duration.
func (c *CronJobMetrics) RecordRun(job, result string, duration time.Duration) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.runs.WithLabelValues(job, normalizeLabel(result)).Inc()
	if result != CronResultSkipped && duration > 0 {
		c.duration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
