package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobMetrics counts large-file job lifecycle transitions on both the
// publisher and the worker side.
type JobMetrics struct {
	created   prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	retried   prometheus.Counter
	depth     prometheus.Gauge
}

// NewJobMetrics creates the job collectors, or nil when metrics are disabled.
func NewJobMetrics() *JobMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &JobMetrics{
		created: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "telarch_jobs_created_total",
			Help: "Total large-file jobs published to the queue",
		}),
		completed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "telarch_jobs_completed_total",
			Help: "Total large-file jobs completed successfully",
		}),
		failed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "telarch_jobs_failed_total",
			Help: "Total large-file jobs that ended in failure",
		}),
		retried: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "telarch_jobs_retried_total",
			Help: "Total explicit job retries",
		}),
		depth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "telarch_queue_depth",
			Help: "Messages waiting in the large-file queue at last check",
		}),
	}
}

func (m *JobMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *JobMetrics) RecordCompleted() {
	if m == nil {
		return
	}
	m.completed.Inc()
}

func (m *JobMetrics) RecordFailed() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

func (m *JobMetrics) RecordRetried() {
	if m == nil {
		return
	}
	m.retried.Inc()
}

// SetQueueDepth publishes the last observed queue depth.
func (m *JobMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}
