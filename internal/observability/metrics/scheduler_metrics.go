package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/tiergate/pkg/db"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

// SchedulerMetrics captures scheduler health signals for operator alerting.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobSkips       *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	usersProcessed *prometheus.CounterVec
	userFailures   *prometheus.CounterVec
	failureRate    *prometheus.GaugeVec
	bulkAlerts     *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_scheduler_job_runs_total",
		Help: "Scheduler job runs by name.",
	}, []string{"job"})
	jobSkips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_scheduler_job_skips_total",
		Help: "Scheduler job triggers skipped because a run was already in flight.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tiergate_scheduler_job_duration_seconds",
		Help:    "Scheduler job latency to keep reset and sweep batches fresh.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_scheduler_job_timeouts_total",
		Help: "Scheduler jobs that exceeded their deadline.",
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_scheduler_job_errors_total",
		Help: "Scheduler job errors by low-cardinality type.",
	}, []string{"job", "type"})
	usersProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_scheduler_users_processed_total",
		Help: "Users processed by bulk reset and sweep jobs.",
	}, []string{"job"})
	userFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_scheduler_user_failures_total",
		Help: "Per-user failures inside bulk reset and sweep jobs.",
	}, []string{"job"})
	failureRate := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiergate_scheduler_bulk_failure_rate",
		Help: "Failure rate of the most recent bulk job run.",
	}, []string{"job"})
	bulkAlerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_scheduler_bulk_alerts_total",
		Help: "Bulk job runs whose failure rate crossed the alert threshold.",
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiergate_scheduler_runloop_lag_seconds",
		Help:    "Scheduler run loop lag beyond the configured interval.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	for _, c := range []prometheus.Collector{
		jobRuns, jobSkips, jobDuration, jobTimeouts, jobErrors,
		usersProcessed, userFailures, failureRate, bulkAlerts, runLoopLag,
	} {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return &SchedulerMetrics{
		jobRuns:        jobRuns,
		jobSkips:       jobSkips,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		usersProcessed: usersProcessed,
		userFailures:   userFailures,
		failureRate:    failureRate,
		bulkAlerts:     bulkAlerts,
		runLoopLag:     runLoopLag,
	}
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobSkip(job string) {
	if m == nil {
		return
	}
	m.jobSkips.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerErrorType(err)).Inc()
}

func (m *SchedulerMetrics) AddUsersProcessed(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.usersProcessed.WithLabelValues(job).Add(float64(n))
}

func (m *SchedulerMetrics) AddUserFailures(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.userFailures.WithLabelValues(job).Add(float64(n))
}

func (m *SchedulerMetrics) SetFailureRate(job string, rate float64) {
	if m == nil {
		return
	}
	m.failureRate.WithLabelValues(job).Set(rate)
}

func (m *SchedulerMetrics) IncBulkAlert(job string) {
	if m == nil {
		return
	}
	m.bulkAlerts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifySchedulerErrorType buckets job errors into low-cardinality types.
func ClassifySchedulerErrorType(err error) string {
	switch {
	case err == nil:
		return SchedulerErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerErrorTypeDeadlineExceeded
	case db.IsTransientErr(err), db.IsDuplicateKeyErr(err),
		errors.Is(err, gorm.ErrInvalidDB), errors.Is(err, gorm.ErrInvalidTransaction):
		return SchedulerErrorTypeDB
	default:
		return SchedulerErrorTypeUnknown
	}
}
