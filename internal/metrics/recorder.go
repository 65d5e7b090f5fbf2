package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder exports bot activity as Prometheus metrics. A nil *Recorder is a
// valid no-op.
type Recorder struct {
	registry        *prom.Registry
	actions         *prom.CounterVec
	taskRuns        *prom.CounterVec
	taskDuration    *prom.HistogramVec
	persistFailures prom.Counter
}

// NewRecorder constructs the metrics and registers them, plus the Go and
// process collectors, on reg. A nil reg gets a fresh registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		registry: reg,
		actions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "lunchbot",
			Name:      "actions_total",
			Help:      "Menu actions by outcome",
		}, []string{"action", "outcome"}),
		taskRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "lunchbot",
			Name:      "task_runs_total",
			Help:      "Scheduled task runs by result",
		}, []string{"task", "result"}),
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "lunchbot",
			Name:      "task_duration_seconds",
			Help:      "Duration of scheduled task runs",
			Buckets:   prom.DefBuckets,
		}, []string{"task"}),
		persistFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: "lunchbot",
			Name:      "persist_failures_total",
			Help:      "Daily state saves that failed after an in-memory change",
		}),
	}
	reg.MustRegister(r.actions, r.taskRuns, r.taskDuration, r.persistFailures)
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return r
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// IncAction counts one menu action.
func (r *Recorder) IncAction(action, outcome string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(action, outcome).Inc()
}

// IncPersistFailure counts a failed state save.
func (r *Recorder) IncPersistFailure() {
	if r == nil {
		return
	}
	r.persistFailures.Inc()
}

// ObserveTask records a scheduled run.
func (r *Recorder) ObserveTask(task string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failed"
	}
	r.taskRuns.WithLabelValues(task, result).Inc()
	r.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}
