package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	queues      *prometheus.GaugeVec
	drivesTotal *prometheus.GaugeVec
	drivesFree  *prometheus.GaugeVec
	drivesUsed  *prometheus.GaugeVec
	stagers     prometheus.Gauge

	requests    *prometheus.CounterVec
	readings    *prometheus.CounterVec
	activations *prometheus.CounterVec
	suspensions prometheus.Counter
	aborts      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &metrics{
		queues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "queues",
			Help:      "Number of live tape queues by status.",
		}, []string{"status"}),
		drivesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "drives_total",
			Help:      "Number of drives per media type.",
		}, []string{"media_type"}),
		drivesFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "drives_free",
			Help:      "Number of drives not used by any activated queue.",
		}, []string{"media_type"}),
		drivesUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "drives_used",
			Help:      "Number of drives used per media type and queue owner.",
		}, []string{"media_type", "user"}),
		stagers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "stagers_running",
			Help:      "Number of running stagers.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "requests_dispatched_total",
			Help:      "Number of requests handled by the dispatcher by outcome.",
		}, []string{"outcome"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "readings_total",
			Help:      "Number of staging attempts by outcome.",
		}, []string{"outcome"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "activations_total",
			Help:      "Number of queue activations by media type and selection pass.",
		}, []string{"media_type", "pass"}),
		suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "suspensions_total",
			Help:      "Number of queue suspensions.",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gostage",
			Subsystem: "scheduler",
			Name:      "aborts_total",
			Help:      "Number of queues aborted after too many suspensions.",
		}),
	}

	reg.MustRegister(
		m.queues, m.drivesTotal, m.drivesFree, m.drivesUsed, m.stagers,
		m.requests, m.readings, m.activations, m.suspensions, m.aborts,
	)
	return m
}

func (m *metrics) updateQueues(queues []*Queue) {
	counts := map[QueueStatus]int{}
	for _, q := range queues {
		counts[q.Status()]++
	}
	for _, status := range []QueueStatus{QueueCreated, QueueActivated, QueueTemporarilySuspended, QueueEnded} {
		m.queues.WithLabelValues(status.String()).Set(float64(counts[status]))
	}
}

func (m *metrics) updateResources(resources map[string]*Resource) {
	m.drivesUsed.Reset()
	for name, res := range resources {
		snap := res.Snapshot()
		m.drivesTotal.WithLabelValues(name).Set(float64(snap.Total))
		m.drivesFree.WithLabelValues(name).Set(float64(snap.Free))
		for user, n := range snap.Used {
			m.drivesUsed.WithLabelValues(name, user).Set(float64(n))
		}
	}
}
