package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	bindsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weakreg",
			Subsystem: "registry",
			Name:      "binds_total",
			Help:      "Handle bind attempts by result.",
		},
		[]string{"result"},
	)
	resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weakreg",
			Subsystem: "registry",
			Name:      "resolves_total",
			Help:      "Handle resolve calls by result.",
		},
		[]string{"result"},
	)
	finalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weakreg",
			Subsystem: "registry",
			Name:      "finalizations_total",
			Help:      "Finalization notifications delivered to the registry.",
		},
		[]string{"kind", "outcome"},
	)
	indexEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "weakreg",
			Subsystem: "registry",
			Name:      "index_entries",
			Help:      "Current entries per index.",
		},
		[]string{"index"},
	)
	collectorPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "weakreg",
			Subsystem: "collector",
			Name:      "pending",
			Help:      "Finalization notifications queued for the next safepoint.",
		},
	)
	collectorDrained = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "weakreg",
			Subsystem: "collector",
			Name:      "drained_total",
			Help:      "Finalization notifications delivered at safepoints.",
		},
	)
	collectorCycles = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "weakreg",
			Subsystem: "collector",
			Name:      "forced_cycle_seconds",
			Help:      "Duration of forced collection cycles.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	collectorQueueWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "weakreg",
			Subsystem: "collector",
			Name:      "queue_wait_seconds",
			Help:      "Time a finalization notification waited for a safepoint.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weakreg",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "weakreg",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			bindsTotal,
			resolvesTotal,
			finalizationsTotal,
			indexEntries,
			collectorPending,
			collectorDrained,
			collectorCycles,
			collectorQueueWait,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordBind(result string) {
	RegisterMetrics()
	bindsTotal.WithLabelValues(result).Inc()
}

func RecordResolve(result string) {
	RegisterMetrics()
	resolvesTotal.WithLabelValues(result).Inc()
}

// RecordFinalization counts one delivered notification; kind is "target" or
// "handle", outcome is "applied" or "noop".
func RecordFinalization(kind, outcome string) {
	RegisterMetrics()
	finalizationsTotal.WithLabelValues(kind, outcome).Inc()
}

func SetIndexEntries(forward, reverse int) {
	RegisterMetrics()
	indexEntries.WithLabelValues("forward").Set(float64(forward))
	indexEntries.WithLabelValues("reverse").Set(float64(reverse))
}

func SetCollectorPending(n int) {
	RegisterMetrics()
	collectorPending.Set(float64(n))
}

func RecordDrain(delivered int) {
	RegisterMetrics()
	collectorDrained.Add(float64(delivered))
}

func RecordForcedCycle(duration time.Duration) {
	RegisterMetrics()
	collectorCycles.Observe(duration.Seconds())
}

func RecordQueueWait(wait time.Duration) {
	RegisterMetrics()
	collectorQueueWait.Observe(wait.Seconds())
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
