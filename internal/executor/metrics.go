package executor

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report executor activity.
type Metrics struct {
	instructions  *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	cacheEvents   *prometheus.CounterVec
	batchSize     prometheus.Histogram
	inFlight      prometheus.Gauge
	runnerRetries prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered are reused; any other registration
// error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	instructions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drillflow",
			Subsystem: "executor",
			Name:      "instructions_total",
			Help:      "Instructions resolved by the executor, by status and cache use.",
		},
		[]string{"status", "cached"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drillflow",
			Subsystem: "executor",
			Name:      "runner_duration_seconds",
			Help:      "Time spent in the external runner per instruction.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	cacheEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drillflow",
			Subsystem: "executor",
			Name:      "cache_events_total",
			Help:      "Result cache lookups and stores.",
		},
		[]string{"event"},
	)
	batchSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "drillflow",
			Subsystem: "executor",
			Name:      "batch_size",
			Help:      "Number of instructions per executed batch.",
			Buckets:   []float64{1, 2, 4, 6, 8, 12, 16, 32},
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "drillflow",
			Subsystem: "executor",
			Name:      "runner_calls_in_flight",
			Help:      "Runner calls currently executing.",
		},
	)
	runnerRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drillflow",
			Subsystem: "executor",
			Name:      "runner_retries_total",
			Help:      "Runner attempts beyond the first one.",
		},
	)

	collectors := []prometheus.Collector{instructions, duration, cacheEvents, batchSize, inFlight, runnerRetries}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case instructions:
						instructions = already.ExistingCollector.(*prometheus.CounterVec)
					case cacheEvents:
						cacheEvents = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case *prometheus.HistogramVec:
					duration = already.ExistingCollector.(*prometheus.HistogramVec)
				case prometheus.Histogram:
					batchSize = already.ExistingCollector.(prometheus.Histogram)
				case prometheus.Gauge:
					inFlight = already.ExistingCollector.(prometheus.Gauge)
				case prometheus.Counter:
					runnerRetries = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		instructions:  instructions,
		duration:      duration,
		cacheEvents:   cacheEvents,
		batchSize:     batchSize,
		inFlight:      inFlight,
		runnerRetries: runnerRetries,
	}
}

// ObserveInstruction counts a resolved instruction.
func (m *Metrics) ObserveInstruction(status string, cached bool) {
	if m == nil || m.instructions == nil {
		return
	}
	m.instructions.WithLabelValues(status, strconv.FormatBool(cached)).Inc()
}

// ObserveRunner records the runner latency for one instruction.
func (m *Metrics) ObserveRunner(status string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(status).Observe(d.Seconds())
}

// IncCacheEvent counts a cache hit, miss, store or coalesced wait.
func (m *Metrics) IncCacheEvent(event string) {
	if m == nil || m.cacheEvents == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}

// ObserveBatch records a batch size.
func (m *Metrics) ObserveBatch(size int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

// IncInFlight marks a runner call as started.
func (m *Metrics) IncInFlight() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

// DecInFlight marks a runner call as finished.
func (m *Metrics) DecInFlight() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Dec()
}

// IncRetry counts an extra runner attempt.
func (m *Metrics) IncRetry() {
	if m == nil || m.runnerRetries == nil {
		return
	}
	m.runnerRetries.Inc()
}
