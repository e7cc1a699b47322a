package metrics

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pingsantohq/ag53230a/pkg/types"
)

const namespace = "ag53230a"

// Store owns the Prometheus collectors of one acquisition run and mirrors the
// values the readiness checker needs.
type Store struct {
	registry *prometheus.Registry

	samples        prometheus.Counter
	emptyPolls     prometheus.Counter
	pollErrors     *prometheus.CounterVec
	pending        prometheus.Gauge
	lastFrequency  prometheus.Gauge
	lastSampleTime prometheus.Gauge
	queueDepth     prometheus.Gauge
	queueDrops     prometheus.Counter
	sinkWrites     *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
	ready          prometheus.Gauge
	readyReasons   *prometheus.GaugeVec
	transitions    *prometheus.CounterVec

	lastPollNanos   atomic.Int64
	lastSampleNanos atomic.Int64
	queueDepthValue atomic.Int64
	readyState      atomic.Int64
	latest          atomic.Pointer[types.Sample]
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with its own registry so tests and multiple
// runs never collide on the global one.
func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Frequency samples removed from the counter and recorded.",
		}),
		emptyPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_polls_total",
			Help:      "Polls that found no buffered measurement.",
		}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Recoverable polling failures by stage.",
		}, []string{"stage"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_samples",
			Help:      "Measurements waiting in the counter memory at the last poll.",
		}),
		lastFrequency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_frequency_hertz",
			Help:      "Most recently recorded frequency.",
		}),
		lastSampleTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sample_timestamp_seconds",
			Help:      "Unix time of the most recently recorded sample.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth_number",
			Help:      "Samples buffered in memory for downstream sinks.",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Samples dropped for downstream sinks due to queue pressure.",
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_samples_total",
			Help:      "Samples delivered to each downstream sink.",
		}, []string{"sink"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed deliveries to each downstream sink.",
		}, []string{"sink"}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "Whether the agent considers itself ready (1=ready).",
		}),
		readyReasons: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_categories_info",
			Help:      "Categories associated with the most recent readiness evaluation.",
		}, []string{"category", "severity"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ready_transitions_total",
			Help:      "Count of readiness state transitions by resulting state.",
		}, []string{"state"}),
	}
	s.registry.MustRegister(
		s.samples, s.emptyPolls, s.pollErrors, s.pending, s.lastFrequency,
		s.lastSampleTime, s.queueDepth, s.queueDrops, s.sinkWrites, s.sinkErrors,
		s.ready, s.readyReasons, s.transitions,
		collectors.NewGoCollector(),
	)
	s.readyState.Store(-1)
	return s
}

// Registry exposes the underlying registry for additional collectors.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// Snapshot captures the values used for readiness decisions.
type Snapshot struct {
	QueueDepth   int64
	LastPoll     time.Time
	LastSample   time.Time
	LatestSample *types.Sample
	Ready        bool
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		QueueDepth: s.queueDepthValue.Load(),
		LastPoll:   fromNanos(s.lastPollNanos.Load()),
		LastSample: fromNanos(s.lastSampleNanos.Load()),
		Ready:      s.readyState.Load() == 1,
	}
	if latest := s.latest.Load(); latest != nil {
		cp := *latest
		snap.LatestSample = &cp
	}
	return snap
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *Store) AcquisitionRecorder() AcquisitionRecorder {
	return acquisitionRecorder{store: s}
}

func (s *Store) QueueRecorder() QueueRecorder {
	return queueRecorder{store: s}
}

func (s *Store) SinkRecorder() SinkRecorder {
	return sinkRecorder{store: s}
}

type acquisitionRecorder struct {
	store *Store
}

func (r acquisitionRecorder) ObservePoll(pending int, at time.Time) {
	r.store.pending.Set(float64(pending))
	if pending == 0 {
		r.store.emptyPolls.Inc()
	}
	r.store.lastPollNanos.Store(at.UnixNano())
}

func (r acquisitionRecorder) ObserveSample(sample types.Sample) {
	r.store.samples.Inc()
	r.store.lastFrequency.Set(sample.Hz)
	r.store.lastSampleTime.Set(sample.Epoch)
	r.store.lastSampleNanos.Store(sample.Timestamp.UnixNano())
	r.store.latest.Store(&sample)
}

func (r acquisitionRecorder) IncPollErrors(stage string) {
	r.store.pollErrors.WithLabelValues(stage).Inc()
}

type queueRecorder struct {
	store *Store
}

func (r queueRecorder) ObserveQueueDepth(depth int) {
	r.store.queueDepth.Set(float64(depth))
	r.store.queueDepthValue.Store(int64(depth))
}

func (r queueRecorder) IncQueueDrops() {
	r.store.queueDrops.Inc()
}

type sinkRecorder struct {
	store *Store
}

func (r sinkRecorder) ObserveSinkWrite(sink string, samples int, err error) {
	if err != nil {
		r.store.sinkErrors.WithLabelValues(sink).Inc()
		return
	}
	r.store.sinkWrites.WithLabelValues(sink).Add(float64(samples))
}

// ObserveReadiness records the outcome of a readiness evaluation.
func (s *Store) ObserveReadiness(ready bool, categories []ReadinessCategory) {
	prev := s.readyState.Load()
	s.readyReasons.Reset()
	if ready {
		if prev != 1 {
			s.transitions.WithLabelValues("ready").Inc()
		}
		s.readyState.Store(1)
		s.ready.Set(1)
		return
	}
	if prev != 0 {
		s.transitions.WithLabelValues("not_ready").Inc()
	}
	s.readyState.Store(0)
	s.ready.Set(0)
	for _, cat := range categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			name = "unknown"
		}
		s.readyReasons.WithLabelValues(name, normalizeSeverity(cat.Severity)).Set(1)
	}
}

func normalizeSeverity(severity string) string {
	severity = strings.TrimSpace(strings.ToLower(severity))
	switch severity {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return severity
	}
}

// NewHTTPHandler returns an http.Handler that serves the store's registry.
func NewHTTPHandler(store *Store) http.Handler {
	return promhttp.HandlerFor(store.registry, promhttp.HandlerOpts{})
}
