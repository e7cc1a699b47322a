package runtime

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/ag53230a/internal/acquire"
	"github.com/pingsantohq/ag53230a/internal/health"
	"github.com/pingsantohq/ag53230a/internal/metrics"
	"github.com/pingsantohq/ag53230a/internal/queue"
	"github.com/pingsantohq/ag53230a/internal/transmit"
)

type Option func(*config)

type config struct {
	queueCapacity     int
	metricsStore      *metrics.Store
	checker           *health.Checker
	sink              transmit.Sink
	emitters          []acquire.Emitter
	loopOpts          []acquire.Option
	transmitOpts      []transmit.Option
	readinessInterval time.Duration
	logger            *log.Logger
}

func WithQueueCapacity(cap int) Option {
	return func(c *config) {
		if cap > 0 {
			c.queueCapacity = cap
		}
	}
}

func WithMetricsStore(store *metrics.Store) Option {
	return func(c *config) {
		c.metricsStore = store
	}
}

func WithChecker(checker *health.Checker) Option {
	return func(c *config) {
		c.checker = checker
	}
}

// WithSink enables the sample queue and a transmitter draining it into sink.
func WithSink(sink transmit.Sink) Option {
	return func(c *config) {
		c.sink = sink
	}
}

// WithEmitters adds synchronous consumers of every sample, such as the data
// file. They run before the sink queue sees the sample.
func WithEmitters(emitters ...acquire.Emitter) Option {
	return func(c *config) {
		c.emitters = append(c.emitters, emitters...)
	}
}

func WithLoopOptions(opts ...acquire.Option) Option {
	return func(c *config) {
		c.loopOpts = append(c.loopOpts, opts...)
	}
}

func WithTransmitOptions(opts ...transmit.Option) Option {
	return func(c *config) {
		c.transmitOpts = append(c.transmitOpts, opts...)
	}
}

func WithReadinessInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.readinessInterval = d
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Runtime wires one acquisition loop to its sample queue, sink transmitter
// and readiness evaluation.
type Runtime struct {
	loop              *acquire.Loop
	samples           *queue.SampleQueue
	transmitter       *transmit.Transmitter
	checker           *health.Checker
	readinessInterval time.Duration
}

func New(inst acquire.Instrument, gate time.Duration, opts ...Option) *Runtime {
	cfg := config{
		queueCapacity:     4096,
		readinessInterval: 5 * time.Second,
		logger:            log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rt := &Runtime{
		checker:           cfg.checker,
		readinessInterval: cfg.readinessInterval,
	}

	emitters := append([]acquire.Emitter(nil), cfg.emitters...)
	if cfg.sink != nil {
		rt.samples = queue.NewSampleQueue(cfg.queueCapacity)
		if cfg.metricsStore != nil {
			rt.samples.SetMetricsRecorder(cfg.metricsStore.QueueRecorder())
		}
		emitters = append(emitters, rt.samples)
		txOpts := append([]transmit.Option{transmit.WithLogger(cfg.logger)}, cfg.transmitOpts...)
		rt.transmitter = transmit.New(rt.samples, cfg.sink, txOpts...)
	}

	loopOpts := []acquire.Option{
		acquire.WithLogger(cfg.logger),
		acquire.WithEmitters(emitters...),
	}
	if cfg.metricsStore != nil {
		loopOpts = append(loopOpts, acquire.WithMetrics(cfg.metricsStore.AcquisitionRecorder()))
	}
	rt.loop = acquire.New(inst, gate, append(loopOpts, cfg.loopOpts...)...)
	return rt
}

func (r *Runtime) Loop() *acquire.Loop {
	return r.loop
}

// SampleQueue returns nil when no sink is configured.
func (r *Runtime) SampleQueue() *queue.SampleQueue {
	return r.samples
}

// Run blocks until the loop ends. Cancelling ctx is a normal stop and returns
// nil; the transmitter then gets one final flush before Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	aux, stopAux := context.WithCancel(gctx)
	defer stopAux()

	loopDone := make(chan struct{})
	g.Go(func() error {
		defer stopAux()
		defer close(loopDone)
		err := r.loop.Run(gctx)
		if r.checker != nil {
			r.checker.ObserveStopped(err)
		}
		return err
	})

	if r.transmitter != nil {
		g.Go(func() error {
			if err := r.transmitter.Run(aux); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if r.checker != nil {
		g.Go(func() error {
			r.evaluateReadiness(loopDone)
			return nil
		})
	}

	return g.Wait()
}

func (r *Runtime) evaluateReadiness(loopDone <-chan struct{}) {
	ticker := time.NewTicker(r.readinessInterval)
	defer ticker.Stop()
	for {
		r.checker.Ready(time.Now())
		select {
		case <-loopDone:
			r.checker.Ready(time.Now())
			return
		case <-ticker.C:
		}
	}
}
