package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/ag53230a/internal/instrument"
	"github.com/pingsantohq/ag53230a/internal/metrics"
	"github.com/pingsantohq/ag53230a/pkg/types"
)

// Instrument is the part of an instrument.Session the loop drives.
type Instrument interface {
	Configured() bool
	Start(ctx context.Context) error
	Query(ctx context.Context, cmd string) (string, error)
	QueryBounded(ctx context.Context, cmd string, max int) (string, error)
}

// Emitter receives every recorded sample. An emitter error ends the run.
type Emitter interface {
	Emit(sample types.Sample) error
}

type EmitterFunc func(types.Sample) error

func (f EmitterFunc) Emit(sample types.Sample) error {
	return f(sample)
}

var ErrStopped = errors.New("acquisition loop already stopped")

// State is the lifecycle position of a Loop.
type State int32

const (
	StateIdle State = iota
	StateConfigured
	StateEmptyWait
	StateSampleReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateEmptyWait:
		return "polling/empty-wait"
	case StateSampleReady:
		return "polling/sample-ready"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*Loop)

func WithLogger(logger *log.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithEmitters(emitters ...Emitter) Option {
	return func(l *Loop) {
		for _, e := range emitters {
			if e != nil {
				l.emitters = append(l.emitters, e)
			}
		}
	}
}

func WithMetrics(rec metrics.AcquisitionRecorder) Option {
	return func(l *Loop) {
		if rec != nil {
			l.metrics = rec
		}
	}
}

func WithRunID(id string) Option {
	return func(l *Loop) {
		if id != "" {
			l.runID = id
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleep replaces the empty-wait pause. The function must return early
// when ctx is cancelled.
func WithSleep(sleep func(context.Context, time.Duration)) Option {
	return func(l *Loop) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithErrorLogLimit caps how often recoverable failures are logged.
func WithErrorLogLimit(every time.Duration, burst int) Option {
	return func(l *Loop) {
		if every > 0 && burst > 0 {
			l.errLog = rate.NewLimiter(rate.Every(every), burst)
		}
	}
}

// Loop polls the counter memory and records one sample per poll that finds
// buffered measurements.
type Loop struct {
	inst      Instrument
	emptyWait time.Duration
	emitters  []Emitter
	metrics   metrics.AcquisitionRecorder
	logger    *log.Logger
	runID     string
	now       func() time.Time
	sleep     func(context.Context, time.Duration)
	errLog    *rate.Limiter

	ran        atomic.Bool
	state      atomic.Int32
	samples    atomic.Uint64
	failures   atomic.Uint64
	suppressed uint64
}

// New builds a loop for a counter configured with the given gate time. When
// the counter memory is empty the loop waits a tenth of the gate.
func New(inst Instrument, gate time.Duration, opts ...Option) *Loop {
	l := &Loop{
		inst:      inst,
		emptyWait: gate / 10,
		metrics:   metrics.NoopAcquisitionRecorder{},
		logger:    log.New(io.Discard, "", 0),
		runID:     uuid.NewString(),
		now:       time.Now,
		sleep:     sleepContext,
		errLog:    rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) RunID() string {
	return l.runID
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// Samples returns the number of samples recorded so far.
func (l *Loop) Samples() uint64 {
	return l.samples.Load()
}

// Failures returns the number of recoverable failures seen so far.
func (l *Loop) Failures() uint64 {
	return l.failures.Load()
}

// Run starts immediate acquisition and polls until ctx is cancelled, which
// is a normal stop and returns nil. A lost connection, a reply stream that
// cannot be realigned after a timeout, or a failing emitter ends the run with
// an error. A loop runs at most once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.ran.CompareAndSwap(false, true) {
		return ErrStopped
	}
	if l.inst.Configured() {
		l.setState(StateConfigured)
	}
	defer l.setState(StateStopped)

	if err := l.inst.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("start acquisition: %w", err)
	}
	l.setState(StateEmptyWait)
	l.logger.Printf("waiting for the first acquisition (run=%s, empty wait=%s)", l.runID, l.emptyWait)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (l *Loop) poll(ctx context.Context) error {
	raw, err := l.inst.Query(ctx, instrument.CmdDataPoints)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if fatal(err) {
			return fmt.Errorf("poll buffered count: %w", err)
		}
		l.recoverable(ctx, "count", err)
		l.wait(ctx)
		return nil
	}
	now := l.now()

	pending, err := ParseCount(raw)
	if err != nil {
		l.recoverable(ctx, "count", err)
		l.wait(ctx)
		return nil
	}
	l.metrics.ObservePoll(pending, now)

	if pending == 0 {
		l.setState(StateEmptyWait)
		l.wait(ctx)
		return nil
	}

	l.setState(StateSampleReady)
	sample, err := l.fetch(ctx, now)
	if err != nil {
		if fatal(err) {
			return fmt.Errorf("fetch sample: %w", err)
		}
		l.recoverable(ctx, "sample", err)
		return nil
	}

	for _, e := range l.emitters {
		if err := e.Emit(sample); err != nil {
			return fmt.Errorf("record sample: %w", err)
		}
	}
	l.samples.Add(1)
	l.metrics.ObserveSample(sample)
	return nil
}

func (l *Loop) fetch(ctx context.Context, now time.Time) (types.Sample, error) {
	raw, err := l.inst.QueryBounded(ctx, instrument.CmdRemoveSample, MaxSampleReply)
	if err != nil {
		return types.Sample{}, err
	}
	freq, hz, err := CleanFrequency(raw)
	if err != nil {
		return types.Sample{}, err
	}
	epoch := types.EpochSeconds(now)
	return types.Sample{
		RunID:     l.runID,
		Timestamp: now.UTC(),
		Epoch:     epoch,
		MJD:       types.MJD(epoch),
		Frequency: freq,
		Hz:        hz,
	}, nil
}

func (l *Loop) wait(ctx context.Context) {
	if l.emptyWait <= 0 {
		return
	}
	l.sleep(ctx, l.emptyWait)
}

func (l *Loop) recoverable(ctx context.Context, stage string, err error) {
	if ctx.Err() != nil {
		return
	}
	l.failures.Add(1)
	l.metrics.IncPollErrors(stage)
	if !l.errLog.Allow() {
		l.suppressed++
		return
	}
	if l.suppressed > 0 {
		l.logger.Printf("counter %s read failed: %v (%d similar errors suppressed)", stage, err, l.suppressed)
		l.suppressed = 0
		return
	}
	l.logger.Printf("counter %s read failed: %v", stage, err)
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

func fatal(err error) bool {
	return errors.Is(err, instrument.ErrClosed) || errors.Is(err, instrument.ErrStopped) ||
		errors.Is(err, instrument.ErrDesync)
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
