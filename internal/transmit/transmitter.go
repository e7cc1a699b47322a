package transmit

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/pingsantohq/ag53230a/internal/queue"
	"github.com/pingsantohq/ag53230a/pkg/types"
)

// Sink defines the downstream consumer for recorded samples (redis, postgres, sqlite).
type Sink interface {
	Send(ctx context.Context, samples []types.Sample) error
}

// Option configures a Transmitter instance.
type Option func(*Transmitter)

// WithBatchSize overrides the number of samples flushed per send.
func WithBatchSize(size int) Option {
	return func(t *Transmitter) {
		if size > 0 {
			t.batchSize = size
		}
	}
}

// WithIdleSleep customises the sleep interval when no data is available.
func WithIdleSleep(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.idleSleep = d
		}
	}
}

// WithRetrySleep customises the backoff applied after a failed send attempt.
func WithRetrySleep(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.retrySleep = d
		}
	}
}

// WithDrainTimeout bounds the final flush performed after cancellation.
func WithDrainTimeout(d time.Duration) Option {
	return func(t *Transmitter) {
		if d >= 0 {
			t.drainTimeout = d
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(t *Transmitter) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transmitter drains recorded samples from the in-memory queue and hands them
// to a downstream sink. Failed batches go back to the head of the queue.
type Transmitter struct {
	queue        *queue.SampleQueue
	sink         Sink
	batchSize    int
	idleSleep    time.Duration
	retrySleep   time.Duration
	drainTimeout time.Duration
	logger       *log.Logger
	errLog       *rate.Limiter
}

// New constructs a Transmitter. The queue and sink are required.
func New(q *queue.SampleQueue, sink Sink, opts ...Option) *Transmitter {
	t := &Transmitter{
		queue:        q,
		sink:         sink,
		batchSize:    256,
		idleSleep:    100 * time.Millisecond,
		retrySleep:   time.Second,
		drainTimeout: 2 * time.Second,
		logger:       log.New(io.Discard, "", 0),
		errLog:       rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run blocks until the context is cancelled. Once cancelled it makes one last
// attempt to deliver whatever is still queued, then returns the context error.
func (t *Transmitter) Run(ctx context.Context) error {
	if t.queue == nil {
		return errors.New("transmitter queue is nil")
	}
	if t.sink == nil {
		return errors.New("transmitter sink is nil")
	}

	for {
		if err := ctx.Err(); err != nil {
			t.finalFlush()
			return err
		}

		if t.flushQueue(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(t.idleSleep):
		}
	}
}

func (t *Transmitter) flushQueue(ctx context.Context) bool {
	samples := t.queue.Drain(t.batchSize)
	if len(samples) == 0 {
		return false
	}

	if err := t.sink.Send(ctx, samples); err != nil {
		t.queue.Requeue(samples)
		if ctx.Err() == nil && t.errLog.Allow() {
			t.logger.Printf("sink delivery failed, %d samples requeued: %v", len(samples), err)
		}
		t.sleep(ctx, t.retrySleep)
	}
	return true
}

func (t *Transmitter) finalFlush() {
	if t.drainTimeout == 0 || t.queue.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.drainTimeout)
	defer cancel()

	for t.queue.Len() > 0 {
		samples := t.queue.Drain(t.batchSize)
		if err := t.sink.Send(ctx, samples); err != nil {
			t.queue.Requeue(samples)
			t.logger.Printf("final sink flush abandoned with %d samples queued: %v", t.queue.Len(), err)
			return
		}
	}
}

func (t *Transmitter) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
