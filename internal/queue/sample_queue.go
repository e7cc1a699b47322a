package queue

import (
	"sync"

	"github.com/pingsantohq/ag53230a/internal/metrics"
	"github.com/pingsantohq/ag53230a/pkg/types"
)

// SampleQueue buffers recorded samples for the downstream sinks. When full it
// drops the oldest sample; the data file is the record of truth.
type SampleQueue struct {
	mu       sync.Mutex
	capacity int
	items    []types.Sample
	dropped  uint64
	metrics  metrics.QueueRecorder
}

func NewSampleQueue(capacity int) *SampleQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &SampleQueue{
		capacity: capacity,
		items:    make([]types.Sample, 0, capacity),
		metrics:  metrics.NoopQueueRecorder{},
	}
}

func (q *SampleQueue) SetMetricsRecorder(rec metrics.QueueRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec == nil {
		rec = metrics.NoopQueueRecorder{}
	}
	q.metrics = rec
}

// Emit enqueues sample. It never fails so a slow sink cannot stop acquisition.
func (q *SampleQueue) Emit(sample types.Sample) error {
	q.Enqueue(sample)
	return nil
}

func (q *SampleQueue) Enqueue(sample types.Sample) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		dropped = true
		q.dropped++
		q.metrics.IncQueueDrops()
	}
	q.items = append(q.items, sample)
	q.metrics.ObserveQueueDepth(len(q.items))
	return dropped
}

// Requeue puts samples that failed delivery back at the head of the queue,
// keeping as many of them as capacity allows.
func (q *SampleQueue) Requeue(samples []types.Sample) {
	if len(samples) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]types.Sample, 0, len(samples)+len(q.items))
	merged = append(merged, samples...)
	merged = append(merged, q.items...)
	if over := len(merged) - q.capacity; over > 0 {
		merged = merged[over:]
		q.dropped += uint64(over)
		for i := 0; i < over; i++ {
			q.metrics.IncQueueDrops()
		}
	}
	q.items = merged
	q.metrics.ObserveQueueDepth(len(q.items))
}

func (q *SampleQueue) Drain(max int) []types.Sample {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	drained := make([]types.Sample, n)
	copy(drained, q.items[:n])
	q.items = q.items[n:]
	q.metrics.ObserveQueueDepth(len(q.items))
	return drained
}

func (q *SampleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type Stats struct {
	Len     int
	Dropped uint64
}

func (q *SampleQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:     len(q.items),
		Dropped: q.dropped,
	}
}
