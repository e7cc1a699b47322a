package metrics

import (
	"time"

	"github.com/pingsantohq/ag53230a/pkg/types"
)

type AcquisitionRecorder interface {
	ObservePoll(pending int, at time.Time)
	ObserveSample(sample types.Sample)
	IncPollErrors(stage string)
}

type NoopAcquisitionRecorder struct{}

func (NoopAcquisitionRecorder) ObservePoll(pending int, at time.Time) {}
func (NoopAcquisitionRecorder) ObserveSample(sample types.Sample)     {}
func (NoopAcquisitionRecorder) IncPollErrors(stage string)            {}

type QueueRecorder interface {
	ObserveQueueDepth(depth int)
	IncQueueDrops()
}

type NoopQueueRecorder struct{}

func (NoopQueueRecorder) ObserveQueueDepth(depth int) {}
func (NoopQueueRecorder) IncQueueDrops()              {}

type SinkRecorder interface {
	ObserveSinkWrite(sink string, samples int, err error)
}

type NoopSinkRecorder struct{}

func (NoopSinkRecorder) ObserveSinkWrite(sink string, samples int, err error) {}
