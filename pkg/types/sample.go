package types

import (
	"fmt"
	"time"
)

// MJDEpochOffset is the Modified Julian Date of the Unix epoch (1970-01-01).
const MJDEpochOffset = 40587.0

const secondsPerDay = 86400.0

// Sample is a single frequency reading removed from the counter's memory.
type Sample struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Timestamp time.Time `json:"ts" yaml:"ts"`
	Epoch     float64   `json:"epoch" yaml:"epoch"`
	MJD       float64   `json:"mjd" yaml:"mjd"`
	Frequency string    `json:"frequency" yaml:"frequency"`
	Hz        float64   `json:"hz" yaml:"hz"`
}

// EpochSeconds converts t to Unix seconds with sub-second precision.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// MJD derives the Modified Julian Date from Unix epoch seconds.
func MJD(epoch float64) float64 {
	return epoch/secondsPerDay + MJDEpochOffset
}

// Line renders the sample as one tab-separated data file record.
func (s Sample) Line() string {
	return fmt.Sprintf("%f\t%f\t%s\n", s.Epoch, s.MJD, s.Frequency)
}
