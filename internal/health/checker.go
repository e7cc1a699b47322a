package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/pingsantohq/ag53230a/internal/metrics"
)

const defaultPollStale = 15 * time.Second

const (
	categoryNotConfigured = "NOT_CONFIGURED"
	categoryPollPending   = "POLL_PENDING"
	categoryPollStale     = "POLL_STALE"
	categoryQueuePressure = "QUEUE_PRESSURE"
	categoryStopped       = "ACQUISITION_STOPPED"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// StaleAfterForGate is how long the counter may go unpolled before the run is
// reported as stale: ten gate periods plus five seconds of slack.
func StaleAfterForGate(gate time.Duration) time.Duration {
	return 10*gate + 5*time.Second
}

// Checker evaluates readiness conditions for an acquisition run.
type Checker struct {
	metrics       *metrics.Store
	queueCapacity int
	staleAfter    time.Duration

	mu         sync.RWMutex
	configured bool
	stopErr    string
	stopped    bool
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
func NewChecker(store *metrics.Store, queueCapacity int, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultPollStale
	}
	return &Checker{
		metrics:       store,
		queueCapacity: queueCapacity,
		staleAfter:    staleAfter,
	}
}

// ObserveConfigured records whether the counter accepted its configuration.
func (c *Checker) ObserveConfigured(ok bool) {
	c.mu.Lock()
	c.configured = ok
	c.mu.Unlock()
}

// ObserveStopped records that the acquisition loop has ended. err is nil for
// a normal interrupt.
func (c *Checker) ObserveStopped(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if err != nil {
		c.stopErr = err.Error()
	}
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 4)
	categories := make([]metrics.ReadinessCategory, 0, 4)
	appendCategory := func(name, severity string) {
		categories = append(categories, metrics.ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}

	c.mu.RLock()
	configured := c.configured
	stopped := c.stopped
	stopErr := c.stopErr
	c.mu.RUnlock()

	if !configured {
		reasons = append(reasons, "counter not configured")
		appendCategory(categoryNotConfigured, severityCritical)
	}

	if stopped {
		reason := "acquisition stopped"
		if stopErr != "" {
			reason = fmt.Sprintf("acquisition stopped: %s", stopErr)
		}
		reasons = append(reasons, reason)
		appendCategory(categoryStopped, severityCritical)
	}

	if c.metrics != nil {
		snap := c.metrics.Snapshot()
		if configured && !stopped {
			if snap.LastPoll.IsZero() {
				reasons = append(reasons, "counter not yet polled")
				appendCategory(categoryPollPending, severityInfo)
			} else if age := now.Sub(snap.LastPoll); age > c.staleAfter {
				reasons = append(reasons, fmt.Sprintf("counter poll stale (%s)", age.Round(time.Second)))
				appendCategory(categoryPollStale, severityWarning)
			}
		}
		if c.queueCapacity > 0 && snap.QueueDepth >= int64(c.queueCapacity) {
			reasons = append(reasons, "sink queue at capacity")
			appendCategory(categoryQueuePressure, severityWarning)
		}
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		c.metrics.ObserveReadiness(ready, categories)
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
