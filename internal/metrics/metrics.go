// Package metrics counts task transitions in a manager.
package metrics

import (
	"fmt"
	"time"
)

// Snapshot is a point-in-time copy of a manager's counters.
type Snapshot struct {
	Admitted    int `json:"admitted"`
	Started     int `json:"started"`
	Queued      int `json:"queued"` // admissions that had to wait for a slot
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Canceled    int `json:"canceled"`
	Signals     int `json:"signals"`
	Dropped     int `json:"dropped"` // messages for unknown tasks
	PeakRunning int `json:"peak_running"`

	// TotalRunTime sums the wall time of every finished task that started.
	TotalRunTime time.Duration `json:"total_run_time"`
}

// Finished returns the number of tasks that reached a terminal state.
func (s Snapshot) Finished() int {
	return s.Completed + s.Failed + s.Canceled
}

// InFlight returns admitted tasks not yet finished.
func (s Snapshot) InFlight() int {
	return s.Admitted - s.Finished()
}

// SuccessRate returns the share of finished tasks that completed (0-100).
func (s Snapshot) SuccessRate() float64 {
	if s.Finished() == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Finished()) * 100
}

// MeanRunTime returns the average run time of started tasks that finished.
func (s Snapshot) MeanRunTime() time.Duration {
	n := s.Finished()
	if n == 0 {
		return 0
	}
	return s.TotalRunTime / time.Duration(n)
}

// FormatSummary returns e.g. "12 done (10 ok, 1 failed, 1 canceled) peak 5".
func (s Snapshot) FormatSummary() string {
	return fmt.Sprintf("%d done (%d ok, %d failed, %d canceled) peak %d",
		s.Finished(), s.Completed, s.Failed, s.Canceled, s.PeakRunning)
}

// Collector accumulates counters. It is not safe for concurrent use; the
// manager owns it on its goroutine and hands out Snapshots.
type Collector struct {
	s Snapshot
}

func (c *Collector) Admitted()       { c.s.Admitted++ }
func (c *Collector) Queued()         { c.s.Queued++ }
func (c *Collector) Signal()         { c.s.Signals++ }
func (c *Collector) DroppedMessage() { c.s.Dropped++ }

// Started records a start and the running count after it.
func (c *Collector) Started(running int) {
	c.s.Started++
	c.s.PeakRunning = max(c.s.PeakRunning, running)
}

// Outcome records a terminal state. ran is zero for tasks that never started.
func (c *Collector) Outcome(state string, ran time.Duration) {
	switch state {
	case "completed":
		c.s.Completed++
	case "failed":
		c.s.Failed++
	case "canceled":
		c.s.Canceled++
	}
	c.s.TotalRunTime += ran
}

// Snapshot returns a copy of the counters.
func (c *Collector) Snapshot() Snapshot {
	return c.s
}
