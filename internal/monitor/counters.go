package monitor

import (
	"sync/atomic"

	"github.com/probefleet/dispatch/internal/job"
)

// Counters is the in-memory, monitor-side tally of job outcomes for one
// bulk scan: one atomic counter per status in job.AllStatuses, created when
// the monitor begins tracking a bulk scan and discarded at finalization.
type Counters struct {
	values map[job.Status]*atomic.Int64
}

func newCounters() *Counters {
	c := &Counters{values: make(map[job.Status]*atomic.Int64, len(job.AllStatuses))}
	for _, s := range job.AllStatuses {
		c.values[s] = &atomic.Int64{}
	}
	return c
}

// Increment bumps status's counter and returns the new total across every
// status.
func (c *Counters) Increment(status job.Status) int64 {
	if v, ok := c.values[status]; ok {
		v.Add(1)
	}
	return c.Total()
}

// Get returns the current count for status.
func (c *Counters) Get(status job.Status) int64 {
	if v, ok := c.values[status]; ok {
		return v.Load()
	}
	return 0
}

// Total sums every status's counter.
func (c *Counters) Total() int64 {
	var total int64
	for _, v := range c.values {
		total += v.Load()
	}
	return total
}

// Snapshot returns an immutable copy keyed by status string, suitable for
// BulkScan.JobStatusCounters.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(c.values))
	for status, v := range c.values {
		out[string(status)] = v.Load()
	}
	return out
}
