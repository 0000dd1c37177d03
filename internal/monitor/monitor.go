// Package monitor implements the progress monitor: it tracks per-bulk-scan
// job counters as done events arrive off the bus, maintains a
// moving-average ETA, and finalizes the bulk scan record once every
// expected job has completed.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/probefleet/dispatch/internal/bus"
	"github.com/probefleet/dispatch/internal/job"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/metrics"
	"github.com/probefleet/dispatch/internal/scanjob"
	"github.com/probefleet/dispatch/internal/store"
	"github.com/probefleet/dispatch/internal/webhook"
)

// emaShortWindowEvents is how many done events use the shrinking-window
// alpha (2/(n+1)) before the monitor settles on a fixed smoothing factor.
const emaShortWindowEvents = 20

const emaFixedAlpha = 0.1

// tracker holds the live state for one bulk scan being monitored.
type tracker struct {
	mu sync.Mutex

	counters     *Counters
	expected     int
	haveExpected bool

	lastEventAt time.Time
	movingAvg   time.Duration

	cancel context.CancelFunc
}

// Monitor implements the publisher's Monitor contract plus the done-event
// consumption loop that drives it. One Monitor instance serves every bulk
// scan in a controller process.
type Monitor struct {
	bus      bus.Bus
	store    store.Store
	notifier *webhook.Notifier
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics

	mu       sync.Mutex
	trackers map[string]*tracker
}

// New builds a Monitor. m may be nil, in which case the monitor runs
// unmeasured.
func New(b bus.Bus, st store.Store, notifier *webhook.Notifier, logger *logging.Logger, m *metrics.PrometheusMetrics) *Monitor {
	return &Monitor{
		bus:      b,
		store:    st,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		trackers: make(map[string]*tracker),
	}
}

// StartMonitoring registers the bulk scan's done-queue consumer and begins
// counting events. It must be called before any job for this bulk scan can
// possibly reach the bus, so that no done event is ever missed. The
// expected job total is not yet known at this point; see SetExpectedJobs.
func (m *Monitor) StartMonitoring(bulkScanID string) {
	// lastEventAt starts now, so the first done event already yields an
	// inter-arrival duration to seed the moving average.
	t := &tracker{counters: newCounters(), lastEventAt: time.Now()}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	m.mu.Lock()
	m.trackers[bulkScanID] = t
	active := len(m.trackers)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SetBulkScansActive(active)
	}

	deliveries, err := m.bus.ConsumeDone(ctx, bulkScanID)
	if err != nil {
		m.logger.ErrorMonitor("registering done consumer failed", bulkScanID, err)
		cancel()
		return
	}
	go m.consume(ctx, bulkScanID, t, deliveries)
}

func (m *Monitor) consume(ctx context.Context, bulkScanID string, t *tracker, deliveries <-chan *scanjob.Description) {
	for {
		select {
		case <-ctx.Done():
			return
		case desc, ok := <-deliveries:
			if !ok {
				return
			}
			m.onDone(ctx, bulkScanID, t, desc.Status)
		}
	}
}

// SetExpectedJobs records how many jobs this bulk scan ultimately
// published, once the publisher's fan-out has finished. If the expected
// total is zero, or events that raced ahead of this call already reached
// it, the bulk scan is finalized immediately.
func (m *Monitor) SetExpectedJobs(ctx context.Context, bulkScanID string, expected int) {
	m.mu.Lock()
	t, ok := m.trackers[bulkScanID]
	m.mu.Unlock()
	if !ok {
		m.logger.ErrorMonitor("SetExpectedJobs for untracked bulk scan", bulkScanID, nil)
		return
	}

	t.mu.Lock()
	t.expected = expected
	t.haveExpected = true
	done := t.counters.Total()
	shouldFinalize := done >= int64(expected)
	t.mu.Unlock()

	if shouldFinalize {
		m.finalize(ctx, bulkScanID, t)
	}
}

// onDone records one completed job's status, updates the moving-average
// duration between events, and finalizes once the expected total is known
// and met.
func (m *Monitor) onDone(ctx context.Context, bulkScanID string, t *tracker, status job.Status) {
	t.mu.Lock()
	now := time.Now()
	total := t.counters.Increment(status)

	if t.lastEventAt.IsZero() {
		t.lastEventAt = now
	} else {
		delta := now.Sub(t.lastEventAt)
		t.lastEventAt = now
		if t.movingAvg == 0 {
			// REDESIGN FLAGS: seed the moving average from the first
			// observed inter-arrival duration rather than a -1 sentinel.
			t.movingAvg = delta
		} else {
			alpha := emaFixedAlpha
			if total <= emaShortWindowEvents {
				alpha = 2.0 / float64(total+1)
			}
			t.movingAvg = time.Duration(alpha*float64(delta) + (1-alpha)*float64(t.movingAvg))
		}
	}

	shouldFinalize := t.haveExpected && total >= int64(t.expected)
	t.mu.Unlock()

	if shouldFinalize {
		m.finalize(ctx, bulkScanID, t)
	}
}

// ETA returns the monitor's current estimate of time remaining for
// bulkScanID, or false if the bulk scan isn't tracked or its expected total
// isn't known yet.
func (m *Monitor) ETA(bulkScanID string) (time.Duration, bool) {
	m.mu.Lock()
	t, ok := m.trackers[bulkScanID]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.haveExpected || t.movingAvg == 0 {
		return 0, false
	}
	remaining := int64(t.expected) - t.counters.Total()
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining) * t.movingAvg, true
}

// finalize stops tracking bulkScanID, persists its final counters, and
// fires the webhook notification if one is configured. It is safe to call
// more than once; only the first call does anything.
func (m *Monitor) finalize(ctx context.Context, bulkScanID string, t *tracker) {
	m.mu.Lock()
	_, stillTracked := m.trackers[bulkScanID]
	if stillTracked {
		delete(m.trackers, bulkScanID)
	}
	active := len(m.trackers)
	m.mu.Unlock()
	if !stillTracked {
		return
	}
	if m.metrics != nil {
		m.metrics.SetBulkScansActive(active)
	}
	t.cancel()

	scan, err := m.store.GetBulkScan(ctx, bulkScanID)
	if err != nil {
		m.logger.ErrorMonitor("fetching bulk scan for finalization failed", bulkScanID, err)
		return
	}

	t.mu.Lock()
	snapshot := t.counters.Snapshot()
	t.mu.Unlock()

	scan.Finished = true
	scan.EndTime = time.Now()
	scan.JobStatusCounters = snapshot
	scan.SuccessfulScans = int(snapshot[string(job.StatusSuccess)])

	if err := m.store.UpdateBulkScan(ctx, scan); err != nil {
		m.logger.ErrorMonitor("persisting finalized bulk scan failed", bulkScanID, err)
		return
	}

	m.logger.InfoMonitor("bulk scan finalized", bulkScanID, "total", scan.TargetsGiven, "successful", scan.SuccessfulScans)

	notified := m.notifier != nil && scan.NotifyURL != ""
	if notified {
		if err := m.notifier.Notify(ctx, scan); err != nil {
			m.logger.ErrorMonitor("webhook notification failed", bulkScanID, err)
			if m.metrics != nil {
				m.metrics.RecordWebhookFailure()
			}
		}
	}
	if m.metrics != nil {
		m.metrics.RecordBulkScanFinalized(notified)
	}
}
