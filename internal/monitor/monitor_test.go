package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/bus"
	"github.com/probefleet/dispatch/internal/job"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/result"
	"github.com/probefleet/dispatch/internal/scanjob"
	"github.com/probefleet/dispatch/internal/webhook"
)

// fakeBus is a minimal bus.Bus substitute: only ConsumeDone is exercised by
// the monitor under test.
type fakeBus struct {
	mu   sync.Mutex
	done map[string]chan *scanjob.Description
}

func newFakeBus() *fakeBus {
	return &fakeBus{done: make(map[string]chan *scanjob.Description)}
}

func (f *fakeBus) queueFor(bulkScanID string) chan *scanjob.Description {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.done[bulkScanID]
	if !ok {
		ch = make(chan *scanjob.Description, 64)
		f.done[bulkScanID] = ch
	}
	return ch
}

func (f *fakeBus) send(bulkScanID string, status job.Status) {
	f.queueFor(bulkScanID) <- &scanjob.Description{Status: status}
}

func (f *fakeBus) PublishJob(context.Context, *scanjob.Description) error { return nil }
func (f *fakeBus) ConsumeJobs(context.Context, int) (<-chan bus.Delivery, error) {
	return nil, nil
}
func (f *fakeBus) Ack(uint64) error             { return nil }
func (f *fakeBus) RejectNoRequeue(uint64) error { return nil }
func (f *fakeBus) PublishDone(context.Context, string, *scanjob.Description) error {
	return nil
}
func (f *fakeBus) ConsumeDone(_ context.Context, bulkScanID string) (<-chan *scanjob.Description, error) {
	return f.queueFor(bulkScanID), nil
}
func (f *fakeBus) Close() error { return nil }

// fakeStore is a minimal store.Store substitute backed by an in-memory map.
type fakeStore struct {
	mu    sync.Mutex
	scans map[string]*bulkscan.BulkScan
}

func newFakeStore() *fakeStore {
	return &fakeStore{scans: make(map[string]*bulkscan.BulkScan)}
}

func (s *fakeStore) seed(scan *bulkscan.BulkScan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[scan.ID] = scan
}

func (s *fakeStore) InsertBulkScan(_ context.Context, scan *bulkscan.BulkScan) (string, error) {
	s.seed(scan)
	return scan.ID, nil
}

func (s *fakeStore) UpdateBulkScan(_ context.Context, scan *bulkscan.BulkScan) error {
	s.seed(scan)
	return nil
}

func (s *fakeStore) InsertScanResult(context.Context, *result.ScanResult, *scanjob.Description) error {
	return nil
}

func (s *fakeStore) GetBulkScan(_ context.Context, id string) (*bulkscan.BulkScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[id]
	if !ok {
		return nil, fmt.Errorf("no bulk scan %q", id)
	}
	cp := *scan
	return &cp, nil
}

func testMonitor(st *fakeStore, b *fakeBus) *Monitor {
	return New(b, st, webhook.New(logging.NewDefault()), logging.NewDefault(), nil)
}

func TestMonitor_FinalizesOnceExpectedMet(t *testing.T) {
	b := newFakeBus()
	st := newFakeStore()
	st.seed(&bulkscan.BulkScan{ID: "bs1", Name: "bs1"})

	m := testMonitor(st, b)
	m.StartMonitoring("bs1")

	b.send("bs1", job.StatusSuccess)
	b.send("bs1", job.StatusError)
	time.Sleep(20 * time.Millisecond)

	m.SetExpectedJobs(context.Background(), "bs1", 2)
	time.Sleep(20 * time.Millisecond)

	scan, err := st.GetBulkScan(context.Background(), "bs1")
	require.NoError(t, err)
	assert.True(t, scan.Finished)
	assert.Equal(t, 1, scan.SuccessfulScans)
	assert.Equal(t, int64(1), scan.JobStatusCounters[string(job.StatusSuccess)])
	assert.Equal(t, int64(1), scan.JobStatusCounters[string(job.StatusError)])

	_, tracked := m.trackers["bs1"]
	assert.False(t, tracked)
}

func TestMonitor_SetExpectedJobsZeroFinalizesImmediately(t *testing.T) {
	b := newFakeBus()
	st := newFakeStore()
	st.seed(&bulkscan.BulkScan{ID: "bs2", Name: "bs2"})

	m := testMonitor(st, b)
	m.StartMonitoring("bs2")
	m.SetExpectedJobs(context.Background(), "bs2", 0)

	scan, err := st.GetBulkScan(context.Background(), "bs2")
	require.NoError(t, err)
	assert.True(t, scan.Finished)
}

func TestMonitor_FinalizeIsIdempotent(t *testing.T) {
	b := newFakeBus()
	st := newFakeStore()
	st.seed(&bulkscan.BulkScan{ID: "bs3", Name: "bs3"})

	m := testMonitor(st, b)
	m.StartMonitoring("bs3")
	m.SetExpectedJobs(context.Background(), "bs3", 0)

	tr := &tracker{counters: newCounters(), cancel: func() {}}
	m.finalize(context.Background(), "bs3", tr)

	scan, err := st.GetBulkScan(context.Background(), "bs3")
	require.NoError(t, err)
	assert.True(t, scan.Finished)
}

func TestMonitor_ETAUnknownUntilExpectedSet(t *testing.T) {
	b := newFakeBus()
	st := newFakeStore()
	st.seed(&bulkscan.BulkScan{ID: "bs4", Name: "bs4"})

	m := testMonitor(st, b)
	m.StartMonitoring("bs4")

	_, ok := m.ETA("bs4")
	assert.False(t, ok)

	m.SetExpectedJobs(context.Background(), "bs4", 5)
	b.send("bs4", job.StatusSuccess)
	time.Sleep(10 * time.Millisecond)

	// The first event's gap since StartMonitoring seeds the moving average,
	// so the ETA is known once the expected total is set.
	_, ok = m.ETA("bs4")
	assert.True(t, ok)
}

func TestMonitor_ETAUnknownForUntrackedBulkScan(t *testing.T) {
	m := testMonitor(newFakeStore(), newFakeBus())
	_, ok := m.ETA("nope")
	assert.False(t, ok)
}
