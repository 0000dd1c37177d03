package publisher

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/bus"
	"github.com/probefleet/dispatch/internal/denylist"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/result"
	"github.com/probefleet/dispatch/internal/scanjob"
)

func testTime() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newDenylistWith(t *testing.T, entries ...string) *denylist.Denylist {
	t.Helper()
	path := t.TempDir() + "/denylist.txt"
	contents := ""
	for _, e := range entries {
		contents += e + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	dl, err := denylist.LoadFile(path)
	require.NoError(t, err)
	return dl
}

// fakeMonitor records which bulk scans started monitoring and what
// expected-job count they were each told.
type fakeMonitor struct {
	mu       sync.Mutex
	started  []string
	expected map[string]int
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{expected: make(map[string]int)}
}

func (m *fakeMonitor) StartMonitoring(bulkScanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, bulkScanID)
}

func (m *fakeMonitor) SetExpectedJobs(_ context.Context, bulkScanID string, expected int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expected[bulkScanID] = expected
}

// fakeBus records published jobs; PublishJob can be configured to fail for
// specific targets.
type fakeBus struct {
	mu        sync.Mutex
	published []*scanjob.Description
	failFor   map[string]bool
}

func (b *fakeBus) PublishJob(_ context.Context, j *scanjob.Description) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFor != nil && b.failFor[j.ScanTarget.Address()] {
		return errors.New("publish failed")
	}
	b.published = append(b.published, j)
	return nil
}
func (b *fakeBus) ConsumeJobs(context.Context, int) (<-chan bus.Delivery, error) { return nil, nil }
func (b *fakeBus) Ack(uint64) error                                             { return nil }
func (b *fakeBus) RejectNoRequeue(uint64) error                                 { return nil }
func (b *fakeBus) PublishDone(context.Context, string, *scanjob.Description) error {
	return nil
}
func (b *fakeBus) ConsumeDone(context.Context, string) (<-chan *scanjob.Description, error) {
	return nil, nil
}
func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

// fakeStore is an in-memory store.Store substitute.
type fakeStore struct {
	mu                sync.Mutex
	inserted          *bulkscan.BulkScan
	updated           *bulkscan.BulkScan
	preExecutions     []*result.ScanResult
	preExecutionDescs []*scanjob.Description
}

func (s *fakeStore) InsertBulkScan(_ context.Context, scan *bulkscan.BulkScan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan.ID = "bs1"
	s.inserted = scan
	return scan.ID, nil
}
func (s *fakeStore) UpdateBulkScan(_ context.Context, scan *bulkscan.BulkScan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = scan
	return nil
}
func (s *fakeStore) InsertScanResult(_ context.Context, res *result.ScanResult, j *scanjob.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preExecutions = append(s.preExecutions, res)
	s.preExecutionDescs = append(s.preExecutionDescs, j)
	return nil
}
func (s *fakeStore) GetBulkScan(_ context.Context, id string) (*bulkscan.BulkScan, error) {
	return &bulkscan.BulkScan{ID: id}, nil
}

func testDraft(name string, monitored bool) *bulkscan.BulkScan {
	return bulkscan.NewDraft(name, bulkscan.ScanConfig{Kind: "tls", TimeoutMS: 1000}, monitored, "", testTime())
}

func TestPublish_PublishesAllIPTargets(t *testing.T) {
	b := &fakeBus{}
	st := &fakeStore{}
	mon := newFakeMonitor()
	p := New(b, st, mon, logging.NewDefault(), nil)

	draft := testDraft("smoke", false)
	scan, err := p.Publish(context.Background(), draft, []string{"1.1.1.1", "2.2.2.2:8443"}, Options{Parallelism: 2, DefaultPort: 443})

	require.NoError(t, err)
	assert.Equal(t, 2, scan.TargetsGiven)
	assert.Equal(t, 2, scan.ScanJobsPublished)
	assert.Equal(t, 2, b.count())
	assert.Empty(t, mon.started)
}

func TestPublish_RegistersMonitorForMonitoredDraft(t *testing.T) {
	b := &fakeBus{}
	st := &fakeStore{}
	mon := newFakeMonitor()
	p := New(b, st, mon, logging.NewDefault(), nil)

	draft := testDraft("monitored-smoke", true)
	scan, err := p.Publish(context.Background(), draft, []string{"1.1.1.1"}, Options{Parallelism: 2, DefaultPort: 443})

	require.NoError(t, err)
	assert.Contains(t, mon.started, scan.ID)
	assert.Equal(t, 1, mon.expected[scan.ID])
}

func TestPublish_RejectsDenylistedTargetsWithoutPublishing(t *testing.T) {
	b := &fakeBus{}
	st := &fakeStore{}
	mon := newFakeMonitor()
	p := New(b, st, mon, logging.NewDefault(), nil)

	dl := newDenylistWith(t, "3.3.3.3")
	draft := testDraft("with-denylist", false)
	scan, err := p.Publish(context.Background(), draft, []string{"1.1.1.1", "3.3.3.3"}, Options{
		Parallelism: 2, DefaultPort: 443, Denylist: dl,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, scan.ScanJobsPublished)
	assert.Equal(t, 1, scan.ScanJobsDenylisted)
	assert.Equal(t, 1, b.count())
}

func TestPublish_PersistsPreExecutionResultsUnderTheBulkScansRoutingKey(t *testing.T) {
	b := &fakeBus{}
	st := &fakeStore{}
	mon := newFakeMonitor()
	p := New(b, st, mon, logging.NewDefault(), nil)

	dl := newDenylistWith(t, "3.3.3.3")
	draft := testDraft("routing-key-check", false)
	_, err := p.Publish(context.Background(), draft, []string{"3.3.3.3"}, Options{
		Parallelism: 2, DefaultPort: 443, Denylist: dl,
	})

	require.NoError(t, err)
	require.Len(t, st.preExecutions, 1)
	assert.Equal(t, draft.Name, st.preExecutionDescs[0].DBName)
	assert.Equal(t, draft.CollectionName, st.preExecutionDescs[0].CollectionName)
}

func TestPublish_CountsBusPublishFailuresAsResolutionErrors(t *testing.T) {
	b := &fakeBus{failFor: map[string]bool{"4.4.4.4": true}}
	st := &fakeStore{}
	mon := newFakeMonitor()
	p := New(b, st, mon, logging.NewDefault(), nil)

	draft := testDraft("flaky-bus", false)
	scan, err := p.Publish(context.Background(), draft, []string{"4.4.4.4", "5.5.5.5"}, Options{Parallelism: 2, DefaultPort: 443})

	require.NoError(t, err)
	assert.Equal(t, 1, scan.ScanJobsPublished)
	assert.Equal(t, 1, scan.ScanJobsResolutionErrors)
}
