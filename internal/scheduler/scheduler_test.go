package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/bus"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/publisher"
	"github.com/probefleet/dispatch/internal/result"
	"github.com/probefleet/dispatch/internal/scanjob"
)

// fakeMonitor satisfies publisher.Monitor without tracking anything.
type fakeMonitor struct{}

func (fakeMonitor) StartMonitoring(string)                            {}
func (fakeMonitor) SetExpectedJobs(context.Context, string, int) {}

// fakeBus records every published job; every other method is a no-op.
type fakeBus struct {
	mu        sync.Mutex
	published []*scanjob.Description
}

func (b *fakeBus) PublishJob(_ context.Context, j *scanjob.Description) error {
	b.mu.Lock()
	defer b.mu.Unlock()
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
	mu   sync.Mutex
	next int
}

func (s *fakeStore) InsertBulkScan(_ context.Context, scan *bulkscan.BulkScan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return scan.Name, nil
}
func (s *fakeStore) UpdateBulkScan(context.Context, *bulkscan.BulkScan) error { return nil }
func (s *fakeStore) InsertScanResult(context.Context, *result.ScanResult, *scanjob.Description) error {
	return nil
}
func (s *fakeStore) GetBulkScan(_ context.Context, id string) (*bulkscan.BulkScan, error) {
	return &bulkscan.BulkScan{ID: id}, nil
}

// fakeSource returns a fixed target list, or an error if configured to.
type fakeSource struct {
	targets []string
	err     error
}

func (f fakeSource) Fetch(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.targets, nil
}

func newTestScheduler() (*Scheduler, *fakeBus) {
	b := &fakeBus{}
	pub := publisher.New(b, &fakeStore{}, fakeMonitor{}, logging.NewDefault(), nil)
	opts := publisher.Options{Parallelism: 4, DefaultPort: 443}
	return New(pub, opts, logging.NewDefault()), b
}

func TestScheduler_RunPublishesFetchedTargets(t *testing.T) {
	s, b := newTestScheduler()
	s.run(Job{
		Name:       "nightly",
		ScanConfig: bulkscan.ScanConfig{Kind: "tls", TimeoutMS: 1000},
		Source:     fakeSource{targets: []string{"1.2.3.4", "5.6.7.8"}},
	})

	assert.Equal(t, 2, b.count())
}

func TestScheduler_RunSourceErrorDoesNotPublish(t *testing.T) {
	s, b := newTestScheduler()
	s.run(Job{
		Name:       "broken",
		ScanConfig: bulkscan.ScanConfig{Kind: "tls", TimeoutMS: 1000},
		Source:     fakeSource{err: errors.New("fetch failed")},
	})

	assert.Equal(t, 0, b.count())
}

func TestScheduler_RegisterReplacesExistingEntry(t *testing.T) {
	s, _ := newTestScheduler()
	job := Job{Name: "nightly", Schedule: "@every 1h", Source: fakeSource{}}

	require.NoError(t, s.Register(job))
	firstID := s.entries["nightly"]

	require.NoError(t, s.Register(job))
	secondID := s.entries["nightly"]

	assert.NotEqual(t, firstID, secondID)
	assert.Len(t, s.entries, 1)
}

func TestScheduler_UnregisterRemovesEntry(t *testing.T) {
	s, _ := newTestScheduler()
	require.NoError(t, s.Register(Job{Name: "nightly", Schedule: "@every 1h", Source: fakeSource{}}))

	s.Unregister("nightly")
	_, ok := s.entries["nightly"]
	assert.False(t, ok)
}

func TestScheduler_RegisterInvalidScheduleErrors(t *testing.T) {
	s, _ := newTestScheduler()
	err := s.Register(Job{Name: "bad", Schedule: "not a cron expression", Source: fakeSource{}})
	assert.Error(t, err)
}

func TestScheduler_StopWaitsForShutdown(t *testing.T) {
	s, _ := newTestScheduler()
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
