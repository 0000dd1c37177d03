package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/probe"
	"github.com/probefleet/dispatch/internal/target"
)

const fakeProbeKind = "scanner-test-fake"

// fakeProber returns a fixed document after an optional delay, or a fixed
// error, and counts how many times Close is called.
type fakeProber struct {
	mu        sync.Mutex
	delay     time.Duration
	err       error
	closeCnt  int
	callCount int
}

func (p *fakeProber) Probe(ctx context.Context, _ *target.ScanTarget) (any, error) {
	p.mu.Lock()
	p.callCount++
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return "document", nil
}

func (p *fakeProber) Close() error {
	p.mu.Lock()
	p.closeCnt++
	p.mu.Unlock()
	return nil
}

func init() {
	probe.RegisterFactory(fakeProbeKind, func(bulkscan.ScanConfig) (probe.Prober, error) {
		return &fakeProber{}, nil
	})
}

func testTarget() *target.ScanTarget {
	return target.New().SetHostname("example.com").SetPort(443)
}

func TestScanner_HandleReturnsProbeDocument(t *testing.T) {
	s := New("bs1", bulkscan.ScanConfig{Kind: fakeProbeKind}, logging.NewDefault())

	f, err := s.Handle(context.Background(), testTarget())
	require.NoError(t, err)

	outcome, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "document", outcome.Document)
	assert.NoError(t, outcome.Err)
}

func TestScanner_HandleInitErrorForUnknownKind(t *testing.T) {
	s := New("bs1", bulkscan.ScanConfig{Kind: "does-not-exist"}, logging.NewDefault())

	_, err := s.Handle(context.Background(), testTarget())
	assert.Error(t, err)
}

func TestScanner_AwaitRespectsContextCancellation(t *testing.T) {
	s := New("bs1", bulkscan.ScanConfig{Kind: fakeProbeKind}, logging.NewDefault())

	f, err := s.Handle(context.Background(), testTarget())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_CleanupClosesProberAfterInFlightJobsFinish(t *testing.T) {
	s := New("bs1", bulkscan.ScanConfig{Kind: fakeProbeKind}, logging.NewDefault())

	f, err := s.Handle(context.Background(), testTarget())
	require.NoError(t, err)
	_, err = f.Await(context.Background())
	require.NoError(t, err)

	s.cleanup()
	prober := s.prober.(*fakeProber)
	assert.Equal(t, 1, prober.closeCnt)

	_, err = s.Handle(context.Background(), testTarget())
	assert.Error(t, err)
}

func TestManager_GetReturnsSameScannerForSameBulkScan(t *testing.T) {
	m := NewManager(logging.NewDefault())
	defer m.Stop()

	cfg := bulkscan.ScanConfig{Kind: fakeProbeKind}
	a := m.Get("bs1", cfg)
	b := m.Get("bs1", cfg)
	c := m.Get("bs2", cfg)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestManager_StopCleansUpEveryCachedScanner(t *testing.T) {
	m := NewManager(logging.NewDefault())
	cfg := bulkscan.ScanConfig{Kind: fakeProbeKind}

	s := m.Get("bs1", cfg)
	f, err := s.Handle(context.Background(), testTarget())
	require.NoError(t, err)
	_, err = f.Await(context.Background())
	require.NoError(t, err)

	m.Stop()

	prober := s.prober.(*fakeProber)
	assert.Equal(t, 1, prober.closeCnt)
}

func TestScanner_PropagatesProbeError(t *testing.T) {
	boom := errors.New("boom")
	s := &Scanner{bulkScanID: "bs-err", cfg: bulkscan.ScanConfig{Kind: fakeProbeKind}, logger: logging.NewDefault()}
	s.prober = &fakeProber{err: boom}
	s.initOnce.Do(func() {})
	s.startPool()
	defer s.cleanup()

	f, err := s.Handle(context.Background(), testTarget())
	require.NoError(t, err)
	outcome, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, outcome.Err, boom)
}
