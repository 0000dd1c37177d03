// Package scanner implements the per-bulk-scan worker object: a Scanner
// dispatches targets to a registered probe.Prober over a bounded pool of
// goroutines, and a Manager caches one Scanner per bulk scan with idle
// eviction. This replaces the source's inheritance hierarchy of scan-worker
// subclasses and its double-checked-locking init/cleanup guard with a
// registry lookup (internal/probe) plus a one-shot init latch paired with a
// refcounted active-jobs cell.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/probe"
	"github.com/probefleet/dispatch/internal/target"
)

// defaultParallelScanThreads is the width of every Scanner's pool. ScanConfig
// carries no pool-width setting, so all Scanners use this value.
const defaultParallelScanThreads = 8

// Outcome is the terminal state of one Handle call: either a result
// document or an error, never both.
type Outcome struct {
	Document any
	Err      error
}

// Future represents one in-flight scan. Await blocks for the result or
// until ctx is done; Partial returns the document the probe returned, if
// any, once the probe has returned.
type Future struct {
	resultCh chan Outcome
	partial  atomic.Value
	cancel   context.CancelFunc
}

// Await blocks until the scan completes or ctx is cancelled, whichever
// comes first. Calling Await after ctx is already cancelled returns
// ctx.Err() without ever reading the eventual result.
func (f *Future) Await(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	select {
	case o := <-f.resultCh:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Partial returns the non-nil document Probe returned, including one it
// returned together with an error after cancellation. It reports false
// while the probe is still running.
func (f *Future) Partial() (any, bool) {
	v := f.partial.Load()
	if v == nil {
		return nil, false
	}
	return v, true
}

// Cancel requests cancellation of the underlying probe. When interrupt is
// true the probe's context is cancelled immediately; the future's result
// channel still eventually receives whatever Outcome the probe goroutine
// produces (typically a context.Canceled error), so Await always returns.
func (f *Future) Cancel(interrupt bool) {
	if interrupt {
		f.cancel()
	}
}

type task struct {
	ctx    context.Context
	tgt    *target.ScanTarget
	future *Future
}

// Scanner is the per-bulk-scan worker: it owns exactly one probe.Prober and
// a bounded pool of goroutines executing Handle calls for that bulk scan.
type Scanner struct {
	bulkScanID string
	cfg        bulkscan.ScanConfig
	logger     *logging.Logger

	initOnce sync.Once
	initErr  error
	prober   probe.Prober
	tasks    chan task
	poolWG   sync.WaitGroup

	mu               sync.Mutex
	activeJobs       int
	cleanupRequested bool
	cleanedUp        bool
}

// New builds a Scanner for one bulk scan. The probe.Prober and worker pool
// are not created until the first call to Handle.
func New(bulkScanID string, cfg bulkscan.ScanConfig, logger *logging.Logger) *Scanner {
	return &Scanner{bulkScanID: bulkScanID, cfg: cfg, logger: logger}
}

// init lazily builds the Prober and starts the scan executor pool, exactly
// once, the first time it is needed.
func (s *Scanner) init() error {
	s.initOnce.Do(func() {
		p, err := probe.New(s.cfg)
		if err != nil {
			s.initErr = err
			return
		}
		s.prober = p
		s.startPool()
	})
	return s.initErr
}

func (s *Scanner) startPool() {
	workers := defaultParallelScanThreads
	s.tasks = make(chan task, workers)
	for i := 0; i < workers; i++ {
		s.poolWG.Add(1)
		go s.runWorker()
	}
}

func (s *Scanner) runWorker() {
	defer s.poolWG.Done()
	for t := range s.tasks {
		s.execute(t)
	}
}

func (s *Scanner) execute(t task) {
	doc, err := s.prober.Probe(t.ctx, t.tgt)
	if doc != nil {
		t.future.partial.Store(doc)
	}
	s.jobDone()
	t.future.resultCh <- Outcome{Document: doc, Err: err}
}

// Handle submits tgt for scanning and returns a Future for its result.
// Handle itself never blocks on the scan completing; it only blocks if the
// scanner's task queue is momentarily full.
func (s *Scanner) Handle(ctx context.Context, tgt *target.ScanTarget) (*Future, error) {
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("scanner: init for bulk scan %s: %w", s.bulkScanID, err)
	}

	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		return nil, fmt.Errorf("scanner: Handle called after cleanup for bulk scan %s", s.bulkScanID)
	}
	s.activeJobs++
	s.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	f := &Future{resultCh: make(chan Outcome, 1), cancel: cancel}

	select {
	case s.tasks <- task{ctx: taskCtx, tgt: tgt, future: f}:
		return f, nil
	case <-ctx.Done():
		cancel()
		s.jobDone()
		return nil, ctx.Err()
	}
}

func (s *Scanner) jobDone() {
	s.mu.Lock()
	s.activeJobs--
	shouldCleanup := s.cleanupRequested && s.activeJobs == 0 && !s.cleanedUp
	if shouldCleanup {
		s.cleanedUp = true
	}
	s.mu.Unlock()
	if shouldCleanup {
		// jobDone may run on a pool goroutine, and doCleanup waits for the
		// whole pool to exit, so it must not run on this goroutine.
		go s.doCleanup()
	}
}

// cleanup marks the scanner for teardown. If jobs are still in flight,
// teardown happens when the last one finishes (see jobDone); otherwise it
// happens immediately. Calling cleanup more than once is safe.
func (s *Scanner) cleanup() {
	s.mu.Lock()
	s.cleanupRequested = true
	shouldCleanup := s.activeJobs == 0 && !s.cleanedUp
	if shouldCleanup {
		s.cleanedUp = true
	}
	s.mu.Unlock()
	if shouldCleanup {
		s.doCleanup()
	}
}

func (s *Scanner) doCleanup() {
	if s.tasks != nil {
		close(s.tasks)
		s.poolWG.Wait()
	}
	if s.prober != nil {
		if err := s.prober.Close(); err != nil && s.logger != nil {
			s.logger.ErrorDispatch("probe close failed", s.bulkScanID, err)
		}
	}
}
