// Package publisher implements Publish: turning a raw target list into
// scan jobs on the orchestration bus. Target parsing and publication are
// fanned out in parallel, bounded by golang.org/x/sync/errgroup the way
// revision_backends.go fans out concurrent health probes.
package publisher

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/bus"
	"github.com/probefleet/dispatch/internal/denylist"
	"github.com/probefleet/dispatch/internal/job"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/metrics"
	"github.com/probefleet/dispatch/internal/result"
	"github.com/probefleet/dispatch/internal/scanjob"
	"github.com/probefleet/dispatch/internal/store"
	"github.com/probefleet/dispatch/internal/target"
)

// defaultParallelism bounds how many targets are parsed and published
// concurrently when Options.Parallelism is left at zero.
const defaultParallelism = 32

// Monitor is the subset of the progress monitor's lifecycle the publisher
// depends on: registering a bulk scan's done-event consumer before any job
// reaches the bus (so no completion event is ever missed), and telling the
// monitor how many jobs it should ultimately expect once publication
// finishes fanning out. SetExpectedJobs with a count of zero — or with a
// count already met by events that raced ahead of it — finalizes
// immediately.
type Monitor interface {
	StartMonitoring(bulkScanID string)
	SetExpectedJobs(ctx context.Context, bulkScanID string, expected int)
}

// Options configures one Publish call.
type Options struct {
	// Parallelism bounds concurrent target parsing/publication. Defaults to
	// defaultParallelism when zero.
	Parallelism int
	// DefaultPort is used for targets that specify none.
	DefaultPort int
	// Resolver resolves hostnames to addresses.
	Resolver target.Resolver
	// Denylist classifies resolved targets.
	Denylist *denylist.Denylist
}

// Publisher turns a draft BulkScan and a raw target list into published
// jobs: insert, parse+publish each target, tally, and update.
type Publisher struct {
	bus     bus.Bus
	store   store.Store
	monitor Monitor
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
}

// New builds a Publisher. metrics may be nil, in which case publication
// proceeds unmeasured.
func New(b bus.Bus, st store.Store, mon Monitor, logger *logging.Logger, m *metrics.PrometheusMetrics) *Publisher {
	return &Publisher{bus: b, store: st, monitor: mon, logger: logger, metrics: m}
}

// tally accumulates per-target outcomes under a mutex; errgroup.Group runs
// each target's goroutine concurrently so the counters it protects cannot
// be updated without one.
type tally struct {
	mu          sync.Mutex
	published   int
	resolution  int
	denylisted  int
}

func (t *tally) addPublished()  { t.mu.Lock(); t.published++; t.mu.Unlock() }
func (t *tally) addResolution() { t.mu.Lock(); t.resolution++; t.mu.Unlock() }
func (t *tally) addDenylisted() { t.mu.Lock(); t.denylisted++; t.mu.Unlock() }

// Publish inserts draft, parses and publishes every raw target, then
// updates draft with the final tallies. If draft is monitored, the monitor
// is registered before any job reaches the bus (so no done event can race
// ahead of registration), and finalized immediately if zero jobs end up
// published.
func (p *Publisher) Publish(ctx context.Context, draft *bulkscan.BulkScan, rawTargets []string, opts Options) (*bulkscan.BulkScan, error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	draft.TargetsGiven = len(rawTargets)

	id, err := p.store.InsertBulkScan(ctx, draft)
	if err != nil {
		return nil, err
	}
	draft.ID = id
	info := draft.Info()

	if draft.Monitored {
		p.monitor.StartMonitoring(draft.ID)
	}

	t := &tally{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for _, raw := range rawTargets {
		raw := raw
		g.Go(func() error {
			p.publishOne(gctx, raw, draft, info, opts, t)
			return nil
		})
	}
	// Errors from publishOne are handled per-target (persisted as resolution
	// errors) and every goroutine returns nil, so Wait returns nil.
	if err := g.Wait(); err != nil {
		p.logger.ErrorPublish("publishing targets interrupted", draft.ID, err)
	}

	draft.ScanJobsPublished = t.published
	draft.ScanJobsResolutionErrors = t.resolution
	draft.ScanJobsDenylisted = t.denylisted

	if err := p.store.UpdateBulkScan(ctx, draft); err != nil {
		return draft, err
	}

	if draft.Monitored {
		p.monitor.SetExpectedJobs(ctx, draft.ID, draft.ScanJobsPublished)
	}

	return draft, nil
}

func (p *Publisher) publishOne(ctx context.Context, raw string, draft *bulkscan.BulkScan, info bulkscan.Info, opts Options, t *tally) {
	tgt, status, err := target.Parse(ctx, raw, opts.DefaultPort, opts.Resolver, opts.Denylist)

	switch status {
	case job.StatusDenylisted:
		t.addDenylisted()
		if p.metrics != nil {
			p.metrics.RecordJobDenylisted()
		}
		p.persistPreExecution(ctx, draft, tgt, status, err)
		return
	case job.StatusUnresolvable, job.StatusResolutionError:
		t.addResolution()
		if p.metrics != nil {
			p.metrics.RecordJobResolutionError()
		}
		p.persistPreExecution(ctx, draft, tgt, status, err)
		return
	}

	desc := scanjob.New(tgt, info, draft.Name, draft.CollectionName)
	if err := p.bus.PublishJob(ctx, desc); err != nil {
		p.logger.ErrorPublish("publishing job failed", draft.ID, err, "target", raw)
		t.addResolution()
		if p.metrics != nil {
			p.metrics.RecordBusPublish("job", err)
			p.metrics.RecordJobResolutionError()
		}
		p.persistPreExecution(ctx, draft, tgt, job.StatusResolutionError, err)
		return
	}
	t.addPublished()
	if p.metrics != nil {
		p.metrics.RecordJobPublished(draft.ScanConfig.Kind)
		p.metrics.RecordBusPublish("job", nil)
	}
}

// persistPreExecution stores a ScanResult for a target that never reached
// the bus. The job description still carries draft's db/collection routing
// key so the result lands in the same collection a successfully published
// job from this bulk scan would (spec §6).
func (p *Publisher) persistPreExecution(ctx context.Context, draft *bulkscan.BulkScan, tgt *target.ScanTarget, status job.Status, cause error) {
	var res *result.ScanResult
	var err error
	if cause != nil {
		res, err = result.NewFromException(draft.ID, tgt, status, cause)
	} else {
		res, err = result.New(draft.ID, tgt, status, nil)
	}
	if err != nil {
		p.logger.ErrorPublish("building pre-execution result failed", draft.ID, err)
		return
	}
	desc := &scanjob.Description{ScanTarget: tgt, Status: status, DBName: draft.Name, CollectionName: draft.CollectionName}
	if err := p.store.InsertScanResult(ctx, res, desc); err != nil {
		p.logger.ErrorPublish("persisting pre-execution result failed", draft.ID, err)
	}
}
