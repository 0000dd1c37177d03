// Package worker implements the worker router: it consumes jobs from the
// orchestration bus, dispatches them to the per-bulk-scan Scanner cache,
// classifies the outcome, persists the result, and signals completion back
// onto the bus — in that order, per the ack-then-publish decision recorded
// in DESIGN.md.
package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/probefleet/dispatch/internal/bus"
	apperrors "github.com/probefleet/dispatch/internal/errors"
	"github.com/probefleet/dispatch/internal/job"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/metrics"
	"github.com/probefleet/dispatch/internal/result"
	"github.com/probefleet/dispatch/internal/scanjob"
	"github.com/probefleet/dispatch/internal/scanner"
	"github.com/probefleet/dispatch/internal/store"
)

// cancelDrainTimeout bounds how long process waits, after requesting
// cancellation of a timed-out scan, for the probe goroutine to actually
// unwind and report whatever partial document it had collected.
const cancelDrainTimeout = 10 * time.Second

// Options configures one Router.
type Options struct {
	// Prefetch bounds unacknowledged deliveries this router holds at once.
	Prefetch int
	// ResultHandlers is how many jobs this router processes concurrently.
	ResultHandlers int
	// WorkerDefaultExcludedProbes is merged into a job's excluded-probes list
	// only when the controller supplied none (controller precedence).
	WorkerDefaultExcludedProbes []string
}

// Router is the worker router: one per worker process.
type Router struct {
	bus     bus.Bus
	manager *scanner.Manager
	store   store.Store
	logger  *logging.Logger
	opts    Options
	metrics *metrics.PrometheusMetrics
}

// NewRouter builds a Router. manager and store are shared across the whole
// process; each call to Run drains the bus until ctx is cancelled. m may be
// nil, in which case the router runs unmeasured.
func NewRouter(b bus.Bus, manager *scanner.Manager, st store.Store, logger *logging.Logger, opts Options, m *metrics.PrometheusMetrics) *Router {
	if opts.ResultHandlers <= 0 {
		opts.ResultHandlers = 8
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = opts.ResultHandlers * 2
	}
	return &Router{bus: b, manager: manager, store: st, logger: logger, opts: opts, metrics: m}
}

// Run consumes jobs until ctx is cancelled. It returns nil on a clean
// shutdown (ctx cancelled) or the error that stopped consumption.
func (r *Router) Run(ctx context.Context) error {
	deliveries, err := r.bus.ConsumeJobs(ctx, r.opts.Prefetch)
	if err != nil {
		return apperrors.ErrBusConnection(err)
	}

	sem := make(chan struct{}, r.opts.ResultHandlers)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if r.metrics != nil {
				r.metrics.RecordBusConsume("job")
			}
			sem <- struct{}{}
			go func(d bus.Delivery) {
				defer func() { <-sem }()
				r.process(ctx, d)
			}(d)
		}
	}
}

// process runs one job end to end: dispatch, await, classify, persist,
// notify. Every path through this function — except the router-shutdown
// case, where the job is left unacked for redelivery — ends by acking the
// delivery and then publishing the done event, in that order.
func (r *Router) process(ctx context.Context, d bus.Delivery) {
	desc := d.Job
	logger := r.logger
	cfg := desc.BulkScanInfo.ScanConfig
	cfg.MergeWorkerDefaults(r.opts.WorkerDefaultExcludedProbes)

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sc := r.manager.Get(desc.BulkScanInfo.BulkScanID, cfg)
	future, err := sc.Handle(jobCtx, desc.ScanTarget)
	if err != nil {
		if ctx.Err() != nil {
			// Router is shutting down, not the job's own timeout: leave the
			// delivery unacked so the bus redelivers it to another worker.
			return
		}
		r.finish(jobCtx, d, desc, classifyDispatchError(err), err)
		return
	}

	outcome, err := future.Await(jobCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			r.finishCancelled(d, desc, future)
			return
		}
		// jobCtx was cancelled because ctx (the router's own shutdown
		// context) was cancelled; leave the delivery unacked.
		return
	}

	status := classifyOutcome(outcome)
	logger.InfoDispatch("job completed", desc.ScanTarget.String(), "status", status)
	if r.metrics != nil {
		r.metrics.RecordScan(cfg.Kind, string(status), 0)
	}
	if err := r.persistResult(jobCtx, desc, status, outcome); err != nil {
		logger.ErrorDispatch("result persistence failed, notifying with downgraded status", desc.ScanTarget.String(), err)
	}
	r.ackThenNotify(d, desc)
}

// finishCancelled handles a scan that missed its deadline: it requests
// cancellation, waits up to cancelDrainTimeout for the probe to unwind, and
// persists whatever partial document the probe reported via Future.Partial
// instead of always reporting a bare exception. If the probe never unwinds
// in time, or reported no document, the result falls back to an exception
// carrying the deadline error.
func (r *Router) finishCancelled(d bus.Delivery, desc *scanjob.Description, future *scanner.Future) {
	future.Cancel(true)

	drainCtx, cancel := context.WithTimeout(context.Background(), cancelDrainTimeout)
	outcome, err := future.Await(drainCtx)
	cancel()

	var doc any
	if err == nil && outcome.Document != nil {
		doc = outcome.Document
	} else if partial, ok := future.Partial(); ok {
		doc = partial
	}

	var res *result.ScanResult
	var buildErr error
	if doc != nil {
		res, buildErr = result.New(desc.BulkScanInfo.BulkScanID, desc.ScanTarget, job.StatusCancelled, doc)
	} else {
		res, buildErr = result.NewFromException(desc.BulkScanInfo.BulkScanID, desc.ScanTarget, job.StatusCancelled, context.DeadlineExceeded)
	}

	persistCtx, pcancel := context.WithTimeout(context.Background(), cancelDrainTimeout)
	defer pcancel()

	switch {
	case buildErr != nil:
		r.logger.ErrorDispatch("building cancelled scan result failed", desc.ScanTarget.String(), buildErr)
		desc.Complete(job.StatusInternalError)
	case r.storeResult(persistCtx, res, desc) != nil:
		desc.Complete(job.StatusInternalError)
	default:
		desc.Complete(job.StatusCancelled)
	}
	r.ackThenNotify(d, desc)
}

// storeResult persists res and logs, without mutating desc, on failure.
func (r *Router) storeResult(ctx context.Context, res *result.ScanResult, desc *scanjob.Description) error {
	if err := r.store.InsertScanResult(ctx, res, desc); err != nil {
		r.logger.ErrorDispatch("persisting scan result failed", desc.ScanTarget.String(), err)
		return err
	}
	return nil
}

// finish classifies and persists a job that never produced an Outcome (a
// dispatch error), then acks and notifies. desc is completed with status
// only once the result is actually persisted; a persistence failure
// downgrades it to StatusInternalError so the done-notification never
// reports a status for a result that was never stored.
func (r *Router) finish(ctx context.Context, d bus.Delivery, desc *scanjob.Description, status job.Status, cause error) {
	res, err := result.NewFromException(desc.BulkScanInfo.BulkScanID, desc.ScanTarget, status, cause)
	switch {
	case err != nil:
		r.logger.ErrorDispatch("building scan result failed", desc.ScanTarget.String(), err)
		desc.Complete(job.StatusInternalError)
	case r.storeResult(ctx, res, desc) != nil:
		desc.Complete(job.StatusInternalError)
	default:
		desc.Complete(status)
	}
	r.ackThenNotify(d, desc)
}

// persistResult builds and stores the result of a completed scan. desc is
// completed with status only once the result is actually persisted; a
// persistence failure downgrades it to StatusInternalError (spec §4.3 step
// 6 / §7) so the done-notification and monitor counters never report a
// status for a result that was never stored.
func (r *Router) persistResult(ctx context.Context, desc *scanjob.Description, status job.Status, outcome scanner.Outcome) error {
	var res *result.ScanResult
	var err error
	if status.IsError() {
		res, err = result.NewFromException(desc.BulkScanInfo.BulkScanID, desc.ScanTarget, status, outcome.Err)
	} else {
		res, err = result.New(desc.BulkScanInfo.BulkScanID, desc.ScanTarget, status, outcome.Document)
	}
	if err != nil {
		r.logger.ErrorDispatch("building scan result failed", desc.ScanTarget.String(), err)
		desc.Complete(job.StatusInternalError)
		return err
	}
	if err := r.storeResult(ctx, res, desc); err != nil {
		desc.Complete(job.StatusInternalError)
		return err
	}
	desc.Complete(status)
	return nil
}

// ackThenNotify acks the job-queue delivery, then publishes the done event
// on the bulk scan's done queue. The ordering is deliberate: if the process
// crashes between the two, the bus redelivers nothing (the job is already
// acked) but the monitor simply never sees that job complete, which it
// tolerates — see DESIGN.md's ack-then-publish decision.
func (r *Router) ackThenNotify(d bus.Delivery, desc *scanjob.Description) {
	if err := r.bus.Ack(d.DeliveryTag); err != nil {
		r.logger.ErrorDispatch("acking job failed", desc.ScanTarget.String(), err)
	}
	if err := r.bus.PublishDone(context.Background(), desc.BulkScanInfo.BulkScanID, desc); err != nil {
		r.logger.ErrorDispatch("publishing done event failed", desc.ScanTarget.String(), err)
	}
}

func classifyDispatchError(err error) job.Status {
	if err != nil && strings.Contains(err.Error(), "no factory registered") {
		return job.StatusSerializationErr
	}
	return job.StatusInternalError
}

func classifyOutcome(o scanner.Outcome) job.Status {
	if o.Err != nil {
		return job.StatusError
	}
	if o.Document == nil {
		return job.StatusEmpty
	}
	return job.StatusSuccess
}
