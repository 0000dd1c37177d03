// Package scheduler drives cron-triggered bulk scans: on its own schedule,
// each scheduled job reads a target list and calls publisher.Publish. This
// is an optional collaborator — most bulk scans are triggered directly via
// the controller's API — grounded on anstrom-scanorama's internal/scheduler
// robfig/cron wrapping, trimmed to the one thing it now needs to trigger.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/publisher"
	"github.com/probefleet/dispatch/internal/targetsource"
)

// Job names one cron-triggered bulk scan.
type Job struct {
	Name       string
	Schedule   string
	ScanConfig bulkscan.ScanConfig
	Monitored  bool
	NotifyURL  string
	Source     targetsource.Source
}

// Scheduler wraps robfig/cron, firing publisher.Publish for each registered
// Job on its own schedule.
type Scheduler struct {
	cron      *cron.Cron
	publisher *publisher.Publisher
	opts      publisher.Options
	logger    *logging.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a Scheduler. It does not start running until Start is called.
func New(pub *publisher.Publisher, opts publisher.Options, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		publisher: pub,
		opts:      opts,
		logger:    logger,
		entries:   make(map[string]cron.EntryID),
	}
}

// Register adds job to the schedule. Calling Register for a name already
// registered replaces the existing entry.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.Name]; ok {
		s.cron.Remove(id)
		delete(s.entries, job.Name)
	}

	id, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("scheduling job %q: %w", job.Name, err)
	}
	s.entries[job.Name] = id
	return nil
}

// Unregister removes a previously registered job by name. It is a no-op if
// no job by that name is registered.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Start begins firing registered jobs on their schedules. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for any in-flight run to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	targets, err := job.Source.Fetch(ctx)
	if err != nil {
		s.logger.ErrorPublish("scheduled job target fetch failed", job.Name, err)
		return
	}

	draft := bulkscan.NewDraft(job.Name, job.ScanConfig, job.Monitored, job.NotifyURL, time.Now())
	if _, err := s.publisher.Publish(ctx, draft, targets, s.opts); err != nil {
		s.logger.ErrorPublish("scheduled job publish failed", job.Name, err)
	}
}
