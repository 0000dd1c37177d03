// Package bustest provides an in-memory bus.Bus fake for tests that need
// publisher/router/monitor behavior without a real broker.
package bustest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/probefleet/dispatch/internal/bus"
	"github.com/probefleet/dispatch/internal/scanjob"
)

// Bus is an in-memory bus.Bus. Jobs published via PublishJob are delivered
// to every channel returned by ConsumeJobs (tests typically call it once);
// done events are partitioned per bulk-scan-id exactly like the real
// per-bulk done queues.
type Bus struct {
	mu sync.Mutex

	jobSubs  []chan bus.Delivery
	doneSubs map[string][]chan *scanjob.Description

	nextTag uint64

	AckedTags    []uint64
	RejectedTags []uint64

	closed atomic.Bool
}

// New builds an empty in-memory bus.
func New() *Bus {
	return &Bus{doneSubs: make(map[string][]chan *scanjob.Description)}
}

func (b *Bus) PublishJob(ctx context.Context, j *scanjob.Description) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTag++
	tag := b.nextTag
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("bustest: marshal job: %w", err)
	}
	for _, ch := range b.jobSubs {
		ch := ch
		body := body
		go func() {
			var d scanjob.Description
			if err := json.Unmarshal(body, &d); err != nil {
				panic(fmt.Sprintf("bustest: unmarshal job: %v", err))
			}
			d.SetDeliveryTag(tag)
			ch <- bus.Delivery{Job: &d, DeliveryTag: tag}
		}()
	}
	return nil
}

func (b *Bus) ConsumeJobs(ctx context.Context, prefetch int) (<-chan bus.Delivery, error) {
	ch := make(chan bus.Delivery, 64)
	b.mu.Lock()
	b.jobSubs = append(b.jobSubs, ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return ch, nil
}

func (b *Bus) Ack(tag uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AckedTags = append(b.AckedTags, tag)
	return nil
}

func (b *Bus) RejectNoRequeue(tag uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RejectedTags = append(b.RejectedTags, tag)
	return nil
}

func (b *Bus) PublishDone(ctx context.Context, bulkScanID string, j *scanjob.Description) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("bustest: marshal done event: %w", err)
	}
	for _, ch := range b.doneSubs[bulkScanID] {
		ch := ch
		body := body
		go func() {
			var d scanjob.Description
			if err := json.Unmarshal(body, &d); err != nil {
				panic(fmt.Sprintf("bustest: unmarshal done event: %v", err))
			}
			ch <- &d
		}()
	}
	return nil
}

func (b *Bus) ConsumeDone(ctx context.Context, bulkScanID string) (<-chan *scanjob.Description, error) {
	ch := make(chan *scanjob.Description, 64)
	b.mu.Lock()
	b.doneSubs[bulkScanID] = append(b.doneSubs[bulkScanID], ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *Bus) Close() error {
	b.closed.Store(true)
	return nil
}

var _ bus.Bus = (*Bus)(nil)
