// Package bus implements the orchestration protocol: a single durable job
// queue shared by every worker router, and one ephemeral done-notification
// queue per bulk scan consumed by the progress monitor.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/scanjob"
)

// JobQueueName is the single shared, non-exclusive, non-auto-deleted queue
// every worker router consumes from.
const JobQueueName = "scan-job-queue"

// doneQueueIdleExpiryMS is how long a per-bulk done queue survives with no
// consumer activity before RabbitMQ auto-deletes it.
const doneQueueIdleExpiryMS = 5 * 60 * 1000

// DoneQueueName derives the per-bulk-scan done-notification queue name.
func DoneQueueName(bulkScanID string) string {
	return fmt.Sprintf("done-notify-queue_%s", bulkScanID)
}

// Delivery wraps one job delivered from the job queue together with the
// tag needed to ack or reject it.
type Delivery struct {
	Job         *scanjob.Description
	DeliveryTag uint64
}

// Bus is the orchestration protocol surface the publisher, worker router,
// and progress monitor depend on. The concrete implementation is AMQPBus;
// tests substitute a fake.
type Bus interface {
	PublishJob(ctx context.Context, j *scanjob.Description) error
	ConsumeJobs(ctx context.Context, prefetch int) (<-chan Delivery, error)
	Ack(tag uint64) error
	RejectNoRequeue(tag uint64) error
	PublishDone(ctx context.Context, bulkScanID string, j *scanjob.Description) error
	ConsumeDone(ctx context.Context, bulkScanID string) (<-chan *scanjob.Description, error)
	Close() error
}

// AMQPBus is the RabbitMQ-backed Bus implementation. A single connection
// carries two channels: one for job-queue traffic (manual ack, prefetch
// enforced per consumer) and one for done-queue traffic (auto ack,
// per-bulk-scan queues declared lazily).
type AMQPBus struct {
	conn       *amqp.Connection
	jobChan    *amqp.Channel
	doneChan   *amqp.Channel
}

// Dial connects to url and declares the shared job queue. Use DialWithRetry
// for a connection attempt with exponential backoff.
func Dial(url string) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing bus: %w", err)
	}

	jobChan, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening job channel: %w", err)
	}
	if _, err := jobChan.QueueDeclare(JobQueueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring job queue: %w", err)
	}

	doneChan, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening done channel: %w", err)
	}

	return &AMQPBus{conn: conn, jobChan: jobChan, doneChan: doneChan}, nil
}

// PublishJob publishes a job onto the shared job queue with no routing key,
// via the default exchange.
func (b *AMQPBus) PublishJob(ctx context.Context, j *scanjob.Description) error {
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	return b.jobChan.PublishWithContext(ctx, "", JobQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// ConsumeJobs registers a manual-ack consumer on the job queue with the
// given prefetch (the maximum unacknowledged deliveries this consumer may
// hold). Deliveries whose body fails to deserialize are rejected without
// requeue and dropped from the returned channel entirely; the caller never
// sees them (spec §4.3 step 1, §7).
func (b *AMQPBus) ConsumeJobs(ctx context.Context, prefetch int) (<-chan Delivery, error) {
	if err := b.jobChan.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("setting prefetch: %w", err)
	}
	raw, err := b.jobChan.ConsumeWithContext(ctx, JobQueueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming job queue: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				var desc scanjob.Description
				if err := json.Unmarshal(d.Body, &desc); err != nil {
					_ = d.Nack(false, false)
					continue
				}
				desc.SetDeliveryTag(d.DeliveryTag)
				select {
				case out <- Delivery{Job: &desc, DeliveryTag: d.DeliveryTag}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ack acknowledges a single job-queue delivery.
func (b *AMQPBus) Ack(tag uint64) error {
	return b.jobChan.Ack(tag, false)
}

// RejectNoRequeue rejects a single job-queue delivery without requeueing
// it — used only for a job whose body could not be deserialized.
func (b *AMQPBus) RejectNoRequeue(tag uint64) error {
	return b.jobChan.Nack(tag, false, false)
}

// PublishDone lazily declares the bulk scan's done queue (non-durable,
// auto-delete after doneQueueIdleExpiryMS of no consumer activity) and
// publishes the completed job onto it.
func (b *AMQPBus) PublishDone(ctx context.Context, bulkScanID string, j *scanjob.Description) error {
	queue := DoneQueueName(bulkScanID)
	args := amqp.Table{"x-expires": int32(doneQueueIdleExpiryMS)}
	if _, err := b.doneChan.QueueDeclare(queue, false, true, false, false, args); err != nil {
		return fmt.Errorf("declaring done queue %s: %w", queue, err)
	}

	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling done event: %w", err)
	}
	return b.doneChan.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// ConsumeDone registers an auto-ack consumer on the bulk scan's done queue.
// Messages that fail to deserialize are logged and dropped here; the caller
// never sees them (the monitor relies on total-count finalization rather than per-event
// receipt — see spec §9's open question on done-event deserialization).
func (b *AMQPBus) ConsumeDone(ctx context.Context, bulkScanID string) (<-chan *scanjob.Description, error) {
	queue := DoneQueueName(bulkScanID)
	args := amqp.Table{"x-expires": int32(doneQueueIdleExpiryMS)}
	if _, err := b.doneChan.QueueDeclare(queue, false, true, false, false, args); err != nil {
		return nil, fmt.Errorf("declaring done queue %s: %w", queue, err)
	}
	raw, err := b.doneChan.ConsumeWithContext(ctx, queue, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming done queue %s: %w", queue, err)
	}

	out := make(chan *scanjob.Description)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				var desc scanjob.Description
				if err := json.Unmarshal(d.Body, &desc); err != nil {
					logging.Error("dropping undeserializable done event", "queue", queue, "error", err)
					continue
				}
				select {
				case out <- &desc:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close tears down both channels and the underlying connection.
func (b *AMQPBus) Close() error {
	if b.jobChan != nil {
		_ = b.jobChan.Close()
	}
	if b.doneChan != nil {
		_ = b.doneChan.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
