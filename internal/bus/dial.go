package bus

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// DialWithRetry dials the bus with exponential backoff, giving up only when
// ctx is cancelled. Establishing the bus connection at startup is the one
// fatal (process-exit) condition in this system (spec §7); callers that
// want a bounded number of attempts should wrap ctx with a deadline.
func DialWithRetry(ctx context.Context, url string) (*AMQPBus, error) {
	var bus *AMQPBus
	op := func() error {
		b, err := Dial(url)
		if err != nil {
			return err
		}
		bus = b
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0 // never stop on elapsed time; only ctx ends the retries
	policy := backoff.WithContext(eb, ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("bus connection failed after retries: %w", err)
	}
	return bus, nil
}
