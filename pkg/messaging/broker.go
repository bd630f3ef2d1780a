package messaging

import (
	"context"
	"time"
)

// Delivery is one message handed to a consumer. ID is the broker-assigned
// delivery identifier used for acknowledgment, not the business message id.
type Delivery struct {
	ID    string
	Queue string
	Body  []byte
}

// Handler processes a single delivery. Returning nil acknowledges the
// message and removes it from the queue. Returning an error leaves the
// message unacknowledged; the broker redelivers it to a consumer after its
// visibility timeout elapses.
type Handler func(ctx context.Context, d Delivery) error

// Broker is the durable queue transport used by the producer and consumer.
// A successful Publish means the message is durably queued. Consume blocks
// until ctx is cancelled, keeping at most the configured prefetch number of
// deliveries in flight.
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte) error

	// PublishDelayed schedules body onto queue after the given delay.
	// The schedule is durable: a successful return means the message
	// survives a process restart.
	PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error

	Consume(ctx context.Context, queue string, h Handler) error

	Ping(ctx context.Context) error
	Close() error
}

// DLQ returns the dead-letter queue name paired with queue.
func DLQ(queue string) string {
	return queue + ".dlq"
}
