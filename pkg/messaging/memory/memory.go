// Package memory provides an in-process Broker used in mock mode and in
// tests. It keeps the same at-least-once contract as the Redis Streams
// broker: unacknowledged deliveries are redelivered after a visibility
// timeout.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notifier/pkg/messaging"
)

type message struct {
	id   string
	body []byte
}

// Broker is an in-memory messaging.Broker.
type Broker struct {
	mu       sync.Mutex
	queues   map[string][]message
	wakeups  map[string]chan struct{}
	prefetch int

	// RedeliverAfter is the visibility timeout for failed handlers.
	RedeliverAfter time.Duration

	closed bool
}

func New(prefetch int) *Broker {
	if prefetch <= 0 {
		prefetch = 10
	}
	return &Broker{
		queues:         make(map[string][]message),
		wakeups:        make(map[string]chan struct{}),
		prefetch:       prefetch,
		RedeliverAfter: 50 * time.Millisecond,
	}
}

func (b *Broker) Publish(_ context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], message{id: uuid.NewString(), body: body})
	b.wake(queue)
	return nil
}

func (b *Broker) PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	time.AfterFunc(delay, func() {
		b.Publish(context.Background(), queue, body)
	})
	_ = ctx
	return nil
}

func (b *Broker) Consume(ctx context.Context, queue string, h messaging.Handler) error {
	sem := make(chan struct{}, b.prefetch)
	var handlers sync.WaitGroup
	defer handlers.Wait()

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		msg, ok := b.pop(ctx, queue)
		if !ok {
			return ctx.Err()
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			defer func() { <-sem }()
			if err := h(ctx, messaging.Delivery{ID: msg.id, Queue: queue, Body: msg.body}); err != nil {
				time.AfterFunc(b.RedeliverAfter, func() {
					b.requeue(queue, msg)
				})
			}
		}()
	}
}

// pop blocks until a message is available or ctx is cancelled.
func (b *Broker) pop(ctx context.Context, queue string) (message, bool) {
	for {
		b.mu.Lock()
		if q := b.queues[queue]; len(q) > 0 {
			msg := q[0]
			b.queues[queue] = q[1:]
			b.mu.Unlock()
			return msg, true
		}
		wake := b.wakeup(queue)
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return message{}, false
		case <-wake:
		}
	}
}

func (b *Broker) requeue(queue string, msg message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], msg)
	b.wake(queue)
}

func (b *Broker) wakeup(queue string) chan struct{} {
	if ch, ok := b.wakeups[queue]; ok {
		return ch
	}
	ch := make(chan struct{})
	b.wakeups[queue] = ch
	return ch
}

func (b *Broker) wake(queue string) {
	if ch, ok := b.wakeups[queue]; ok {
		close(ch)
		delete(b.wakeups, queue)
	}
}

func (b *Broker) Ping(context.Context) error { return nil }

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Depth reports how many messages are waiting on queue. Test helper.
func (b *Broker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Peek returns the bodies currently waiting on queue without consuming
// them. Test helper.
func (b *Broker) Peek(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, 0, len(b.queues[queue]))
	for _, m := range b.queues[queue] {
		out = append(out, m.body)
	}
	return out
}
