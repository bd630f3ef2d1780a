package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/pkg/backoff"
	"github.com/jwalitptl/notifier/pkg/messaging"
)

const bodyField = "body"

// Config controls the Redis Streams broker.
type Config struct {
	URL          string
	Group        string
	Prefetch     int
	PoolSize     int
	MinIdleConns int

	// MaxLen caps each stream's length (approximate trimming). Zero
	// disables trimming.
	MaxLen int64

	// BlockTimeout bounds each XREADGROUP blocking call so the consume
	// loop can observe ctx cancellation.
	BlockTimeout time.Duration

	// ClaimMinIdle is the visibility timeout: deliveries pending longer
	// than this on a dead or stalled consumer are re-claimed.
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration

	// RetryDrainInterval is how often the delayed-message set is checked
	// for due re-publishes.
	RetryDrainInterval time.Duration

	// Reconnect is the backoff applied when the broker connection fails.
	Reconnect backoff.Policy
}

func (c *Config) setDefaults() {
	if c.Group == "" {
		c.Group = "notifier"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = time.Minute
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 15 * time.Second
	}
	if c.RetryDrainInterval <= 0 {
		c.RetryDrainInterval = time.Second
	}
	if c.Reconnect.Base <= 0 {
		c.Reconnect = backoff.Policy{Base: time.Second, Max: 30 * time.Second}
	}
}

// Broker is a durable queue over Redis Streams. Each queue is one stream
// consumed through a consumer group, so multiple worker processes compete
// for messages and each delivery goes to exactly one of them. Acknowledged
// messages are XACKed; unacknowledged ones are re-claimed after
// ClaimMinIdle by whichever consumer's claim loop sees them first.
type Broker struct {
	client   *redis.Client
	cfg      Config
	consumer string
	logger   *zerolog.Logger

	mu     sync.Mutex
	groups map[string]bool
}

// delayedEntry wraps a delayed message body with a unique key so identical
// payloads never collapse into one sorted-set member.
type delayedEntry struct {
	Key  string `json:"key"`
	Body []byte `json:"body"`
}

func New(cfg Config, logger *zerolog.Logger) (*Broker, error) {
	cfg.setDefaults()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	host, _ := os.Hostname()
	return &Broker{
		client:   client,
		cfg:      cfg,
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		logger:   logger,
		groups:   make(map[string]bool),
	}, nil
}

func (b *Broker) Publish(ctx context.Context, queue string, body []byte) error {
	args := &redis.XAddArgs{
		Stream: queue,
		Values: map[string]interface{}{bodyField: body},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

func (b *Broker) PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	entry, err := json.Marshal(delayedEntry{Key: uuid.NewString(), Body: body})
	if err != nil {
		return err
	}
	score := float64(time.Now().Add(delay).UnixMilli())
	if err := b.client.ZAdd(ctx, retrySet(queue), redis.Z{Score: score, Member: entry}).Err(); err != nil {
		return fmt.Errorf("failed to schedule delayed publish to %s: %w", queue, err)
	}
	return nil
}

// Consume blocks until ctx is cancelled. It runs three loops: the main
// XREADGROUP read loop, a claim loop that rescues deliveries stuck on dead
// consumers, and a drain loop that moves due delayed messages onto the
// stream. In-flight handlers are bounded by Prefetch across all loops.
func (b *Broker) Consume(ctx context.Context, queue string, h messaging.Handler) error {
	if err := b.ensureGroup(ctx, queue); err != nil {
		return err
	}

	sem := make(chan struct{}, b.cfg.Prefetch)
	var handlers sync.WaitGroup

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		b.claimLoop(ctx, queue, sem, &handlers, h)
	}()
	go func() {
		defer loops.Done()
		b.drainLoop(ctx, queue)
	}()

	b.readLoop(ctx, queue, sem, &handlers, h)

	loops.Wait()
	handlers.Wait()
	return ctx.Err()
}

func (b *Broker) readLoop(ctx context.Context, queue string, sem chan struct{}, handlers *sync.WaitGroup, h messaging.Handler) {
	reconnects := 0
	for {
		if ctx.Err() != nil {
			return
		}

		// Reserve one prefetch slot before asking the broker for work so
		// we never hold more unacknowledged deliveries than allowed.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		free := 1 + drainTokens(sem, b.cfg.Prefetch)
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.consumer,
			Streams:  []string{queue, ">"},
			Count:    int64(free),
			Block:    b.cfg.BlockTimeout,
		}).Result()

		if err != nil && !errors.Is(err, redis.Nil) {
			releaseTokens(sem, free)
			if ctx.Err() != nil {
				return
			}
			delay := b.cfg.Reconnect.Delay(reconnects)
			reconnects++
			b.logger.Error().Err(err).Str("queue", queue).Dur("backoff", delay).Msg("broker read failed, backing off")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		reconnects = 0

		n := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				n++
				b.dispatch(ctx, queue, msg, sem, handlers, h)
			}
		}
		releaseTokens(sem, free-n)
	}
}

func (b *Broker) claimLoop(ctx context.Context, queue string, sem chan struct{}, handlers *sync.WaitGroup, h messaging.Handler) {
	ticker := time.NewTicker(b.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   queue,
			Group:    b.cfg.Group,
			Consumer: b.consumer,
			MinIdle:  b.cfg.ClaimMinIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil || len(msgs) == 0 {
			<-sem
			if err != nil && ctx.Err() == nil {
				b.logger.Warn().Err(err).Str("queue", queue).Msg("claim pass failed")
			}
			continue
		}

		b.logger.Info().Str("queue", queue).Str("delivery_id", msgs[0].ID).Msg("claimed stalled delivery")
		b.dispatch(ctx, queue, msgs[0], sem, handlers, h)
	}
}

// dispatch runs the handler in its own goroutine; the caller has already
// reserved a prefetch slot, which is released when the handler returns.
func (b *Broker) dispatch(ctx context.Context, queue string, msg redis.XMessage, sem chan struct{}, handlers *sync.WaitGroup, h messaging.Handler) {
	body := extractBody(msg)
	handlers.Add(1)
	go func() {
		defer handlers.Done()
		defer func() { <-sem }()

		d := messaging.Delivery{ID: msg.ID, Queue: queue, Body: body}
		if err := h(ctx, d); err != nil {
			// Leave unacknowledged; the claim loop redelivers it after
			// the visibility timeout.
			return
		}
		if err := b.client.XAck(ctx, queue, b.cfg.Group, msg.ID).Err(); err != nil && ctx.Err() == nil {
			b.logger.Error().Err(err).Str("queue", queue).Str("delivery_id", msg.ID).Msg("ack failed")
		}
	}()
}

func (b *Broker) drainLoop(ctx context.Context, queue string) {
	ticker := time.NewTicker(b.cfg.RetryDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.drainDue(ctx, queue); err != nil && ctx.Err() == nil {
				b.logger.Warn().Err(err).Str("queue", queue).Msg("delayed drain failed")
			}
		}
	}
}

// drainDue moves due delayed messages onto the stream. XADD before ZREM:
// a crash between the two re-publishes the message again, which is the
// at-least-once tradeoff, never a loss.
func (b *Broker) drainDue(ctx context.Context, queue string) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := b.client.ZRangeByScore(ctx, retrySet(queue), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 64,
	}).Result()
	if err != nil {
		return err
	}

	for _, m := range members {
		var entry delayedEntry
		if err := json.Unmarshal([]byte(m), &entry); err != nil {
			// Unparseable entries would loop forever; drop them.
			b.client.ZRem(ctx, retrySet(queue), m)
			continue
		}
		if err := b.Publish(ctx, queue, entry.Body); err != nil {
			return err
		}
		if err := b.client.ZRem(ctx, retrySet(queue), m).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) ensureGroup(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groups[queue] {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, queue, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", queue, err)
	}
	b.groups[queue] = true
	return nil
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	return b.client.Close()
}

func retrySet(queue string) string {
	return queue + ".retry"
}

func extractBody(msg redis.XMessage) []byte {
	switch v := msg.Values[bodyField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// drainTokens greedily reserves any remaining free prefetch slots so a
// single read can request a full batch. Returns how many were taken.
func drainTokens(sem chan struct{}, max int) int {
	n := 0
	for n < max-1 {
		select {
		case sem <- struct{}{}:
			n++
		default:
			return n
		}
	}
	return n
}

func releaseTokens(sem chan struct{}, n int) {
	for i := 0; i < n; i++ {
		<-sem
	}
}
