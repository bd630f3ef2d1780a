// Package consumer implements the processing side of the pipeline: it
// pulls work items from a channel queue under a bounded prefetch, runs
// enrichment, rendering and delivery, records the lifecycle trail, and
// owns the retry/dead-letter protocol.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/enrichment"
	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/internal/provider"
	"github.com/jwalitptl/notifier/internal/renderer"
	"github.com/jwalitptl/notifier/internal/repository"
	"github.com/jwalitptl/notifier/pkg/backoff"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
	"github.com/jwalitptl/notifier/pkg/messaging"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

// Config controls the retry protocol.
type Config struct {
	// MaxRetries bounds how many times a transiently failing item is
	// re-published before it is dead-lettered.
	MaxRetries int

	// RetryBackoff computes the re-publish delay from the item's retry
	// count.
	RetryBackoff backoff.Policy

	// FallbackLanguage is used when the user has no language preference
	// or the template is missing in their language.
	FallbackLanguage string
}

func (c *Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff.Base <= 0 {
		c.RetryBackoff = backoff.Policy{Base: 5 * time.Second, Max: 2 * time.Minute}
	}
	if c.FallbackLanguage == "" {
		c.FallbackLanguage = "en"
	}
}

// Consumer processes work items for one or more channels. It is safe to
// run one Consumer over multiple queues; providers are selected per item.
type Consumer struct {
	broker    messaging.Broker
	repo      repository.NotificationRepository
	users     enrichment.UserClient
	templates enrichment.TemplateClient
	providers map[model.Channel]provider.Provider
	cfg       Config
	metrics   *metrics.Metrics
	logger    *zerolog.Logger
}

func New(
	broker messaging.Broker,
	repo repository.NotificationRepository,
	users enrichment.UserClient,
	templates enrichment.TemplateClient,
	providers map[model.Channel]provider.Provider,
	cfg Config,
	m *metrics.Metrics,
	logger *zerolog.Logger,
) *Consumer {
	cfg.setDefaults()
	return &Consumer{
		broker:    broker,
		repo:      repo,
		users:     users,
		templates: templates,
		providers: providers,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// Run consumes queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, queue string) error {
	c.logger.Info().Str("queue", queue).Msg("consumer started")
	return c.broker.Consume(ctx, queue, c.Handle)
}

// Handle is the per-message entry point. Returning nil acknowledges the
// delivery; returning an error leaves it unacknowledged for broker
// redelivery. All processing failures are captured here and drive the
// retry/dead-letter decision; none escapes to crash the process.
func (c *Consumer) Handle(ctx context.Context, d messaging.Delivery) error {
	var item model.WorkItem
	if err := json.Unmarshal(d.Body, &item); err != nil {
		// A payload we cannot parse can never succeed; dead-letter the
		// raw body for manual inspection.
		c.logger.Error().Err(err).Str("queue", d.Queue).Msg("unparseable work item")
		if dlqErr := c.broker.Publish(ctx, messaging.DLQ(d.Queue), d.Body); dlqErr != nil {
			return dlqErr
		}
		return nil
	}

	log := c.logger.With().
		Str("message_id", item.MessageID).
		Str("correlation_id", item.CorrelationID).
		Str("notification_id", item.NotificationID).
		Str("channel", string(item.Channel)).
		Int("retry_count", item.RetryCount).
		Logger()

	c.metrics.InFlight.Inc()
	timer := time.Now()
	err := c.process(ctx, &log, item)
	c.metrics.InFlight.Dec()
	c.metrics.ProcessingDuration.WithLabelValues(string(item.Channel)).Observe(time.Since(timer).Seconds())

	if err == nil {
		c.metrics.Processed.WithLabelValues(string(item.Channel)).Inc()
		log.Info().Msg("work item delivered")
		return nil
	}

	kind := apperr.KindOf(err)
	c.metrics.Failed.WithLabelValues(string(item.Channel), kind.String()).Inc()

	if kind == apperr.KindStorage {
		// The lifecycle store is down: neither acknowledge nor re-publish.
		// The broker redelivers after the visibility timeout.
		log.Error().Err(err).Msg("lifecycle store write failed, leaving delivery unacknowledged")
		return err
	}

	c.recordFailure(ctx, &log, item, err)

	if apperr.Retryable(err) && item.RetryCount < c.cfg.MaxRetries {
		return c.scheduleRetry(ctx, &log, d.Queue, item, err)
	}
	return c.deadLetter(ctx, &log, d.Queue, item, err)
}

// process runs the delivery state machine for one work item:
// record creation, eligibility, enrichment, variable validation, render,
// send, lifecycle updates. Steps execute strictly in sequence.
func (c *Consumer) process(ctx context.Context, log *zerolog.Logger, item model.WorkItem) error {
	// Step 1: idempotent record creation.
	if err := c.repo.Create(ctx, item.NotificationID, item.UserID, item.TemplateID); err != nil {
		return err
	}
	if err := c.repo.AppendEvent(ctx, item.NotificationID, model.EventProcessingStarted, "processing started", map[string]string{
		"message_id":     item.MessageID,
		"correlation_id": item.CorrelationID,
		"retry_count":    strconv.Itoa(item.RetryCount),
	}); err != nil {
		return err
	}

	// Step 2: eligibility.
	eligibility, err := c.users.ValidateCanReceive(ctx, item.UserID, string(item.Channel))
	if err != nil {
		return err
	}
	if !eligibility.CanReceive {
		return apperr.Validation(fmt.Sprintf("recipient not eligible: %s", eligibility.Reason), nil)
	}

	// Step 3: enrichment.
	user, err := c.users.GetUser(ctx, item.UserID)
	if err != nil {
		return err
	}
	language := user.Preferences.Language
	if language == "" {
		language = c.cfg.FallbackLanguage
	}
	if err := c.repo.AppendEvent(ctx, item.NotificationID, model.EventUserFetched, "user profile fetched", map[string]string{
		"language": language,
	}); err != nil {
		return err
	}

	tpl, err := c.templates.GetTemplate(ctx, item.TemplateID, language, c.cfg.FallbackLanguage)
	if err != nil {
		return err
	}
	if err := c.repo.AppendEvent(ctx, item.NotificationID, model.EventTemplateFetched, "template fetched", map[string]string{
		"language": tpl.Language,
	}); err != nil {
		return err
	}

	// Step 4: variable validation against the declared set.
	if err := c.checkVariables(ctx, log, item, tpl); err != nil {
		return err
	}

	// Step 5: render.
	content := renderer.Render(tpl.Subject, tpl.Body, item.Variables)
	if err := c.repo.AppendEvent(ctx, item.NotificationID, model.EventRendered, "content rendered", item.Variables); err != nil {
		return err
	}

	// Step 6: send.
	prov, ok := c.providers[item.Channel]
	if !ok {
		return apperr.Validation(fmt.Sprintf("no provider for channel %s", item.Channel), nil)
	}
	result, err := prov.Send(ctx, item.ChannelTarget, content.Subject, content.Body, item.NotificationID)
	if err != nil {
		return err
	}

	if err := c.repo.MarkSent(ctx, item.NotificationID, item.ChannelTarget, content.Subject, *result); err != nil {
		return err
	}
	if err := c.repo.AppendEvent(ctx, item.NotificationID, model.EventSentToProvider, "accepted by provider", map[string]string{
		"provider_message_id": result.ProviderMessageID,
		"status_code":         strconv.Itoa(result.StatusCode),
	}); err != nil {
		return err
	}

	// Provider acceptance doubles as delivery confirmation; there is no
	// asynchronous delivery-receipt channel.
	if err := c.repo.MarkDelivered(ctx, item.NotificationID); err != nil {
		return err
	}
	return c.repo.AppendEvent(ctx, item.NotificationID, model.EventDelivered, "delivered", nil)
}

// checkVariables compares the item's variable keys against the template's
// declared set. Missing required variables are a validation failure; extra
// variables are tolerated and logged for visibility. When the template
// carries no declared set, the template collaborator is asked instead.
func (c *Consumer) checkVariables(ctx context.Context, log *zerolog.Logger, item model.WorkItem, tpl *enrichment.Template) error {
	var missing, extra []string

	if tpl.DeclaredVariables != nil {
		declared := make(map[string]bool, len(tpl.DeclaredVariables))
		for _, name := range tpl.DeclaredVariables {
			declared[name] = true
			if _, ok := item.Variables[name]; !ok {
				missing = append(missing, name)
			}
		}
		for key := range item.Variables {
			if !declared[key] {
				extra = append(extra, key)
			}
		}
	} else {
		check, err := c.templates.ValidateVariables(ctx, item.TemplateID, item.Variables, tpl.Language)
		if err != nil {
			return err
		}
		missing, extra = check.Missing, check.Extra
	}

	if len(extra) > 0 {
		log.Warn().Strs("extra_variables", extra).Msg("unused variables in work item")
	}
	if len(missing) > 0 {
		return apperr.Validation(fmt.Sprintf("missing required template variables: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}

// recordFailure marks the record FAILED with the error detail. Failures
// writing the failure itself are logged and swallowed: blocking the
// retry/dead-letter decision on the tracker would stall the queue.
func (c *Consumer) recordFailure(ctx context.Context, log *zerolog.Logger, item model.WorkItem, cause error) {
	if err := c.repo.MarkFailed(ctx, item.NotificationID, cause.Error()); err != nil {
		log.Error().Err(err).Msg("failed to record FAILED status")
		return
	}
	if err := c.repo.AppendEvent(ctx, item.NotificationID, model.EventFailed, cause.Error(), map[string]string{
		"kind":        apperr.KindOf(cause).String(),
		"retry_count": strconv.Itoa(item.RetryCount),
	}); err != nil {
		log.Error().Err(err).Msg("failed to append FAILED event")
	}
}

// scheduleRetry re-publishes the item with retry_count+1 after an
// exponential backoff delay. The original delivery is acknowledged only
// when the re-publish succeeded, never acknowledge-then-lose.
func (c *Consumer) scheduleRetry(ctx context.Context, log *zerolog.Logger, queue string, item model.WorkItem, cause error) error {
	retry := item
	retry.RetryCount++

	body, err := json.Marshal(retry)
	if err != nil {
		return err
	}

	delay := c.cfg.RetryBackoff.Delay(item.RetryCount)
	if err := c.broker.PublishDelayed(ctx, queue, body, delay); err != nil {
		log.Error().Err(err).Msg("retry re-publish failed, leaving delivery unacknowledged")
		return err
	}

	c.metrics.Retried.WithLabelValues(string(item.Channel)).Inc()
	log.Warn().Err(cause).
		Dur("delay", delay).
		Int("next_retry_count", retry.RetryCount).
		Msg("work item scheduled for retry")
	return nil
}

// deadLetter routes the item unchanged to the queue's dead-letter queue
// and acknowledges the original. Dead-lettered items receive no further
// automatic processing; they stay available for inspection and replay.
func (c *Consumer) deadLetter(ctx context.Context, log *zerolog.Logger, queue string, item model.WorkItem, cause error) error {
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if err := c.broker.Publish(ctx, messaging.DLQ(queue), body); err != nil {
		log.Error().Err(err).Msg("dead-letter publish failed, leaving delivery unacknowledged")
		return err
	}

	c.metrics.DeadLettered.WithLabelValues(string(item.Channel)).Inc()
	log.Error().Err(cause).
		Str("kind", apperr.KindOf(cause).String()).
		Msg("work item dead-lettered")
	return nil
}
