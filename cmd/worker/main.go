package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/config"
	"github.com/jwalitptl/notifier/internal/enrichment"
	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/internal/provider"
	"github.com/jwalitptl/notifier/internal/repository/postgres"
	"github.com/jwalitptl/notifier/internal/service/consumer"
	"github.com/jwalitptl/notifier/pkg/backoff"
	"github.com/jwalitptl/notifier/pkg/logger"
	"github.com/jwalitptl/notifier/pkg/messaging/redisstream"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redisstream.New(redisstream.Config{
		URL:           cfg.Broker.URL,
		Group:         cfg.Broker.Group,
		Prefetch:      cfg.Broker.Prefetch,
		MaxLen:        cfg.Broker.MaxLen,
		ClaimMinIdle:  cfg.Broker.ClaimMinIdle,
		ClaimInterval: cfg.Broker.ClaimInterval,
	}, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer broker.Close()

	m := metrics.New("notifier_worker")

	repo := postgres.NewNotificationRepository(postgres.NewBaseRepository(db))

	users := enrichment.NewHTTPUserClient(enrichment.UserClientConfig{
		BaseURL:  cfg.Enrichment.UserServiceURL,
		Timeout:  cfg.Enrichment.Timeout,
		CacheTTL: cfg.Enrichment.UserCacheTTL,
	}, &log)
	templates := enrichment.NewHTTPTemplateClient(enrichment.TemplateClientConfig{
		BaseURL:  cfg.Enrichment.TemplateServiceURL,
		Timeout:  cfg.Enrichment.Timeout,
		CacheTTL: cfg.Enrichment.TemplateCacheTTL,
	}, &log)

	providers := buildProviders(cfg, &log)

	svc := consumer.New(broker, repo, users, templates, providers, consumer.Config{
		MaxRetries: cfg.Consumer.MaxRetries,
		RetryBackoff: backoff.Policy{
			Base: cfg.Consumer.RetryBackoffBase,
			Max:  cfg.Consumer.RetryBackoffMax,
		},
		FallbackLanguage: cfg.Consumer.FallbackLanguage,
	}, m, &log)

	startOpsServer(broker, &log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	errCh := make(chan error, len(providers))
	for channel := range providers {
		queue := channel.Queue()
		go func() {
			errCh <- svc.Run(ctx, queue)
		}()
	}

	for range providers {
		if err := <-errCh; err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("consumer stopped unexpectedly")
		}
	}
	log.Info().Msg("worker exited")
}

func buildProviders(cfg *config.Config, log *zerolog.Logger) map[model.Channel]provider.Provider {
	if cfg.MockMode {
		log.Warn().Msg("mock mode enabled, no real deliveries will be made")
		return map[model.Channel]provider.Provider{
			model.ChannelEmail: provider.NewMockProvider(model.ChannelEmail, log),
			model.ChannelPush:  provider.NewMockProvider(model.ChannelPush, log),
		}
	}
	return map[model.Channel]provider.Provider{
		model.ChannelEmail: provider.NewEmailProvider(provider.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, log),
		model.ChannelPush: provider.NewPushProvider(provider.PushConfig{
			GatewayURL: cfg.Push.GatewayURL,
			APIKey:     cfg.Push.APIKey,
			Timeout:    cfg.Push.Timeout,
		}, log),
	}
}

// startOpsServer exposes liveness, readiness and metrics on a side port so
// the worker can be probed without an API surface.
func startOpsServer(broker *redisstream.Broker, log *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := broker.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			log.Error().Err(err).Msg("ops server failed")
			os.Exit(1)
		}
	}()
}
