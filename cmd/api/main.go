package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notifier/internal/config"
	"github.com/jwalitptl/notifier/internal/handler/health"
	notificationHandler "github.com/jwalitptl/notifier/internal/handler/notification"
	"github.com/jwalitptl/notifier/internal/middleware"
	"github.com/jwalitptl/notifier/internal/repository/postgres"
	"github.com/jwalitptl/notifier/internal/service/producer"
	"github.com/jwalitptl/notifier/pkg/logger"
	"github.com/jwalitptl/notifier/pkg/messaging/redisstream"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
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
		URL:          cfg.Broker.URL,
		Group:        cfg.Broker.Group,
		Prefetch:     cfg.Broker.Prefetch,
		MaxLen:       cfg.Broker.MaxLen,
		ClaimMinIdle: cfg.Broker.ClaimMinIdle,
	}, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer broker.Close()

	m := metrics.New("notifier")

	notificationRepo := postgres.NewNotificationRepository(postgres.NewBaseRepository(db))
	producerSvc := producer.NewService(broker, m, &log)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  rate.Limit(cfg.Server.RateLimit),
		Burst: cfg.Server.RateLimit,
	})

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(&log))
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(rateLimiter.RateLimit())
	notificationHandler.NewHandler(producerSvc, notificationRepo).RegisterRoutes(api)
	health.NewHandler(db, broker).RegisterRoutes(router.Group(""))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Server.Port).Msg("api server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
