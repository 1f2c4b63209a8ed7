// Command worker is the single long-lived process: it serves the Telegram
// webhook and the operator HTTP surface, and runs the leased scheduler
// that builds and broadcasts the daily digest.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"digestbot/internal/adapters/adminapi"
	"digestbot/internal/adapters/bot"
	"digestbot/internal/adapters/mirror"
	"digestbot/internal/adapters/repo"
	"digestbot/internal/adapters/summarizer"
	"digestbot/internal/adapters/telegram"
	"digestbot/internal/adapters/translator"
	"digestbot/internal/i18n"
	"digestbot/internal/infra/config"
	"digestbot/internal/infra/db"
	infrahttp "digestbot/internal/infra/http"
	"digestbot/internal/infra/leasestore"
	infralog "digestbot/internal/infra/log"
	"digestbot/internal/infra/metrics"
	"digestbot/internal/infra/openai"
	"digestbot/internal/infra/queue"
	"digestbot/internal/usecase/delivery"
	"digestbot/internal/usecase/digest"
	"digestbot/internal/usecase/pipeline"
	"digestbot/internal/usecase/schedule"
)

const (
	chatClientTimeout = 60 * time.Second
	welcomeTimeout    = 25 * time.Second

	deliveryConsumerWorkers = 4
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: configuration-invalid:", err)
		os.Exit(1)
	}

	logger := infralog.NewLogger(cfg.AppEnv)
	if err := i18n.Init(cfg.BaseLanguage); err != nil {
		logger.Fatal().Err(err).Msg("worker: i18n registry init failed")
	}
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: cannot connect to Postgres")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	lease := leasestore.New(redisClient, "digestbot:lease:")

	roster, err := mirror.LoadRoster(cfg.UsernamesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: cannot load account roster")
	}
	harvester := mirror.New(cfg.Nitter.Instance, cfg.Nitter.APIKey)

	chatClient := openai.NewClient(cfg.OpenAI.APIKey, "", chatClientTimeout)
	summarizerAdapter := summarizer.NewOpenAI(chatClient, cfg.OpenAI.Model, chatClientTimeout)
	translatorAdapter := translator.New(chatClient, store, cfg.OpenAI.Model, cfg.BaseLanguage, chatClientTimeout)
	sender := telegram.NewSender(cfg.Telegram.BotToken)

	digestService := digest.NewService(harvester, summarizerAdapter, store, cfg.BaseLanguage, time.Duration(cfg.HoursLookback)*time.Hour, cfg.MaxTweets)
	orchestrator := delivery.New(store, translatorAdapter, sender, logger.With().Str("component", "delivery").Logger(), cfg.Telegram.AdminChatID)
	pipe := pipeline.New(digestService, orchestrator, roster, logger.With().Str("component", "pipeline").Logger())

	switch cfg.Queue.Backend {
	case "redis":
		deliveryQueue := queue.NewRedisDeliveryQueue(redisClient, cfg.Queue.QueueName)
		orchestrator.WithQueue(deliveryQueue)
		startDeliveryConsumers(ctx, orchestrator, logger)
	case "rabbitmq":
		rabbitQueue, err := queue.NewRabbitDeliveryQueue(cfg.Queue.RabbitURL, cfg.Queue.QueueName)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: cannot connect to RabbitMQ")
		}
		defer rabbitQueue.Close()
		orchestrator.WithQueue(rabbitQueue)
		startDeliveryConsumers(ctx, orchestrator, logger)
	}

	instanceID := instanceIdentity()
	scheduler := schedule.New(cfg.Schedule, lease, pipe, instanceID, logger.With().Str("component", "scheduler").Logger())
	go scheduler.Run(ctx)

	webhookHandler := bot.NewHandler(store, store, orchestrator, sender, logger.With().Str("component", "webhook").Logger(), cfg.Telegram.WebhookSecret, cfg.Telegram.AdminChatID)
	adminHandler := adminapi.NewHandler(store, scheduler, pipe, orchestrator, cfg.AdminAPIKey, logger.With().Str("component", "adminapi").Logger())

	httpServer := infrahttp.NewServer(logger)
	router := httpServer.Router
	router.Post("/webhook", webhookHandler.ServeHTTP)
	router.Get("/health", adminHandler.Health)
	router.Post("/trigger", adminHandler.Trigger)
	router.Post("/test", adminHandler.Test)
	router.Get("/subscribers", adminHandler.Subscribers)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	go func() {
		if err := httpServer.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("worker: http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("worker: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: graceful shutdown failed")
	}
}

// startDeliveryConsumers launches the fixed-size pool of goroutines that
// pop DeliveryJobs off orchestrator's queue and send them, one job per
// goroutine at a time, until ctx is canceled.
func startDeliveryConsumers(ctx context.Context, orchestrator *delivery.Orchestrator, logger zerolog.Logger) {
	consumerLog := logger.With().Str("component", "delivery-consumer").Logger()
	for i := 0; i < deliveryConsumerWorkers; i++ {
		go func(worker int) {
			if err := orchestrator.RunConsumer(ctx); err != nil {
				consumerLog.Error().Err(err).Int("worker", worker).Msg("worker: delivery consumer stopped")
			}
		}(i)
	}
}

// instanceIdentity derives a stable per-process lease holder name from the
// hostname and pid, so two replicas never collide on the same identity.
func instanceIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
