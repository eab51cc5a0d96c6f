package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"prodtrack/config"
	mqcontracts "prodtrack/contracts/mq"
	"prodtrack/internal/mqhandler"
	"prodtrack/internal/repository"
	"prodtrack/pkg/db"
	"prodtrack/pkg/logger"
	"prodtrack/pkg/mq"
	"prodtrack/pkg/outbox"
	redisclient "prodtrack/pkg/redis"
	"prodtrack/pkg/util"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting worker service...")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	log.Info("Database connection established")

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// Init MQ publisher（outbox 派发与死信共用）
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	// Init repositories
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	outboxRepo := outbox.NewRepository(dbConn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Outbox dispatcher：把事务内落库的事件真正发往 MQ
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(1 * time.Second).
		WithBatchSize(100)
	go dispatcher.Start(ctx)

	// Init handlers
	notificationHandler := mqhandler.NewNotificationCreatedHandler(notificationRepo, deduper, retryCounter, publisher, log)
	stageHandler := mqhandler.NewStageCompletedHandler(deduper, log)

	// (1) Consumer for notification delivery
	log.Info("Initializing notification consumer", zap.String("queue", "lifecycle.notify.q"))
	consumerNotify, err := mq.NewConsumer(cfg.MQ.URL, "lifecycle.notify.q", mqcontracts.RoutingKeyNotificationCreated, log)
	if err != nil {
		log.Fatal("failed to init notification consumer", zap.Error(err))
	}
	consumerNotify.SetHandler(notificationHandler.Handle)
	go func() {
		log.Info("Starting notification consumer")
		if err := consumerNotify.StartConsuming(); err != nil {
			log.Fatal("notification consumer failed", zap.Error(err))
		}
	}()
	defer consumerNotify.Close()

	// (2) Consumer for stage completion audit
	log.Info("Initializing stage audit consumer", zap.String("queue", "lifecycle.stage.q"))
	consumerStage, err := mq.NewConsumer(cfg.MQ.URL, "lifecycle.stage.q", mqcontracts.RoutingKeyStageCompleted, log)
	if err != nil {
		log.Fatal("failed to init stage consumer", zap.Error(err))
	}
	consumerStage.SetHandler(stageHandler.HandleStageCompleted)
	go func() {
		log.Info("Starting stage audit consumer")
		if err := consumerStage.StartConsuming(); err != nil {
			log.Fatal("stage consumer failed", zap.Error(err))
		}
	}()
	defer consumerStage.Close()

	// (3) Consumer for project archive audit
	log.Info("Initializing archive audit consumer", zap.String("queue", "lifecycle.archive.q"))
	consumerArchive, err := mq.NewConsumer(cfg.MQ.URL, "lifecycle.archive.q", mqcontracts.RoutingKeyProjectArchived, log)
	if err != nil {
		log.Fatal("failed to init archive consumer", zap.Error(err))
	}
	consumerArchive.SetHandler(stageHandler.HandleProjectArchived)
	go func() {
		log.Info("Starting archive audit consumer")
		if err := consumerArchive.StartConsuming(); err != nil {
			log.Fatal("archive consumer failed", zap.Error(err))
		}
	}()
	defer consumerArchive.Close()

	log.Info("All consumers started, worker is ready to process messages")

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping worker")
}
