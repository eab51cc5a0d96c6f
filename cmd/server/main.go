package main

import (
	"prodtrack/config"
	"prodtrack/internal/handler"
	"prodtrack/internal/httpserver"
	"prodtrack/internal/repository"
	"prodtrack/internal/service"
	"prodtrack/pkg/db"
	"prodtrack/pkg/logger"
	"prodtrack/pkg/mq"
	"prodtrack/pkg/outbox"

	"go.uber.org/zap"
)

func main() {
	// 1. Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	// 2. Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// 3. Init MQ publisher（仅供 admin 重放使用；业务事件全部走 outbox）
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	// 4. Init repositories
	userRepo := repository.NewUserRepository(dbConn, log)
	proposalRepo := repository.NewProposalRepository(dbConn, log)
	projectRepo := repository.NewProjectRepository(dbConn, log)
	artifactRepo := repository.NewArtifactRepository(dbConn, log)
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	outboxRepo := outbox.NewRepository(dbConn)

	// 5. Init services
	events := service.NewOutboxPublisher(outboxRepo, "lifecycle")
	notifier := service.NewNotifier(notificationRepo, events, log)

	storageClient := service.NewStorageClient(cfg.Storage, log)

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, log)
	approvalService := service.NewApprovalService(proposalRepo, projectRepo, userRepo, notifier, events, log)
	pipelineService := service.NewPipelineService(projectRepo, artifactRepo, userRepo, notifier, events, log)
	teamworkService := service.NewTeamworkService(projectRepo, artifactRepo, userRepo, notifier, events, log).
		WithStorage(storageClient)
	notificationService := service.NewNotificationService(notificationRepo)
	replayService := outbox.NewReplayService(outboxRepo, publisher)

	// 6. Init handlers
	authHandler := handler.NewAuthHandler(authService, log)
	proposalHandler := handler.NewProposalHandler(approvalService, log)
	projectHandler := handler.NewProjectHandler(pipelineService, projectRepo, log)
	teamworkHandler := handler.NewTeamworkHandler(teamworkService, log)
	artifactHandler := handler.NewArtifactHandler(storageClient, artifactRepo, log)
	notificationHandler := handler.NewNotificationHandler(notificationService, log)
	adminHandler := handler.NewAdminHandler(replayService, log)

	// 7. Init router
	router := httpserver.NewRouter(
		authHandler,
		proposalHandler,
		projectHandler,
		teamworkHandler,
		artifactHandler,
		notificationHandler,
		adminHandler,
		userRepo,
		cfg.JWT.Secret,
		dbConn,
		log,
	)

	// 8. Run server
	log.Info("Starting API server", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}
}
