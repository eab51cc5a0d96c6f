package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"prodtrack/internal/handler"
	"prodtrack/internal/repository"
	"prodtrack/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	authHandler *handler.AuthHandler,
	proposalHandler *handler.ProposalHandler,
	projectHandler *handler.ProjectHandler,
	teamworkHandler *handler.TeamworkHandler,
	artifactHandler *handler.ArtifactHandler,
	notificationHandler *handler.NotificationHandler,
	adminHandler *handler.AdminHandler,
	users *repository.UserRepository,
	jwtSecret string,
	db *pgxpool.Pool,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		// 审批闸门
		auth.POST("/proposals", proposalHandler.Create)
		auth.GET("/proposals/pending", proposalHandler.ListPending)
		auth.POST("/proposals/:id/decide", proposalHandler.Decide)
		auth.GET("/proposals/:id/decisions", proposalHandler.Decisions)
		auth.GET("/lookup/:id", proposalHandler.Lookup)

		// 流水线
		auth.GET("/projects/:id", projectHandler.Get)
		auth.POST("/projects/:id/schedule", projectHandler.Schedule)
		auth.POST("/projects/:id/stages/:stage/complete", projectHandler.CompleteStage)
		auth.POST("/projects/:id/stages/:stage/artifacts", projectHandler.Amend)
		auth.GET("/projects/:id/stages/:stage/artifacts", artifactHandler.ListByStage)
		auth.POST("/projects/:id/stages/:stage/files", artifactHandler.Upload)

		// 团队上传
		auth.POST("/projects/:id/stages/:stage/teamwork", teamworkHandler.Submit)
		auth.GET("/projects/:id/stages/:stage/teamwork/:contributor", teamworkHandler.PendingReview)
		auth.POST("/projects/:id/stages/:stage/teamwork/:contributor/integrate", teamworkHandler.Integrate)
		auth.DELETE("/teamwork/artifacts/:id", teamworkHandler.Withdraw)

		// 收件箱
		auth.GET("/notifications", notificationHandler.List)
		auth.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		auth.POST("/notifications/:id/read", notificationHandler.MarkRead)

		// 管理
		admin := auth.Group("/admin")
		admin.Use(RequirePermission(users, rbac.PermissionReplayOutbox))
		{
			admin.POST("/outbox/replay", adminHandler.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", adminHandler.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
