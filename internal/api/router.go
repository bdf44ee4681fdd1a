package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"greendrake/tutormatch/internal/api/handlers"
	"greendrake/tutormatch/internal/api/middleware"
	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/logging"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/services"
)

// Services bundles the lifecycle services the public API is served from.
type Services struct {
	Posts        services.IPostService
	Applications services.IApplicationService
	Chat         services.IChatService
}

// NotificationReader reads back notifications kept by the mock outbox.
type NotificationReader interface {
	Recent(ctx context.Context, recipientID string) ([]models.Notification, error)
}

// SetupRouter configures and returns the main Gin engine. Idle rate limiter
// entries are evicted until ctx is done.
func SetupRouter(ctx context.Context, cfg *config.Config, svc Services, logger *zap.Logger) *gin.Engine {
	r := gin.New()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, logger)
	rateLimiter.StartCleanup(ctx.Done())

	// Apply global middleware first (order matters)
	r.Use(logging.GinLogger(logger), gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowedOrigins))
	r.Use(rateLimiter.Limit())

	jsonApiHandler := handlers.NewJsonApiHandler(cfg, svc.Posts, svc.Applications, logger)
	restPostHandler := handlers.NewRestPostHandler(svc.Posts, svc.Applications, svc.Chat, logger)

	v1 := r.Group("/v1")
	{
		// The JSON API authenticates per method.
		v1.POST("/api", jsonApiHandler.HandleRequest)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret, logger))
		{
			authRequired.GET("/post/:id", restPostHandler.GetPost)
			authRequired.GET("/post/:id/applications", restPostHandler.ListApplications)
			authRequired.GET("/post/:id/chat/:tutor_id", restPostHandler.GetChatRoom)
			authRequired.GET("/application/:id", restPostHandler.GetApplication)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the internal service Gin engine.
// outbox may be nil when mock services are disabled.
func SetupServiceRouter(outbox NotificationReader, shutdownChan chan<- struct{}, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(logging.GinLogger(logger), gin.Recovery())

	service := r.Group("/service")

	service.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	service.POST("/shutdown", func(c *gin.Context) {
		logger.Info("received shutdown command via service API")
		c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
		select {
		case shutdownChan <- struct{}{}:
		default:
			logger.Info("shutdown already signaled")
		}
	})

	service.GET("/notifications/:recipient", func(c *gin.Context) {
		if outbox == nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Mock services are disabled"})
			return
		}
		recipient := c.Param("recipient")
		notifications, err := outbox.Recent(c.Request.Context(), recipient)
		if err != nil {
			logger.Error("service API: reading notifications failed", zap.String("recipient", recipient), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
			return
		}
		if notifications == nil {
			notifications = []models.Notification{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": notifications})
	})

	return r
}
