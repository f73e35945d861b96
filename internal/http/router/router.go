package router

import (
	"github.com/gin-gonic/gin"

	"forgeline.dev/bridge/internal/http/handler"
	"forgeline.dev/bridge/internal/http/handler/webhook"
	"forgeline.dev/bridge/internal/http/middleware"
	"forgeline.dev/bridge/internal/service"
)

type RouterConfig struct {
	WebhookSecret string
	AdminToken    string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})

	webhookHandler := webhook.NewGitLabWebhookHandler(cfg.WebhookSecret, services.Dispatcher())
	router.POST("/webhook", webhookHandler.HandleEvent)

	adminHandler := handler.NewAdminHandler(services.KillSwitch())
	admin := router.Group("/admin", middleware.RequireBearer(cfg.AdminToken))
	{
		admin.GET("/disable", adminHandler.Disable)
		admin.GET("/enable", adminHandler.Enable)
		admin.GET("/status", adminHandler.Status)
	}
}
