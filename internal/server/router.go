package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tortodelova/backend/internal/handlers"
	"github.com/tortodelova/backend/internal/middleware"
	"github.com/tortodelova/backend/internal/utils"
)

type RouterConfig struct {
	AuthHandler       *handlers.AuthHandler
	AuthMiddleware    *middleware.AuthMiddleware
	UserHandler       *handlers.UserHandler
	PredictionHandler *handlers.PredictionHandler
	EventsHandler     *handlers.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	allowOrigins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", nil), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/register", cfg.AuthHandler.Register)
		api.POST("/login", cfg.AuthHandler.Login)

		// Demo surface: generation and browsing need no account, claiming does.
		api.POST("/demo/predictions", cfg.PredictionHandler.CreateDemo)
		api.GET("/demo/predictions", cfg.PredictionHandler.ListDemo)
		api.GET("/demo/predictions/:task_id", cfg.PredictionHandler.GetDemoByTaskID)
		api.GET("/demo/predictions/:task_id/image", cfg.PredictionHandler.GetDemoImage)
	}

	protected := api.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	{
		protected.GET("/user", cfg.UserHandler.GetMe)
		protected.GET("/user/transactions", cfg.UserHandler.ListTransactions)
		protected.GET("/events/stream", cfg.EventsHandler.Stream)

		protected.POST("/predictions", cfg.PredictionHandler.Create)
		protected.GET("/predictions", cfg.PredictionHandler.List)
		protected.GET("/predictions/:task_id", cfg.PredictionHandler.GetByTaskID)
		protected.GET("/predictions/:task_id/image", cfg.PredictionHandler.GetImage)

		protected.POST("/demo/predictions/:task_id/claim", cfg.PredictionHandler.ClaimDemo)
	}

	admin := protected.Group("/admin")
	admin.Use(cfg.AuthMiddleware.RequireAdmin())
	{
		admin.POST("/deposit", cfg.UserHandler.AdminDeposit)
	}

	return router
}
