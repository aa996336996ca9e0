package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/handlers"
	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/middleware"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(entitlementHandler *handlers.EntitlementHandler, registry *prometheus.Registry, log *logger.Logger) *gin.Engine {
	r := gin.New()

	// Подключение middleware
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API подписок
	v1 := r.Group("/api/v1")
	{
		entitlements := v1.Group("/entitlements")
		{
			entitlements.POST("/events", entitlementHandler.SubmitEvent)
			entitlements.POST("/restore", entitlementHandler.RestoreEvents)
			entitlements.GET("/:user_id/status", entitlementHandler.GetStatus)
			entitlements.POST("/:user_id/refresh", entitlementHandler.RefreshStatus)
			entitlements.DELETE("/:user_id", entitlementHandler.PurgeUser)
		}
	}

	return r
}
