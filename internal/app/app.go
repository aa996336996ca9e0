package app

import (
	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/handlers"
	"github.com/Dhoini/Entitlement-microservice/internal/config"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/receipt"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/internal/service"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config             *config.Config
	ReconcilerService  service.ReconcilerService
	StatusService      service.StatusService
	SweepService       service.SweepService
	EntitlementHandler *handlers.EntitlementHandler
	Logger             *logger.Logger
}

// NewApp создает и инициализирует новый экземпляр приложения
func NewApp(
	cfg *config.Config,
	repo repository.SubscriptionRepository,
	cache *repository.RedisCacheRepository,
	producer kafka.Producer,
	m metrics.EntitlementMetrics,
	log *logger.Logger,
) *App {
	normalizer := receipt.NewNormalizer(log)

	reconcilerService := service.NewReconcilerService(repo, normalizer, producer, m, log)

	var invalidator service.CacheInvalidator
	if cache != nil {
		invalidator = cache
	}
	statusService := service.NewStatusService(repo, invalidator, log)

	sweepService := service.NewSweepService(repo, producer, m, log)

	entitlementHandler := handlers.NewEntitlementHandler(reconcilerService, statusService, log)

	return &App{
		Config:             cfg,
		ReconcilerService:  reconcilerService,
		StatusService:      statusService,
		SweepService:       sweepService,
		EntitlementHandler: entitlementHandler,
		Logger:             log,
	}
}
