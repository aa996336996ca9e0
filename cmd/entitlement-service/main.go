package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dhoini/Entitlement-microservice/internal/api/rest"
	"github.com/Dhoini/Entitlement-microservice/internal/app"
	"github.com/Dhoini/Entitlement-microservice/internal/config"
	"github.com/Dhoini/Entitlement-microservice/internal/db"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/internal/scheduler"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем логгер
	log := initLogger()

	log.Infow("Entitlement microservice starting up...")

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}

	// Устанавливаем режим Gin в зависимости от окружения
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Инициализация Prometheus
	promRegistry := prometheus.NewRegistry()
	entitlementMetrics := metrics.NewEntitlementMetrics(promRegistry, log)

	// Подключаемся к базе данных
	dbPool, err := db.NewConnection(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	// Инициализируем Redis кеш
	var redisCache *repository.RedisCacheRepository
	if cfg.Redis.Enabled {
		redisCache, err = repository.NewRedisCacheRepository(
			cfg.Redis.Addr,
			cfg.Redis.Password,
			cfg.Redis.DB,
			log,
		)
		if err != nil {
			// Не фатально, но предупреждаем
			log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
			redisCache = nil
		} else {
			defer func() {
				if err := redisCache.Close(); err != nil {
					log.Errorw("Error closing Redis connection", "error", err)
				}
			}()
		}
	}

	// Инициализируем базовый репозиторий
	baseRepo := repository.NewPostgresSubscriptionRepository(dbPool, log)

	// Создаем репозиторий с кешированием, если Redis доступен
	var subscriptionRepo repository.SubscriptionRepository
	if redisCache != nil {
		subscriptionRepo = repository.NewCachedSubscriptionRepository(baseRepo, redisCache, log)
		log.Infow("Using cached subscription repository")
	} else {
		subscriptionRepo = baseRepo
		log.Infow("Using non-cached subscription repository")
	}

	// Инициализируем Kafka Producer
	var kafkaProducer kafka.Producer = kafka.NoOpProducer{}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		} else {
			kafkaProducer = producer
			defer func() {
				if err := kafkaProducer.Close(); err != nil {
					log.Errorw("Error closing Kafka producer", "error", err)
				}
			}()
		}
	}

	// Собираем приложение
	application := app.NewApp(cfg, subscriptionRepo, redisCache, kafkaProducer, entitlementMetrics, log)

	// Планировщик зачистки истекших подписок
	sweepScheduler, err := scheduler.NewSweepScheduler(cfg.Sweep.Schedule, application.SweepService, log)
	if err != nil {
		log.Fatalw("Failed to configure sweep scheduler", "error", err)
	}
	sweepScheduler.Start()

	// Настройка маршрутизатора и HTTP сервера
	router := rest.SetupRouter(application.EntitlementHandler, promRegistry, log)
	server := rest.NewServer(router, cfg, log)

	// Запуск сервера в горутине
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("Server error", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	sweepScheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger инициализирует новый логгер
func initLogger() *logger.Logger {
	logLevel := logger.INFO
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = logger.DEBUG
	}
	return logger.New(logLevel)
}
