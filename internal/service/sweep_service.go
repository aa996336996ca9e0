package service

import (
	"context"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// SweepService периодически помечает истекшие подписки
type SweepService interface {
	// Sweep помечает истекшими все активные записи, чей срок прошел,
	// и возвращает число затронутых записей.
	Sweep(ctx context.Context) (int, error)
}

type sweepService struct {
	repo     repository.SubscriptionRepository
	producer kafka.Producer
	metrics  metrics.EntitlementMetrics
	log      *logger.Logger
	now      func() time.Time
}

// NewSweepService создает новый сервис зачистки истекших подписок
func NewSweepService(
	repo repository.SubscriptionRepository,
	producer kafka.Producer,
	m metrics.EntitlementMetrics,
	log *logger.Logger,
) SweepService {
	return &sweepService{
		repo:     repo,
		producer: producer,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Sweep выполняет один проход зачистки. Каждая затронутая запись порождает
// событие истечения; ошибка брокера не откатывает зачистку.
func (s *sweepService) Sweep(ctx context.Context) (int, error) {
	now := s.now()

	swept, err := s.repo.SweepExpired(ctx, now)
	if err != nil {
		s.log.Errorw("Sweep of expired subscriptions failed", "error", err)
		return 0, domain.NewStorageError("sweep expired", "", err)
	}

	if len(swept) == 0 {
		s.log.Debugw("Sweep found no expired subscriptions")
		return 0, nil
	}

	s.metrics.AddSweptRecords(len(swept))

	for _, record := range swept {
		if err := s.producer.PublishEntitlementEvent(ctx, kafka.TopicEntitlementExpired, record); err != nil {
			s.log.Warnw("Failed to publish expiration event", "error", err, "userID", record.UserID)
		}
	}

	s.log.Infow("Expired subscriptions swept", "count", len(swept))
	return len(swept), nil
}
