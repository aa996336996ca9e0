package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/entitlement"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// StatusService отвечает на запросы статуса подписки пользователя
type StatusService interface {
	// GetStatus возвращает актуальный статус подписки пользователя.
	// Производные поля пересчитываются на момент запроса без записи в хранилище.
	GetStatus(ctx context.Context, userID string) (domain.EntitlementStatus, error)

	// Refresh сбрасывает кеш пользователя и возвращает свежий статус
	Refresh(ctx context.Context, userID string) (domain.EntitlementStatus, error)
}

// CacheInvalidator сбрасывает кешированные данные пользователя
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

type statusService struct {
	repo        repository.SubscriptionRepository
	invalidator CacheInvalidator
	log         *logger.Logger
	now         func() time.Time
}

// NewStatusService создает новый сервис статуса подписок.
// invalidator может быть nil, если кеш не сконфигурирован.
func NewStatusService(repo repository.SubscriptionRepository, invalidator CacheInvalidator, log *logger.Logger) StatusService {
	return &statusService{
		repo:        repo,
		invalidator: invalidator,
		log:         log,
		now:         time.Now,
	}
}

// GetStatus возвращает статус подписки. Отсутствие записей — это валидный
// ответ "нет подписки", а не ошибка. Хранимые флаги могли устареть с момента
// записи, поэтому активность вычисляется заново на текущий момент.
func (s *statusService) GetStatus(ctx context.Context, userID string) (domain.EntitlementStatus, error) {
	if userID == "" {
		return domain.EntitlementStatus{}, domain.ErrInvalidInput
	}

	record, err := s.repo.GetLatestByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, domain.ErrNotFound) {
			s.log.Debugw("No subscription records for user", "userID", userID)
			return domain.EntitlementStatus{IsActive: false}, nil
		}
		return domain.EntitlementStatus{}, domain.NewStorageError("get latest record", userID, err)
	}

	now := s.now()

	// Пересчет на лету, без записи обратно: запись обновит reconcile или зачистка
	derived := entitlement.ComputeDerived(record, now)
	derived.Apply(&record)

	status := domain.EntitlementStatus{
		IsActive:     derived.IsActive,
		Subscription: &record,
	}

	if derived.IsActive {
		status.DaysUntilExpiry = entitlement.DaysUntilExpiry(record, now)
	}

	s.log.Debugw("Entitlement status computed", "userID", userID, "isActive", status.IsActive)
	return status, nil
}

// Refresh сбрасывает кеш и перечитывает статус из хранилища
func (s *statusService) Refresh(ctx context.Context, userID string) (domain.EntitlementStatus, error) {
	if userID == "" {
		return domain.EntitlementStatus{}, domain.ErrInvalidInput
	}

	if s.invalidator != nil {
		if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
			s.log.Warnw("Failed to invalidate user cache on refresh", "error", err, "userID", userID)
		}
	}

	return s.GetStatus(ctx, userID)
}
