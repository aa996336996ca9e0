package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/entitlement"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/receipt"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// Число попыток reconcile при конкурентной модификации
const maxReconcileAttempts = 3

// ReconcilerService приводит записи о подписках в соответствие фактам покупок
type ReconcilerService interface {
	// ProcessEvent нормализует сырое событие и применяет его к записям пользователя.
	// Неполное событие (pending-транзакция) ничего не меняет: возвращается
	// текущая запись (если есть) вместе с ошибкой ErrIncompleteReceipt.
	ProcessEvent(ctx context.Context, userID string, source domain.PurchaseSource, event domain.RawPurchaseEvent) (domain.SubscriptionRecord, error)

	// Reconcile применяет канонический факт покупки к записям пользователя.
	Reconcile(ctx context.Context, userID string, fact domain.ReceiptFact) (domain.SubscriptionRecord, error)

	// PurgeUser удаляет все записи пользователя, возвращает число удаленных.
	PurgeUser(ctx context.Context, userID string) (int64, error)
}

type reconcilerService struct {
	repo       repository.SubscriptionRepository
	normalizer *receipt.Normalizer
	producer   kafka.Producer
	metrics    metrics.EntitlementMetrics
	log        *logger.Logger
	now        func() time.Time
}

// NewReconcilerService создает новый сервис согласования подписок
func NewReconcilerService(
	repo repository.SubscriptionRepository,
	normalizer *receipt.Normalizer,
	producer kafka.Producer,
	m metrics.EntitlementMetrics,
	log *logger.Logger,
) ReconcilerService {
	return &reconcilerService{
		repo:       repo,
		normalizer: normalizer,
		producer:   producer,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// ProcessEvent нормализует событие и запускает reconcile.
// Ошибки нормализации не доходят до хранилища: неполное событие — это no-op,
// прочие ошибки нормализации возвращаются вызывающей стороне как есть.
func (s *reconcilerService) ProcessEvent(ctx context.Context, userID string, source domain.PurchaseSource, event domain.RawPurchaseEvent) (domain.SubscriptionRecord, error) {
	if userID == "" {
		s.metrics.IncReceiptRejected("missing_user_id")
		return domain.SubscriptionRecord{}, domain.ErrInvalidInput
	}

	fact, err := s.normalizer.Normalize(event, source)
	if err != nil {
		var normErr *domain.NormalizationError
		if errors.As(err, &normErr) {
			s.metrics.IncReceiptRejected(normErr.Code)

			if errors.Is(err, domain.ErrIncompleteReceipt) {
				// Pending-транзакция: состояние не меняется, но вызывающая
				// сторона должна отличать no-op от примененного факта,
				// поэтому ошибка нормализации возвращается вместе с текущей записью
				s.log.Debugw("Incomplete purchase event, treating as no-op", "userID", userID, "productID", normErr.ProductID)
				current, getErr := s.repo.GetLatestByUserID(ctx, userID)
				if getErr != nil {
					return domain.SubscriptionRecord{}, err
				}
				return current, err
			}
		}
		s.log.Warnw("Purchase event failed normalization", "error", err, "userID", userID)
		return domain.SubscriptionRecord{}, err
	}

	s.metrics.IncReceiptNormalized(string(fact.Source))
	return s.Reconcile(ctx, userID, fact)
}

// Reconcile применяет факт покупки: совпавшая запись обновляется на месте,
// несовпавшая создается заново с деактивацией прежних. Потерянные обновления
// повторяются заново с перечитыванием состояния.
func (s *reconcilerService) Reconcile(ctx context.Context, userID string, fact domain.ReceiptFact) (domain.SubscriptionRecord, error) {
	if userID == "" || fact.ProductID == "" {
		// Сюда такой факт попадать не должен: нормализатор обязан был его отклонить
		s.log.Errorw("Malformed fact reached reconciler", "userID", userID, "productID", fact.ProductID)
		return domain.SubscriptionRecord{}, domain.ErrInvalidInput
	}

	started := s.now()

	var lastErr error
	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		record, err := s.reconcileOnce(ctx, userID, fact)
		if err == nil {
			s.metrics.IncReconcile("ok")
			s.metrics.ObserveReconcileDuration(time.Since(started).Seconds())

			s.publishEvent(ctx, kafka.TopicEntitlementChanged, record)

			s.log.Infow("Subscription reconciled",
				"userID", userID,
				"productID", record.ProductID,
				"isActive", record.IsActive,
				"attempt", attempt,
			)
			return record, nil
		}

		if errors.Is(err, domain.ErrConcurrentModification) {
			s.log.Warnw("Reconcile lost a concurrent update, retrying", "userID", userID, "attempt", attempt)
			lastErr = err
			continue
		}

		s.metrics.IncReconcile("error")
		return domain.SubscriptionRecord{}, err
	}

	s.metrics.IncReconcile("conflict")
	s.log.Errorw("Reconcile gave up after retries", "userID", userID, "attempts", maxReconcileAttempts)
	return domain.SubscriptionRecord{}, domain.NewStorageError("reconcile", userID, lastErr)
}

// reconcileOnce выполняет одну попытку: читает состояние, выбирает запись,
// пересчитывает производные поля и сохраняет через compare-and-swap.
func (s *reconcilerService) reconcileOnce(ctx context.Context, userID string, fact domain.ReceiptFact) (domain.SubscriptionRecord, error) {
	existing, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return domain.SubscriptionRecord{}, domain.NewStorageError("get user records", userID, err)
	}

	record := s.selectRecord(userID, existing, fact)
	s.applyFact(&record, fact)

	derived := entitlement.ComputeDerived(record, s.now())
	derived.Apply(&record)

	saved, err := s.repo.Save(ctx, record)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			return domain.SubscriptionRecord{}, err
		}
		return domain.SubscriptionRecord{}, domain.NewStorageError("save record", userID, err)
	}

	return saved, nil
}

// selectRecord находит запись той же логической покупки или создает новую
func (s *reconcilerService) selectRecord(userID string, existing []domain.SubscriptionRecord, fact domain.ReceiptFact) domain.SubscriptionRecord {
	for _, record := range existing {
		if record.Matches(fact) {
			s.log.Debugw("Fact matched existing record", "userID", userID, "recordID", record.ID)
			return record
		}
	}

	s.log.Debugw("Fact matched no record, creating new one", "userID", userID, "productID", fact.ProductID)
	return domain.SubscriptionRecord{
		UserID: userID,
	}
}

// applyFact переносит поля факта в запись. Свежий факт снимает отметку об
// истечении: периодическая зачистка не должна переживать новую покупку.
func (s *reconcilerService) applyFact(record *domain.SubscriptionRecord, fact domain.ReceiptFact) {
	record.ProductID = fact.ProductID
	record.PurchaseSource = fact.Source
	record.PurchaseDate = fact.PurchaseDate

	if fact.TransactionID != "" {
		record.TransactionID = fact.TransactionID
	}
	if fact.OriginalTransactionID != "" {
		record.OriginalTransactionID = fact.OriginalTransactionID
	}
	if fact.TrialStart != nil {
		record.TrialStart = fact.TrialStart
	}
	if fact.TrialEnd != nil {
		record.TrialEnd = fact.TrialEnd
	}
	if fact.RenewalDate != nil {
		record.RenewalDate = fact.RenewalDate
	}
	record.CancelDate = fact.CancelDate

	record.ExpiredAt = nil
}

// PurgeUser удаляет все записи пользователя из хранилища
func (s *reconcilerService) PurgeUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, domain.ErrInvalidInput
	}

	deleted, err := s.repo.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, domain.NewStorageError("delete user records", userID, err)
	}

	s.log.Infow("User subscription records purged", "userID", userID, "deleted", deleted)
	return deleted, nil
}

// publishEvent публикует событие изменения подписки; ошибка брокера не ломает
// основной поток, событие логируется и теряется
func (s *reconcilerService) publishEvent(ctx context.Context, topic string, record domain.SubscriptionRecord) {
	if err := s.producer.PublishEntitlementEvent(ctx, topic, record); err != nil {
		s.log.Warnw("Failed to publish entitlement event", "error", err, "topic", topic, "userID", record.UserID)
	}
}
