package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
)

// InMemorySubscriptionRepository реализация репозитория подписок в памяти
type InMemorySubscriptionRepository struct {
	records map[uuid.UUID]domain.SubscriptionRecord
	mutex   sync.RWMutex
	log     *logger.Logger
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		records: make(map[uuid.UUID]domain.SubscriptionRecord),
		log:     log,
	}
}

// GetByID возвращает запись по ID
func (r *InMemorySubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.SubscriptionRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return domain.SubscriptionRecord{}, ErrNotFound
	}

	return record, nil
}

// GetByUserID возвращает все записи пользователя, новые в начале
func (r *InMemorySubscriptionRepository) GetByUserID(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.userRecordsLocked(userID), nil
}

// userRecordsLocked собирает записи пользователя; вызывается под блокировкой
func (r *InMemorySubscriptionRepository) userRecordsLocked(userID string) []domain.SubscriptionRecord {
	var records []domain.SubscriptionRecord
	for _, record := range r.records {
		if record.UserID == userID {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records
}

// GetLatestByUserID возвращает самую свежую запись пользователя
func (r *InMemorySubscriptionRepository) GetLatestByUserID(ctx context.Context, userID string) (domain.SubscriptionRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	records := r.userRecordsLocked(userID)
	if len(records) == 0 {
		return domain.SubscriptionRecord{}, ErrNotFound
	}

	return records[0], nil
}

// Save атомарно сохраняет запись с проверкой версии и снимает флаг активности
// с прочих записей пользователя, если сохраняемая запись активна
func (r *InMemorySubscriptionRepository) Save(ctx context.Context, record domain.SubscriptionRecord) (domain.SubscriptionRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()

	if record.Version == 0 {
		// Вставка: гонка двух одинаковых фактов обнаруживается по transaction id
		for _, existing := range r.records {
			if existing.UserID != record.UserID {
				continue
			}
			if record.TransactionID != "" && existing.TransactionID == record.TransactionID {
				return domain.SubscriptionRecord{}, domain.ErrConcurrentModification
			}
			if record.TransactionID == "" && existing.TransactionID == "" && existing.ProductID == record.ProductID {
				return domain.SubscriptionRecord{}, domain.ErrConcurrentModification
			}
		}

		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		record.CreatedAt = now
		record.UpdatedAt = now
		record.Version = 1
	} else {
		existing, exists := r.records[record.ID]
		if !exists {
			return domain.SubscriptionRecord{}, ErrNotFound
		}
		if existing.Version != record.Version {
			return domain.SubscriptionRecord{}, domain.ErrConcurrentModification
		}

		record.CreatedAt = existing.CreatedAt
		record.UpdatedAt = now
		record.Version++
	}

	r.records[record.ID] = record

	// Инвариант одной активной записи на пользователя
	if record.IsActive {
		for id, other := range r.records {
			if id == record.ID || other.UserID != record.UserID {
				continue
			}
			if other.IsActive || other.IsPremium {
				other.IsActive = false
				other.IsPremium = false
				other.UpdatedAt = now
				other.Version++
				r.records[id] = other
			}
		}
	}

	return record, nil
}

// DeleteByUserID удаляет все записи пользователя
func (r *InMemorySubscriptionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var deleted int64
	for id, record := range r.records {
		if record.UserID == userID {
			delete(r.records, id)
			deleted++
		}
	}

	return deleted, nil
}

// SweepExpired помечает истекшими активные записи, чей срок прошел
func (r *InMemorySubscriptionRepository) SweepExpired(ctx context.Context, now time.Time) ([]domain.SubscriptionRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var swept []domain.SubscriptionRecord
	for id, record := range r.records {
		if !record.IsActive {
			continue
		}

		renewalPassed := record.RenewalDate != nil && !now.Before(*record.RenewalDate)
		trialPassed := record.RenewalDate == nil && record.TrialEnd != nil && !now.Before(*record.TrialEnd)
		if !renewalPassed && !trialPassed {
			continue
		}

		expiredAt := now
		record.IsActive = false
		record.IsPremium = false
		record.IsExpired = true
		record.ExpiredAt = &expiredAt
		record.UpdatedAt = now
		record.Version++

		r.records[id] = record
		swept = append(swept, record)
	}

	return swept, nil
}
