package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
)

// CachedSubscriptionRepository реализует SubscriptionRepository с кешированием.
// Каждая успешная запись инвалидирует кеш пользователя.
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает новый репозиторий с кешированием
func NewCachedSubscriptionRepository(
	repo SubscriptionRepository,
	cache *RedisCacheRepository,
	log *logger.Logger,
) SubscriptionRepository {
	return &CachedSubscriptionRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetByID возвращает запись по ID (без кеша: читается только по user id)
func (r *CachedSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.SubscriptionRecord, error) {
	return r.repo.GetByID(ctx, id)
}

// GetByUserID возвращает записи пользователя (сначала из кеша, потом из БД)
func (r *CachedSubscriptionRepository) GetByUserID(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error) {
	cached, err := r.cache.GetCachedUserRecords(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting user records from cache", "error", err, "userID", userID)
		// Продолжаем выполнение при ошибке кеша
	}

	if cached != nil {
		r.log.Debugw("User records found in cache", "userID", userID, "count", len(cached))
		return cached, nil
	}

	records, err := r.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(records) > 0 {
		if err := r.cache.CacheUserRecords(ctx, userID, records); err != nil {
			r.log.Warnw("Failed to cache user records", "error", err, "userID", userID)
		}
	}

	return records, nil
}

// GetLatestByUserID возвращает самую свежую запись пользователя (сначала из кеша)
func (r *CachedSubscriptionRepository) GetLatestByUserID(ctx context.Context, userID string) (domain.SubscriptionRecord, error) {
	cached, err := r.cache.GetCachedLatestRecord(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting latest record from cache", "error", err, "userID", userID)
	}

	if cached != nil {
		r.log.Debugw("Latest record found in cache", "userID", userID)
		return *cached, nil
	}

	record, err := r.repo.GetLatestByUserID(ctx, userID)
	if err != nil {
		return domain.SubscriptionRecord{}, err
	}

	if err := r.cache.CacheLatestRecord(ctx, record); err != nil {
		r.log.Warnw("Failed to cache latest record", "error", err, "userID", userID)
	}

	return record, nil
}

// Save сохраняет запись в БД и инвалидирует кеш пользователя
func (r *CachedSubscriptionRepository) Save(ctx context.Context, record domain.SubscriptionRecord) (domain.SubscriptionRecord, error) {
	saved, err := r.repo.Save(ctx, record)
	if err != nil {
		return domain.SubscriptionRecord{}, err
	}

	if err := r.cache.InvalidateUser(ctx, saved.UserID); err != nil {
		r.log.Warnw("Failed to invalidate user cache after save", "error", err, "userID", saved.UserID)
		// Продолжаем выполнение, несмотря на ошибку кеширования
	}

	return saved, nil
}

// DeleteByUserID удаляет записи пользователя и инвалидирует кеш
func (r *CachedSubscriptionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	deleted, err := r.repo.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}

	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate user cache after delete", "error", err, "userID", userID)
	}

	return deleted, nil
}

// SweepExpired помечает истекшие записи и инвалидирует кеш затронутых пользователей
func (r *CachedSubscriptionRepository) SweepExpired(ctx context.Context, now time.Time) ([]domain.SubscriptionRecord, error) {
	swept, err := r.repo.SweepExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(swept))
	for _, record := range swept {
		if _, ok := seen[record.UserID]; ok {
			continue
		}
		seen[record.UserID] = struct{}{}

		if err := r.cache.InvalidateUser(ctx, record.UserID); err != nil {
			r.log.Warnw("Failed to invalidate user cache after sweep", "error", err, "userID", record.UserID)
		}
	}

	return swept, nil
}
