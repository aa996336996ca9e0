package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

const (
	// Префиксы ключей для различных типов данных
	latestRecordKeyPrefix = "entitlement_latest:"
	userRecordsKeyPrefix  = "entitlement_records:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование записей о подписках через Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheLatestRecord кеширует самую свежую запись пользователя
func (r *RedisCacheRepository) CacheLatestRecord(ctx context.Context, record domain.SubscriptionRecord) error {
	key := latestRecordKeyPrefix + record.UserID

	data, err := json.Marshal(record)
	if err != nil {
		r.log.Errorw("Failed to marshal record for caching", "error", err, "userID", record.UserID)
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache record in Redis", "error", err, "userID", record.UserID)
		return fmt.Errorf("failed to cache record: %w", err)
	}

	r.log.Debugw("Latest record cached successfully", "userID", record.UserID)
	return nil
}

// GetCachedLatestRecord получает самую свежую запись пользователя из кеша
func (r *RedisCacheRepository) GetCachedLatestRecord(ctx context.Context, userID string) (*domain.SubscriptionRecord, error) {
	key := latestRecordKeyPrefix + userID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Ключ не найден в кеше
			r.log.Debugw("Latest record not found in cache", "userID", userID)
			return nil, nil
		}
		r.log.Errorw("Error getting latest record from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get latest record from cache: %w", err)
	}

	var record domain.SubscriptionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		r.log.Errorw("Failed to unmarshal cached record", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal cached record: %w", err)
	}

	r.log.Debugw("Latest record retrieved from cache", "userID", userID)
	return &record, nil
}

// CacheUserRecords кеширует список записей пользователя
func (r *RedisCacheRepository) CacheUserRecords(ctx context.Context, userID string, records []domain.SubscriptionRecord) error {
	key := userRecordsKeyPrefix + userID

	data, err := json.Marshal(records)
	if err != nil {
		r.log.Errorw("Failed to marshal user records for caching", "error", err, "userID", userID)
		return fmt.Errorf("failed to marshal user records: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache user records in Redis", "error", err, "userID", userID)
		return fmt.Errorf("failed to cache user records: %w", err)
	}

	r.log.Debugw("User records cached successfully", "userID", userID, "count", len(records))
	return nil
}

// GetCachedUserRecords получает список записей пользователя из кеша
func (r *RedisCacheRepository) GetCachedUserRecords(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error) {
	key := userRecordsKeyPrefix + userID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			r.log.Debugw("User records not found in cache", "userID", userID)
			return nil, nil
		}
		r.log.Errorw("Error getting user records from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user records from cache: %w", err)
	}

	var records []domain.SubscriptionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		r.log.Errorw("Failed to unmarshal cached user records", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal cached user records: %w", err)
	}

	r.log.Debugw("User records retrieved from cache", "userID", userID, "count", len(records))
	return records, nil
}

// InvalidateUser удаляет все кешированные данные пользователя.
// Вызывается после каждой успешной записи: кеш между инстансами не считается
// корректным без инвалидации.
func (r *RedisCacheRepository) InvalidateUser(ctx context.Context, userID string) error {
	keys := []string{latestRecordKeyPrefix + userID, userRecordsKeyPrefix + userID}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.Errorw("Failed to invalidate user cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate user cache: %w", err)
	}

	r.log.Debugw("User cache invalidated", "userID", userID)
	return nil
}
