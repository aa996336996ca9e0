package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/google/uuid"
)

// SubscriptionRepository определяет методы для работы с хранилищем записей о подписках.
// user_id не уникален: хранилище допускает несколько исторических записей на пользователя.
type SubscriptionRepository interface {
	// GetByID возвращает запись по ее ID.
	GetByID(ctx context.Context, id uuid.UUID) (domain.SubscriptionRecord, error)

	// GetByUserID возвращает все записи пользователя, новые в начале.
	GetByUserID(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error)

	// GetLatestByUserID возвращает самую свежую запись пользователя.
	GetLatestByUserID(ctx context.Context, userID string) (domain.SubscriptionRecord, error)

	// Save атомарно сохраняет запись. Version == 0 означает вставку, иначе —
	// обновление с проверкой версии (compare-and-swap). Если запись активна,
	// в той же транзакции снимается флаг активности со всех прочих записей
	// пользователя. Потерянное обновление или гонка вставки возвращают
	// domain.ErrConcurrentModification.
	Save(ctx context.Context, record domain.SubscriptionRecord) (domain.SubscriptionRecord, error)

	// DeleteByUserID удаляет все записи пользователя (вызывается внешним
	// коллаборатором удаления аккаунта). Возвращает число удаленных записей.
	DeleteByUserID(ctx context.Context, userID string) (int64, error)

	// SweepExpired помечает истекшими все активные записи, чей срок прошел,
	// и возвращает затронутые записи.
	SweepExpired(ctx context.Context, now time.Time) ([]domain.SubscriptionRecord, error)
}
