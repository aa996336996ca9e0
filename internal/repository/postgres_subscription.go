package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
)

// Колонки таблицы subscriptions в порядке сканирования
const subscriptionColumns = `
	id, user_id, product_id, purchase_source,
	transaction_id, original_transaction_id,
	trial_start, trial_end, purchase_date,
	renewal_date, cancel_date, expired_at,
	is_active, is_premium, is_expired,
	trial_canceled, converted_after_trial,
	created_at, updated_at, last_login, version
`

// PostgresSubscriptionRepository реализация репозитория подписок через PostgreSQL
type PostgresSubscriptionRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый репозиторий подписок через PostgreSQL
func NewPostgresSubscriptionRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{
		db:  db,
		log: log,
	}
}

// scanRecord сканирует одну строку в SubscriptionRecord
func scanRecord(row pgx.Row) (domain.SubscriptionRecord, error) {
	var record domain.SubscriptionRecord
	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.ProductID,
		&record.PurchaseSource,
		&record.TransactionID,
		&record.OriginalTransactionID,
		&record.TrialStart,
		&record.TrialEnd,
		&record.PurchaseDate,
		&record.RenewalDate,
		&record.CancelDate,
		&record.ExpiredAt,
		&record.IsActive,
		&record.IsPremium,
		&record.IsExpired,
		&record.TrialCanceled,
		&record.ConvertedAfterTrial,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.LastLogin,
		&record.Version,
	)
	return record, err
}

// GetByID возвращает запись по ID из базы данных
func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.SubscriptionRecord, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	record, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SubscriptionRecord{}, ErrNotFound
		}
		return domain.SubscriptionRecord{}, fmt.Errorf("failed to get subscription record: %w", err)
	}

	return record, nil
}

// GetByUserID возвращает все записи пользователя, новые в начале
func (r *PostgresSubscriptionRepository) GetByUserID(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription records: %w", err)
	}
	defer rows.Close()

	var records []domain.SubscriptionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription records: %w", err)
	}

	return records, nil
}

// GetLatestByUserID возвращает самую свежую запись пользователя
func (r *PostgresSubscriptionRepository) GetLatestByUserID(ctx context.Context, userID string) (domain.SubscriptionRecord, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	record, err := scanRecord(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SubscriptionRecord{}, ErrNotFound
		}
		return domain.SubscriptionRecord{}, fmt.Errorf("failed to get latest subscription record: %w", err)
	}

	return record, nil
}

// Save атомарно сохраняет запись. Вставка и снятие активности с прочих записей
// пользователя выполняются в одной транзакции, чтобы при таймауте или гонке не
// осталось более одной активной записи.
func (r *PostgresSubscriptionRepository) Save(ctx context.Context, record domain.SubscriptionRecord) (domain.SubscriptionRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.SubscriptionRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	if record.Version == 0 {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}

		// Частичные уникальные индексы по (user_id, transaction_id) и
		// (user_id, product_id) превращают гонку вставки в конфликт
		query := `
			INSERT INTO subscriptions (
				id, user_id, product_id, purchase_source,
				transaction_id, original_transaction_id,
				trial_start, trial_end, purchase_date,
				renewal_date, cancel_date, expired_at,
				is_active, is_premium, is_expired,
				trial_canceled, converted_after_trial,
				created_at, updated_at, last_login, version
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16, $17, $18, $19, $20, 1
			)
			ON CONFLICT DO NOTHING
			RETURNING created_at, updated_at, version
		`

		err = tx.QueryRow(ctx, query,
			record.ID,
			record.UserID,
			record.ProductID,
			record.PurchaseSource,
			record.TransactionID,
			record.OriginalTransactionID,
			record.TrialStart,
			record.TrialEnd,
			record.PurchaseDate,
			record.RenewalDate,
			record.CancelDate,
			record.ExpiredAt,
			record.IsActive,
			record.IsPremium,
			record.IsExpired,
			record.TrialCanceled,
			record.ConvertedAfterTrial,
			now,
			now,
			record.LastLogin,
		).Scan(&record.CreatedAt, &record.UpdatedAt, &record.Version)

		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Параллельная вставка того же факта выиграла гонку
				return domain.SubscriptionRecord{}, domain.ErrConcurrentModification
			}
			return domain.SubscriptionRecord{}, fmt.Errorf("failed to insert subscription record: %w", err)
		}
	} else {
		query := `
			UPDATE subscriptions
			SET
				product_id = $1,
				purchase_source = $2,
				transaction_id = $3,
				original_transaction_id = $4,
				trial_start = $5,
				trial_end = $6,
				purchase_date = $7,
				renewal_date = $8,
				cancel_date = $9,
				expired_at = $10,
				is_active = $11,
				is_premium = $12,
				is_expired = $13,
				trial_canceled = $14,
				converted_after_trial = $15,
				updated_at = $16,
				version = version + 1
			WHERE id = $17 AND version = $18
			RETURNING created_at, updated_at, version
		`

		err = tx.QueryRow(ctx, query,
			record.ProductID,
			record.PurchaseSource,
			record.TransactionID,
			record.OriginalTransactionID,
			record.TrialStart,
			record.TrialEnd,
			record.PurchaseDate,
			record.RenewalDate,
			record.CancelDate,
			record.ExpiredAt,
			record.IsActive,
			record.IsPremium,
			record.IsExpired,
			record.TrialCanceled,
			record.ConvertedAfterTrial,
			now,
			record.ID,
			record.Version,
		).Scan(&record.CreatedAt, &record.UpdatedAt, &record.Version)

		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Версия не совпала: запись обновили параллельно
				return domain.SubscriptionRecord{}, domain.ErrConcurrentModification
			}
			return domain.SubscriptionRecord{}, fmt.Errorf("failed to update subscription record: %w", err)
		}
	}

	// Инвариант одной активной записи на пользователя
	if record.IsActive {
		deactivate := `
			UPDATE subscriptions
			SET is_active = false, is_premium = false, updated_at = $3, version = version + 1
			WHERE user_id = $1 AND id <> $2 AND (is_active OR is_premium)
		`
		if _, err := tx.Exec(ctx, deactivate, record.UserID, record.ID, now); err != nil {
			return domain.SubscriptionRecord{}, fmt.Errorf("failed to deactivate sibling records: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SubscriptionRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return record, nil
}

// DeleteByUserID удаляет все записи пользователя
func (r *PostgresSubscriptionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscription records: %w", err)
	}

	return result.RowsAffected(), nil
}

// SweepExpired помечает истекшими все активные записи, чей срок прошел.
// Один атомарный UPDATE: зачистка безопасна при параллельных reconcile.
func (r *PostgresSubscriptionRepository) SweepExpired(ctx context.Context, now time.Time) ([]domain.SubscriptionRecord, error) {
	query := `
		UPDATE subscriptions
		SET is_active = false, is_premium = false, is_expired = true,
			expired_at = $1, updated_at = $1, version = version + 1
		WHERE is_active = true
			AND (
				(renewal_date IS NOT NULL AND renewal_date <= $1)
				OR (renewal_date IS NULL AND trial_end IS NOT NULL AND trial_end <= $1)
			)
		RETURNING ` + subscriptionColumns

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired records: %w", err)
	}
	defer rows.Close()

	var swept []domain.SubscriptionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swept record: %w", err)
		}
		swept = append(swept, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating swept records: %w", err)
	}

	return swept, nil
}
