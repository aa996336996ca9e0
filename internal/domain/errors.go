package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")

	// ErrInvalidOperation неверная операция
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrMissingProductID в событии покупки отсутствует product id
	ErrMissingProductID = errors.New("missing product id")

	// ErrIncompleteReceipt событие без transaction id и без чека (pending-транзакция)
	ErrIncompleteReceipt = errors.New("incomplete receipt")

	// ErrUnknownPurchaseSource неизвестный источник покупки
	ErrUnknownPurchaseSource = errors.New("unknown purchase source")

	// ErrStorageUnavailable хранилище недоступно, вызывающая сторона повторяет с backoff
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConcurrentModification потерянное обновление при проверке инварианта одной активной записи
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// NormalizationError представляет ошибку нормализации события покупки
type NormalizationError struct {
	Code        string
	Message     string
	ProductID   string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *NormalizationError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("normalization error [%s]: %s: %v (product_id: %s)", e.Code, e.Message, e.OriginalErr, e.ProductID)
	}
	return fmt.Sprintf("normalization error [%s]: %s (product_id: %s)", e.Code, e.Message, e.ProductID)
}

// Unwrap возвращает оригинальную ошибку
func (e *NormalizationError) Unwrap() error {
	return e.OriginalErr
}

// NewNormalizationError создает новую ошибку нормализации
func NewNormalizationError(code, message, productID string, err error) *NormalizationError {
	return &NormalizationError{
		Code:        code,
		Message:     message,
		ProductID:   productID,
		OriginalErr: err,
	}
}

// StorageError представляет транзиентную ошибку хранилища
type StorageError struct {
	Op          string
	UserID      string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *StorageError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("storage error during %s: %v (user_id: %s)", e.Op, e.OriginalErr, e.UserID)
	}
	return fmt.Sprintf("storage error during %s (user_id: %s)", e.Op, e.UserID)
}

// Unwrap возвращает оригинальную ошибку
func (e *StorageError) Unwrap() error {
	return e.OriginalErr
}

// Is проверяет, является ли ошибка ошибкой хранилища
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// NewStorageError создает новую ошибку хранилища
func NewStorageError(op, userID string, err error) *StorageError {
	return &StorageError{
		Op:          op,
		UserID:      userID,
		OriginalErr: err,
	}
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
