package domain

import "time"

// RawPurchaseEvent представляет сырое событие покупки от платформы.
// Поля опциональны: pending-транзакции приходят без чека и идентификаторов.
type RawPurchaseEvent struct {
	ProductID             string     `json:"product_id"`
	TransactionID         string     `json:"transaction_id,omitempty"`
	OriginalTransactionID string     `json:"original_transaction_id,omitempty"`
	Receipt               string     `json:"receipt,omitempty"`
	PurchaseDate          *time.Time `json:"purchase_date,omitempty"`
	ExpirationDate        *time.Time `json:"expiration_date,omitempty"`
	CancellationDate      *time.Time `json:"cancellation_date,omitempty"`
	IsTrial               bool       `json:"is_trial,omitempty"`
}

// ReceiptFact каноническое представление события покупки после нормализации
type ReceiptFact struct {
	ProductID             string         `json:"product_id"`
	TransactionID         string         `json:"transaction_id,omitempty"`
	OriginalTransactionID string         `json:"original_transaction_id,omitempty"`
	Source                PurchaseSource `json:"source"`
	PurchaseDate          time.Time      `json:"purchase_date"`
	TrialStart            *time.Time     `json:"trial_start,omitempty"`
	TrialEnd              *time.Time     `json:"trial_end,omitempty"`
	RenewalDate           *time.Time     `json:"renewal_date,omitempty"`
	CancelDate            *time.Time     `json:"cancel_date,omitempty"`
}

// ReceiptEventRequest запрос на обработку события покупки/восстановления
type ReceiptEventRequest struct {
	UserID string           `json:"user_id" binding:"required"`
	Source PurchaseSource   `json:"source" binding:"required"`
	Event  RawPurchaseEvent `json:"event" binding:"required"`
}

// RestoreEventsRequest запрос на восстановление покупок: платформа отдает
// пакет исторических транзакций, каждая проходит обычный путь нормализации
type RestoreEventsRequest struct {
	UserID string             `json:"user_id" binding:"required"`
	Source PurchaseSource     `json:"source" binding:"required"`
	Events []RawPurchaseEvent `json:"events" binding:"required"`
}
