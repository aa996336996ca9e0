package domain

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseSource источник покупки
type PurchaseSource string

const (
	PurchaseSourceIOS     PurchaseSource = "ios"
	PurchaseSourceAndroid PurchaseSource = "android"
	PurchaseSourceDemo    PurchaseSource = "demo"
)

// IsValid проверяет, что источник покупки известен системе
func (s PurchaseSource) IsValid() bool {
	switch s {
	case PurchaseSourceIOS, PurchaseSourceAndroid, PurchaseSourceDemo:
		return true
	default:
		return false
	}
}

// SubscriptionRecord представляет собой запись о подписке пользователя.
// Для одного пользователя может существовать несколько исторических записей,
// но не более одной с IsActive = true.
type SubscriptionRecord struct {
	ID                    uuid.UUID      `json:"id"`
	UserID                string         `json:"user_id"`
	ProductID             string         `json:"product_id"`
	PurchaseSource        PurchaseSource `json:"purchase_source"`
	TransactionID         string         `json:"transaction_id,omitempty"`
	OriginalTransactionID string         `json:"original_transaction_id,omitempty"`
	TrialStart            *time.Time     `json:"trial_start,omitempty"`
	TrialEnd              *time.Time     `json:"trial_end,omitempty"`
	PurchaseDate          time.Time      `json:"purchase_date"`
	RenewalDate           *time.Time     `json:"renewal_date,omitempty"`
	CancelDate            *time.Time     `json:"cancel_date,omitempty"`
	ExpiredAt             *time.Time     `json:"expired_at,omitempty"`

	// Производные поля: всегда вычисляются заново, никогда не принимаются от клиента
	IsActive            bool `json:"is_active"`
	IsPremium           bool `json:"is_premium"`
	IsExpired           bool `json:"is_expired"`
	TrialCanceled       bool `json:"trial_canceled"`
	ConvertedAfterTrial bool `json:"converted_after_trial"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`

	// Version токен оптимистической блокировки; 0 — запись еще не сохранена
	Version int64 `json:"-"`
}

// Matches проверяет, относится ли запись к той же логической покупке, что и факт.
// Совпадение по transaction id (или original transaction id), при их отсутствии — по product id.
func (r *SubscriptionRecord) Matches(fact ReceiptFact) bool {
	if fact.TransactionID != "" && r.TransactionID == fact.TransactionID {
		return true
	}
	if fact.OriginalTransactionID != "" && r.OriginalTransactionID == fact.OriginalTransactionID {
		return true
	}
	if fact.TransactionID == "" && fact.OriginalTransactionID == "" {
		return r.ProductID == fact.ProductID
	}
	// Новый transaction id для того же продукта — это новая покупка (например,
	// переподписка после истечения срока), старая запись будет деактивирована
	return false
}

// EntitlementStatus представляет статус подписки для внешнего потребителя (UI)
type EntitlementStatus struct {
	IsActive        bool                `json:"is_active"`
	Subscription    *SubscriptionRecord `json:"subscription,omitempty"`
	DaysUntilExpiry *int                `json:"days_until_expiry,omitempty"`
}
