package receipt

import (
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// Normalizer приводит сырые события покупки к каноническому ReceiptFact.
// Demo-события проходят тот же путь, что и реальные покупки iOS/Android.
type Normalizer struct {
	log *logger.Logger
	now func() time.Time
}

// NewNormalizer создает новый нормализатор событий покупки
func NewNormalizer(log *logger.Logger) *Normalizer {
	return &Normalizer{
		log: log,
		now: time.Now,
	}
}

// Normalize превращает сырое событие в ReceiptFact.
// Событие без product id — ошибка. Событие без transaction id, без original
// transaction id и без чека классифицируется как неполное (pending-транзакция):
// вызывающая сторона трактует его как no-op, а не как ошибку пользователя.
func (n *Normalizer) Normalize(event domain.RawPurchaseEvent, source domain.PurchaseSource) (domain.ReceiptFact, error) {
	if event.ProductID == "" {
		n.log.Warnw("Purchase event rejected: missing product id", "source", source)
		return domain.ReceiptFact{}, domain.NewNormalizationError(
			"MISSING_PRODUCT_ID",
			"purchase event has no product id",
			"",
			domain.ErrMissingProductID,
		)
	}

	if !source.IsValid() {
		n.log.Warnw("Purchase event rejected: unknown source", "source", source, "productID", event.ProductID)
		return domain.ReceiptFact{}, domain.NewNormalizationError(
			"UNKNOWN_SOURCE",
			"purchase source is not recognized",
			event.ProductID,
			domain.ErrUnknownPurchaseSource,
		)
	}

	if event.TransactionID == "" && event.OriginalTransactionID == "" && event.Receipt == "" {
		n.log.Debugw("Purchase event incomplete, skipping", "productID", event.ProductID, "source", source)
		return domain.ReceiptFact{}, domain.NewNormalizationError(
			"INCOMPLETE",
			"purchase event has no transaction id and no receipt",
			event.ProductID,
			domain.ErrIncompleteReceipt,
		)
	}

	purchaseDate := n.now()
	if event.PurchaseDate != nil {
		purchaseDate = *event.PurchaseDate
	}

	fact := domain.ReceiptFact{
		ProductID:             event.ProductID,
		TransactionID:         event.TransactionID,
		OriginalTransactionID: event.OriginalTransactionID,
		Source:                source,
		PurchaseDate:          purchaseDate,
		CancelDate:            event.CancellationDate,
	}

	if event.ExpirationDate != nil {
		if event.IsTrial {
			// Триал: период действия [purchaseDate, expirationDate)
			trialStart := purchaseDate
			fact.TrialStart = &trialStart
			fact.TrialEnd = event.ExpirationDate
		} else {
			// Оплаченный период: дата продления
			fact.RenewalDate = event.ExpirationDate
		}
	}

	n.log.Debugw("Purchase event normalized",
		"productID", fact.ProductID,
		"transactionID", fact.TransactionID,
		"source", fact.Source,
		"trial", fact.TrialEnd != nil,
	)

	return fact, nil
}
