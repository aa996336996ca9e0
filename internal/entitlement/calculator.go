package entitlement

import (
	"math"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
)

// DerivedFields производные поля подписки, вычисленные на момент времени now
type DerivedFields struct {
	IsActive            bool
	IsPremium           bool
	IsExpired           bool
	TrialCanceled       bool
	ConvertedAfterTrial bool
}

// ComputeDerived вычисляет производные поля записи о подписке на момент now.
// Чистая функция без I/O. Граница периода эксклюзивна со стороны активности:
// now == trial_end или now == renewal_date означает "истекло".
func ComputeDerived(record domain.SubscriptionRecord, now time.Time) DerivedFields {
	var d DerivedFields

	// Отмена в пределах пробного периода
	d.TrialCanceled = record.CancelDate != nil &&
		record.TrialEnd != nil &&
		!record.CancelDate.After(*record.TrialEnd)

	// Конверсия после пробного периода: дата покупки не раньше конца триала
	d.ConvertedAfterTrial = record.TrialEnd != nil &&
		!record.PurchaseDate.Before(*record.TrialEnd)

	isTrialActive := record.TrialStart != nil &&
		record.TrialEnd != nil &&
		now.Before(*record.TrialEnd) &&
		!d.TrialCanceled

	isPaidActive := record.RenewalDate != nil &&
		now.Before(*record.RenewalDate) &&
		record.CancelDate == nil

	d.IsActive = isTrialActive || isPaidActive

	d.IsExpired = !d.IsActive &&
		record.RenewalDate != nil &&
		!now.Before(*record.RenewalDate)

	// Явная отметка об истечении (выставляется периодической зачисткой) имеет приоритет
	if record.ExpiredAt != nil && !now.Before(*record.ExpiredAt) {
		d.IsActive = false
		d.IsExpired = true
	}

	// IsPremium дублирует IsActive, отдельное поле оставлено под многоуровневые планы
	d.IsPremium = d.IsActive

	return d
}

// Apply переносит производные поля в запись
func (d DerivedFields) Apply(record *domain.SubscriptionRecord) {
	record.IsActive = d.IsActive
	record.IsPremium = d.IsPremium
	record.IsExpired = d.IsExpired
	record.TrialCanceled = d.TrialCanceled
	record.ConvertedAfterTrial = d.ConvertedAfterTrial
}

// ExpiryDate возвращает дату окончания доступа: конец триала, если триал активен,
// иначе дату продления. nil, если ни то ни другое не применимо.
func ExpiryDate(record domain.SubscriptionRecord, now time.Time) *time.Time {
	d := ComputeDerived(record, now)

	trialActive := record.TrialStart != nil &&
		record.TrialEnd != nil &&
		now.Before(*record.TrialEnd) &&
		!d.TrialCanceled

	if trialActive {
		return record.TrialEnd
	}
	if record.RenewalDate != nil {
		return record.RenewalDate
	}
	return nil
}

// DaysUntilExpiry возвращает число дней до окончания доступа, округленное вверх.
// nil, если у записи нет применимой даты окончания.
func DaysUntilExpiry(record domain.SubscriptionRecord, now time.Time) *int {
	expiry := ExpiryDate(record, now)
	if expiry == nil {
		return nil
	}

	days := int(math.Ceil(expiry.Sub(now).Hours() / 24))
	return &days
}
