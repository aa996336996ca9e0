package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestComputeDerived_ActiveTrial(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.SubscriptionRecord{
		PurchaseDate: now.Add(-48 * time.Hour),
		TrialStart:   timePtr(now.Add(-48 * time.Hour)),
		TrialEnd:     timePtr(now.Add(5 * 24 * time.Hour)),
	}

	d := ComputeDerived(record, now)

	assert.True(t, d.IsActive)
	assert.True(t, d.IsPremium)
	assert.False(t, d.IsExpired)
	assert.False(t, d.TrialCanceled)
}

func TestComputeDerived_TrialEndBoundaryIsInactive(t *testing.T) {
	trialEnd := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.SubscriptionRecord{
		PurchaseDate: trialEnd.Add(-7 * 24 * time.Hour),
		TrialStart:   timePtr(trialEnd.Add(-7 * 24 * time.Hour)),
		TrialEnd:     timePtr(trialEnd),
	}

	// Ровно на границе доступ уже закрыт
	d := ComputeDerived(record, trialEnd)

	assert.False(t, d.IsActive)
	assert.False(t, d.IsPremium)
}

func TestComputeDerived_TrialCanceled(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.SubscriptionRecord{
		PurchaseDate: now.Add(-48 * time.Hour),
		TrialStart:   timePtr(now.Add(-48 * time.Hour)),
		TrialEnd:     timePtr(now.Add(5 * 24 * time.Hour)),
		CancelDate:   timePtr(now.Add(-time.Hour)),
	}

	d := ComputeDerived(record, now)

	assert.True(t, d.TrialCanceled)
	assert.False(t, d.IsActive)
}

func TestComputeDerived_PaidActive(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.SubscriptionRecord{
		PurchaseDate: now.Add(-24 * time.Hour),
		RenewalDate:  timePtr(now.Add(29 * 24 * time.Hour)),
	}

	d := ComputeDerived(record, now)

	assert.True(t, d.IsActive)
	assert.False(t, d.IsExpired)
}

func TestComputeDerived_RenewalBoundaryIsExpired(t *testing.T) {
	renewal := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.SubscriptionRecord{
		PurchaseDate: renewal.Add(-30 * 24 * time.Hour),
		RenewalDate:  timePtr(renewal),
	}

	d := ComputeDerived(record, renewal)

	assert.False(t, d.IsActive)
	assert.True(t, d.IsExpired)
}

func TestComputeDerived_ConvertedAfterTrial(t *testing.T) {
	trialEnd := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	now := trialEnd.Add(24 * time.Hour)
	record := domain.SubscriptionRecord{
		TrialStart:   timePtr(trialEnd.Add(-7 * 24 * time.Hour)),
		TrialEnd:     timePtr(trialEnd),
		PurchaseDate: trialEnd, // оплата в момент окончания триала
		RenewalDate:  timePtr(trialEnd.Add(30 * 24 * time.Hour)),
	}

	d := ComputeDerived(record, now)

	assert.True(t, d.ConvertedAfterTrial)
	assert.True(t, d.IsActive)
}

func TestComputeDerived_ExpiredAtOverridesActivity(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.SubscriptionRecord{
		PurchaseDate: now.Add(-24 * time.Hour),
		RenewalDate:  timePtr(now.Add(10 * 24 * time.Hour)),
		ExpiredAt:    timePtr(now.Add(-time.Hour)),
	}

	d := ComputeDerived(record, now)

	assert.False(t, d.IsActive)
	assert.True(t, d.IsExpired)
}

func TestApply_TransfersDerivedFields(t *testing.T) {
	record := domain.SubscriptionRecord{}
	d := DerivedFields{
		IsActive:            true,
		IsPremium:           true,
		ConvertedAfterTrial: true,
	}

	d.Apply(&record)

	assert.True(t, record.IsActive)
	assert.True(t, record.IsPremium)
	assert.True(t, record.ConvertedAfterTrial)
	assert.False(t, record.IsExpired)
}

func TestExpiryDate_PrefersTrialEndWhileTrialActive(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	trialEnd := now.Add(3 * 24 * time.Hour)
	record := domain.SubscriptionRecord{
		PurchaseDate: now.Add(-24 * time.Hour),
		TrialStart:   timePtr(now.Add(-24 * time.Hour)),
		TrialEnd:     timePtr(trialEnd),
		RenewalDate:  timePtr(now.Add(30 * 24 * time.Hour)),
	}

	expiry := ExpiryDate(record, now)

	require.NotNil(t, expiry)
	assert.Equal(t, trialEnd, *expiry)
}

func TestDaysUntilExpiry_RoundsUp(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.SubscriptionRecord{
		PurchaseDate: now.Add(-24 * time.Hour),
		RenewalDate:  timePtr(now.Add(36 * time.Hour)),
	}

	days := DaysUntilExpiry(record, now)

	require.NotNil(t, days)
	assert.Equal(t, 2, *days)
}

func TestDaysUntilExpiry_NilWithoutExpiry(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.SubscriptionRecord{
		PurchaseDate: now.Add(-24 * time.Hour),
	}

	assert.Nil(t, DaysUntilExpiry(record, now))
}
