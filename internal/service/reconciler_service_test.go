package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/receipt"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

// capturingProducer запоминает опубликованные события
type capturingProducer struct {
	topics  []string
	records []domain.SubscriptionRecord
}

func (p *capturingProducer) PublishEntitlementEvent(ctx context.Context, topic string, record domain.SubscriptionRecord) error {
	p.topics = append(p.topics, topic)
	p.records = append(p.records, record)
	return nil
}

func (p *capturingProducer) Close() error { return nil }

// conflictingRepo подкладывает конфликт версий в первые failures вызовов Save
type conflictingRepo struct {
	repository.SubscriptionRepository
	failures int
	calls    int
}

func (r *conflictingRepo) Save(ctx context.Context, record domain.SubscriptionRecord) (domain.SubscriptionRecord, error) {
	r.calls++
	if r.calls <= r.failures {
		return domain.SubscriptionRecord{}, domain.ErrConcurrentModification
	}
	return r.SubscriptionRepository.Save(ctx, record)
}

func newTestReconciler(t *testing.T, repo repository.SubscriptionRepository, now time.Time) (ReconcilerService, *capturingProducer) {
	t.Helper()

	log := logger.New(logger.ERROR)
	producer := &capturingProducer{}
	svc := NewReconcilerService(repo, receipt.NewNormalizer(log), producer, metrics.NoOpMetrics{}, log).(*reconcilerService)
	svc.now = func() time.Time { return now }
	return svc, producer
}

func TestReconcile_CreatesRecordAndPublishesEvent(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, producer := newTestReconciler(t, repo, now)

	fact := domain.ReceiptFact{
		ProductID:     "premium_monthly",
		TransactionID: "txn-1",
		Source:        domain.PurchaseSourceIOS,
		PurchaseDate:  now,
		RenewalDate:   timePtr(now.Add(30 * 24 * time.Hour)),
	}

	record, err := svc.Reconcile(context.Background(), "user-1", fact)

	require.NoError(t, err)
	assert.True(t, record.IsActive)
	assert.Equal(t, "user-1", record.UserID)

	require.Len(t, producer.topics, 1)
	assert.Equal(t, kafka.TopicEntitlementChanged, producer.topics[0])
}

func TestReconcile_DuplicateFactIsIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, _ := newTestReconciler(t, repo, now)

	fact := domain.ReceiptFact{
		ProductID:     "premium_monthly",
		TransactionID: "txn-1",
		Source:        domain.PurchaseSourceIOS,
		PurchaseDate:  now,
		RenewalDate:   timePtr(now.Add(30 * 24 * time.Hour)),
	}

	first, err := svc.Reconcile(context.Background(), "user-1", fact)
	require.NoError(t, err)

	second, err := svc.Reconcile(context.Background(), "user-1", fact)
	require.NoError(t, err)

	// Повтор того же факта обновляет ту же запись, а не создает новую
	assert.Equal(t, first.ID, second.ID)

	records, err := repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestProcessEvent_TrialConversionKeepsSingleRecord(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, _ := newTestReconciler(t, repo, now)

	trialEnd := now.Add(7 * 24 * time.Hour)

	// Старт триала
	_, err := svc.ProcessEvent(context.Background(), "user-1", domain.PurchaseSourceIOS, domain.RawPurchaseEvent{
		ProductID:             "premium_yearly",
		TransactionID:         "txn-trial",
		OriginalTransactionID: "orig-1",
		PurchaseDate:          timePtr(now),
		ExpirationDate:        timePtr(trialEnd),
		IsTrial:               true,
	})
	require.NoError(t, err)

	// Конверсия: новый transaction id, тот же original transaction id
	record, err := svc.ProcessEvent(context.Background(), "user-1", domain.PurchaseSourceIOS, domain.RawPurchaseEvent{
		ProductID:             "premium_yearly",
		TransactionID:         "txn-paid",
		OriginalTransactionID: "orig-1",
		PurchaseDate:          timePtr(trialEnd),
		ExpirationDate:        timePtr(trialEnd.Add(365 * 24 * time.Hour)),
	})
	require.NoError(t, err)

	assert.True(t, record.ConvertedAfterTrial)
	assert.True(t, record.IsActive)

	records, err := repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReconcile_NewPurchaseSupersedesOld(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, _ := newTestReconciler(t, repo, now)

	first := domain.ReceiptFact{
		ProductID:     "premium_monthly",
		TransactionID: "txn-old",
		Source:        domain.PurchaseSourceIOS,
		PurchaseDate:  now.Add(-40 * 24 * time.Hour),
		RenewalDate:   timePtr(now.Add(-10 * 24 * time.Hour)),
	}
	_, err := svc.Reconcile(context.Background(), "user-1", first)
	require.NoError(t, err)

	// Переподписка после истечения: другой transaction id
	second := domain.ReceiptFact{
		ProductID:     "premium_monthly",
		TransactionID: "txn-new",
		Source:        domain.PurchaseSourceIOS,
		PurchaseDate:  now,
		RenewalDate:   timePtr(now.Add(30 * 24 * time.Hour)),
	}
	_, err = svc.Reconcile(context.Background(), "user-1", second)
	require.NoError(t, err)

	records, err := repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	active := 0
	for _, r := range records {
		if r.IsActive {
			active++
			assert.Equal(t, "txn-new", r.TransactionID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestReconcile_ConcurrentCallsKeepSingleActive(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, _ := newTestReconciler(t, repo, now)

	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fact := domain.ReceiptFact{
				ProductID:     "premium_monthly",
				TransactionID: fmt.Sprintf("txn-%d", i),
				Source:        domain.PurchaseSourceIOS,
				PurchaseDate:  now,
				RenewalDate:   timePtr(now.Add(30 * 24 * time.Hour)),
			}
			_, err := svc.Reconcile(context.Background(), "user-1", fact)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	records, err := repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, records, workers)

	active := 0
	for _, r := range records {
		if r.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestReconcile_ClearsSweepMarkOnFreshFact(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, _ := newTestReconciler(t, repo, now)

	fact := domain.ReceiptFact{
		ProductID:     "premium_monthly",
		TransactionID: "txn-1",
		Source:        domain.PurchaseSourceIOS,
		PurchaseDate:  now.Add(-40 * 24 * time.Hour),
		RenewalDate:   timePtr(now.Add(-10 * 24 * time.Hour)),
	}
	_, err := svc.Reconcile(context.Background(), "user-1", fact)
	require.NoError(t, err)

	_, err = repo.SweepExpired(context.Background(), now)
	require.NoError(t, err)

	// Продление той же подписки после зачистки
	renewed := fact
	renewed.PurchaseDate = now
	renewed.RenewalDate = timePtr(now.Add(30 * 24 * time.Hour))

	record, err := svc.Reconcile(context.Background(), "user-1", renewed)
	require.NoError(t, err)

	assert.Nil(t, record.ExpiredAt)
	assert.True(t, record.IsActive)
	assert.False(t, record.IsExpired)
}

func TestProcessEvent_IncompleteEventReturnsCurrentState(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, producer := newTestReconciler(t, repo, now)

	_, err := svc.ProcessEvent(context.Background(), "user-1", domain.PurchaseSourceIOS, domain.RawPurchaseEvent{
		ProductID:      "premium_monthly",
		TransactionID:  "txn-1",
		PurchaseDate:   timePtr(now),
		ExpirationDate: timePtr(now.Add(30 * 24 * time.Hour)),
	})
	require.NoError(t, err)

	published := len(producer.topics)

	// Pending-транзакция: нет transaction id и чека
	record, err := svc.ProcessEvent(context.Background(), "user-1", domain.PurchaseSourceIOS, domain.RawPurchaseEvent{
		ProductID: "premium_monthly",
	})

	// No-op различим по ошибке, текущее состояние прилагается
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIncompleteReceipt))
	assert.Equal(t, "txn-1", record.TransactionID)
	assert.Len(t, producer.topics, published, "incomplete event must not publish anything")
}

func TestProcessEvent_IncompleteEventWithoutRecords(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, _ := newTestReconciler(t, repo, now)

	record, err := svc.ProcessEvent(context.Background(), "user-1", domain.PurchaseSourceIOS, domain.RawPurchaseEvent{
		ProductID: "premium_monthly",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIncompleteReceipt))
	assert.Equal(t, domain.SubscriptionRecord{}, record)
}

func TestProcessEvent_RejectsMissingProductID(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, _ := newTestReconciler(t, repo, now)

	_, err := svc.ProcessEvent(context.Background(), "user-1", domain.PurchaseSourceIOS, domain.RawPurchaseEvent{
		TransactionID: "txn-1",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingProductID))
}

func TestReconcile_RetriesOnConcurrentModification(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	base := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	repo := &conflictingRepo{SubscriptionRepository: base, failures: 2}
	svc, _ := newTestReconciler(t, repo, now)

	fact := domain.ReceiptFact{
		ProductID:     "premium_monthly",
		TransactionID: "txn-1",
		Source:        domain.PurchaseSourceIOS,
		PurchaseDate:  now,
		RenewalDate:   timePtr(now.Add(30 * 24 * time.Hour)),
	}

	record, err := svc.Reconcile(context.Background(), "user-1", fact)

	require.NoError(t, err)
	assert.True(t, record.IsActive)
	assert.Equal(t, 3, repo.calls)
}

func TestReconcile_GivesUpAfterRetries(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	base := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	repo := &conflictingRepo{SubscriptionRepository: base, failures: 10}
	svc, _ := newTestReconciler(t, repo, now)

	fact := domain.ReceiptFact{
		ProductID:     "premium_monthly",
		TransactionID: "txn-1",
		Source:        domain.PurchaseSourceIOS,
		PurchaseDate:  now,
		RenewalDate:   timePtr(now.Add(30 * 24 * time.Hour)),
	}

	_, err := svc.Reconcile(context.Background(), "user-1", fact)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
	assert.Equal(t, maxReconcileAttempts, repo.calls)
}

func TestPurgeUser_RemovesAllRecords(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := repository.NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
	svc, _ := newTestReconciler(t, repo, now)

	_, err := svc.Reconcile(context.Background(), "user-1", domain.ReceiptFact{
		ProductID:     "premium_monthly",
		TransactionID: "txn-1",
		Source:        domain.PurchaseSourceIOS,
		PurchaseDate:  now,
		RenewalDate:   timePtr(now.Add(30 * 24 * time.Hour)),
	})
	require.NoError(t, err)

	deleted, err := svc.PurgeUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	records, err := repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}
