package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// EntitlementMetrics интерфейс для метрик обработки подписок
type EntitlementMetrics interface {
	IncReceiptNormalized(source string)
	IncReceiptRejected(reason string)
	IncReconcile(result string)
	ObserveReconcileDuration(seconds float64)
	AddSweptRecords(count int)
}

type entitlementMetrics struct {
	log                *logger.Logger
	receiptsNormalized *prometheus.CounterVec
	receiptsRejected   *prometheus.CounterVec
	reconciles         *prometheus.CounterVec
	reconcileDuration  prometheus.Histogram
	sweptRecords       prometheus.Counter
}

// NewEntitlementMetrics создает новые метрики обработки подписок
func NewEntitlementMetrics(registry *prometheus.Registry, log *logger.Logger) EntitlementMetrics {
	receiptsNormalized := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_normalized_total",
			Help: "The total number of successfully normalized purchase events",
		},
		[]string{"source"},
	)

	receiptsRejected := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_rejected_total",
			Help: "The total number of rejected purchase events by reason",
		},
		[]string{"reason"},
	)

	reconciles := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_reconciles_total",
			Help: "The total number of reconcile operations by result",
		},
		[]string{"result"},
	)

	reconcileDuration := promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subscription_reconcile_duration_seconds",
			Help:    "Reconcile operation duration distribution",
			Buckets: prometheus.DefBuckets,
		},
	)

	sweptRecords := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_swept_records_total",
			Help: "The total number of records expired by the periodic sweep",
		},
	)

	return &entitlementMetrics{
		log:                log,
		receiptsNormalized: receiptsNormalized,
		receiptsRejected:   receiptsRejected,
		reconciles:         reconciles,
		reconcileDuration:  reconcileDuration,
		sweptRecords:       sweptRecords,
	}
}

// IncReceiptNormalized увеличивает счетчик нормализованных событий
func (m *entitlementMetrics) IncReceiptNormalized(source string) {
	m.receiptsNormalized.WithLabelValues(source).Inc()
}

// IncReceiptRejected увеличивает счетчик отклоненных событий
func (m *entitlementMetrics) IncReceiptRejected(reason string) {
	m.receiptsRejected.WithLabelValues(reason).Inc()
}

// IncReconcile увеличивает счетчик операций reconcile
func (m *entitlementMetrics) IncReconcile(result string) {
	m.reconciles.WithLabelValues(result).Inc()
}

// ObserveReconcileDuration записывает длительность операции reconcile
func (m *entitlementMetrics) ObserveReconcileDuration(seconds float64) {
	m.reconcileDuration.Observe(seconds)
}

// AddSweptRecords увеличивает счетчик истекших записей
func (m *entitlementMetrics) AddSweptRecords(count int) {
	m.sweptRecords.Add(float64(count))
}

// NoOpMetrics заглушка метрик для тестов
type NoOpMetrics struct{}

func (NoOpMetrics) IncReceiptNormalized(source string)       {}
func (NoOpMetrics) IncReceiptRejected(reason string)         {}
func (NoOpMetrics) IncReconcile(result string)               {}
func (NoOpMetrics) ObserveReconcileDuration(seconds float64) {}
func (NoOpMetrics) AddSweptRecords(count int)                {}
