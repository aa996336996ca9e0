package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// Топики событий энтайтлментов
const (
	TopicEntitlementChanged = "entitlement_changed"
	TopicEntitlementExpired = "entitlement_expired"
)

// Producer определяет интерфейс для публикации событий энтайтлментов.
// Ключ сообщения — UserID: все события одного пользователя попадают в одну
// партицию и сохраняют порядок.
type Producer interface {
	// PublishEntitlementEvent отправляет событие изменения подписки пользователя.
	PublishEntitlementEvent(ctx context.Context, topic string, record domain.SubscriptionRecord) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishEntitlementEvent преобразует запись в JSON и отправляет в указанный топик Kafka.
func (k *kafkaProducer) PublishEntitlementEvent(ctx context.Context, topic string, record domain.SubscriptionRecord) error {
	messageKey := []byte(record.UserID)

	messageValue, err := json.Marshal(record)
	if err != nil {
		k.log.Errorw("Failed to marshal subscription record for Kafka", "error", err, "userID", record.UserID, "topic", topic)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   messageKey,
		Value: messageValue,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err = k.writer.WriteMessages(writeCtx, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "userID", record.UserID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "userID", record.UserID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Published entitlement event to Kafka", "topic", topic, "userID", record.UserID)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	err := k.writer.Close()
	if err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}

// NoOpProducer заглушка продюсера: используется, когда Kafka не сконфигурирована
type NoOpProducer struct{}

// PublishEntitlementEvent ничего не делает
func (NoOpProducer) PublishEntitlementEvent(ctx context.Context, topic string, record domain.SubscriptionRecord) error {
	return nil
}

// Close ничего не делает
func (NoOpProducer) Close() error { return nil }
