package app

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

// newEventsHandler строит обработчик событий заказов и платежей для
// consumer group. Сервис потребляет собственные топики как аудит-поток:
// каждое событие валидируется и логируется. Нечитаемое сообщение
// возвращает ошибку — consumer отправит его в DLQ после retry-бюджета.
func newEventsHandler(logger *log.Entry) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		switch message.Topic {
		case kafka.TopicPaymentEvents:
			event, err := kafka.ParsePaymentEvent(message)
			if err != nil {
				return err
			}
			if event.EventType == "" || event.PaymentID == "" {
				return fmt.Errorf("payment event without type or payment_id at offset %d", message.Offset)
			}
			logger.WithFields(log.Fields{
				"event_type":      event.EventType,
				"payment_id":      event.PaymentID,
				"order_id":        event.OrderID,
				"transaction_key": event.TransactionKey,
				"status":          event.Status,
			}).Info("payment event consumed")
			return nil
		default:
			// Топик заказов несёт и складские события; у обоих есть event_type
			// и order_id, поэтому разбор через OrderEvent покрывает оба вида.
			event, err := kafka.ParseOrderEvent(message)
			if err != nil {
				return err
			}
			if event.EventType == "" || event.OrderID == "" {
				return fmt.Errorf("order event without type or order_id at offset %d", message.Offset)
			}
			logger.WithFields(log.Fields{
				"event_type": event.EventType,
				"order_id":   event.OrderID,
				"status":     event.Status,
			}).Info("order event consumed")
			return nil
		}
	}
}

// startEventsConsumer запускает consumer group поверх топиков сервиса.
// Пустой group id отключает потребление: producer-only конфигурация
// остаётся валидной.
func startEventsConsumer(ctx context.Context, cfg Config, brokerList []string, dlqProducer *kafka.Producer, logger *log.Entry) *kafka.Consumer {
	if cfg.KafkaConsumerGroup == "" {
		return nil
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		brokerList,
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicOrderEvents, kafka.TopicPaymentEvents},
		newEventsHandler(logger.WithField("component", "events-consumer")),
		dlqProducer,
		cfg.KafkaConsumerMaxRetries,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, continuing without event consumption")
		return nil
	}

	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer")
		return nil
	}

	logger.WithField("group", cfg.KafkaConsumerGroup).Info("kafka events consumer started")
	return consumer
}

func stopEventsConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
		return
	}
	logger.Info("kafka events consumer stopped")
}
