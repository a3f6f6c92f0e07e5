package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"marketmesh/internal/config"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer публикует события промокодов и заказов в Kafka
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает синхронного продюсера
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka producer created")

	topics := cfg.Topics
	return &Producer{
		producer: producer,
		log:      log,
		topics:   &topics,
	}, nil
}

// Close закрывает продюсера
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// PublishPromoEvent публикует событие жизненного цикла промокода.
// Сообщения ключуются кодом, поэтому события одного кода попадают в одну партицию по порядку.
func (p *Producer) PublishPromoEvent(eventType models.EventType, promo *models.PromoCode) error {
	data := map[string]interface{}{
		"code": promo.Code,
	}
	if eventType != models.EventTypePromoDeactivated {
		data["discountPercent"] = promo.DiscountPercent
		data["usageCount"] = promo.UsageCount
		data["isActive"] = promo.IsActive
		data["expiresAt"] = promo.ExpiresAt
		if promo.UsageLimit != nil {
			data["usageLimit"] = *promo.UsageLimit
		}
	}

	return p.publishEvent(p.topics.Promos, promo.Code, newEvent(eventType, data))
}

// PublishOrderPlaced публикует событие оформления заказа
func (p *Producer) PublishOrderPlaced(order *models.Order) error {
	data := map[string]interface{}{
		"orderId":  order.ID.String(),
		"userId":   order.UserID,
		"subtotal": order.Subtotal,
		"discount": order.Discount,
		"total":    order.Total,
		"items":    len(order.Items),
	}
	if order.PromoCode != nil {
		data["promoCode"] = order.PromoCode.Code
		data["discountPercent"] = order.PromoCode.DiscountPercent
	}

	return p.publishEvent(p.topics.Orders, order.ID.String(), newEvent(models.EventTypeOrderPlaced, data))
}

func newEvent(eventType models.EventType, data map[string]interface{}) models.Event {
	return models.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func (p *Producer) publishEvent(topic, key string, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.log.WithFields(map[string]interface{}{
		"topic":      topic,
		"event_type": event.Type,
		"event_id":   event.ID,
		"partition":  partition,
		"offset":     offset,
	}).Debug("Event published")

	return nil
}
