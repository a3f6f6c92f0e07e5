package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"marketmesh/internal/config"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"

	"github.com/IBM/sarama"
)

// EventHandler обрабатывает событие определённого типа
type EventHandler func(ctx context.Context, event *models.Event) error

// Consumer читает события из Kafka в составе consumer group и раздаёт их обработчикам
type Consumer struct {
	consumer sarama.ConsumerGroup
	log      *logger.Logger
	handlers map[models.EventType]EventHandler
	topics   []string
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConsumer создает consumer group на топики промокодов и заказов
func NewConsumer(cfg *config.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	c := newConsumer(group, log)
	for _, topic := range []string{cfg.Topics.Promos, cfg.Topics.Orders} {
		if topic != "" {
			c.topics = append(c.topics, topic)
		}
	}

	log.WithFields(map[string]interface{}{
		"group_id": cfg.GroupID,
		"topics":   c.topics,
	}).Info("Kafka consumer created")

	return c, nil
}

// NewTestConsumer собирает Consumer поверх готовой consumer group (для тестов)
func NewTestConsumer(group sarama.ConsumerGroup, log *logger.Logger) *Consumer {
	c := newConsumer(group, log)
	c.topics = []string{"promos", "orders"}
	return c
}

func newConsumer(group sarama.ConsumerGroup, log *logger.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		consumer: group,
		log:      log,
		handlers: make(map[models.EventType]EventHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler регистрирует обработчик для типа события
func (c *Consumer) RegisterHandler(eventType models.EventType, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = handler
}

// Handler возвращает обработчик для типа события
func (c *Consumer) Handler(eventType models.EventType) EventHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[eventType]
}

// HandlerCount возвращает число зарегистрированных обработчиков
func (c *Consumer) HandlerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers)
}

// Start запускает чтение в фоне
func (c *Consumer) Start() error {
	if c.consumer == nil {
		return errors.New("consumer group is not initialized")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.consumer.Consume(c.ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) || c.ctx.Err() != nil {
					return
				}
				c.log.WithError(err).Error("Kafka consume failed")
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()

	c.log.WithField("topics", c.topics).Info("Kafka consumer started")
	return nil
}

// Stop останавливает чтение и закрывает группу
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.consumer == nil {
		return nil
	}
	return c.consumer.Close()
}

// Setup вызывается sarama в начале новой сессии
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup вызывается sarama в конце сессии
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции.
// Ошибка обработчика логируется, сообщение всё равно помечается: повтор аудит-записи бесполезен.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.processMessage(msg); err != nil {
				c.log.WithError(err).WithFields(map[string]interface{}{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Error("Failed to process Kafka message")
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) processMessage(msg *sarama.ConsumerMessage) error {
	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	handler := c.Handler(event.Type)
	if handler == nil {
		c.log.WithFields(map[string]interface{}{
			"event_type": event.Type,
			"topic":      msg.Topic,
		}).Debug("No handler registered for event")
		return nil
	}

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := handler(ctx, &event); err != nil {
		return fmt.Errorf("handler for %s failed: %w", event.Type, err)
	}
	return nil
}
