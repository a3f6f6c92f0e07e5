package kafka

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"marketmesh/internal/config"
	"marketmesh/internal/logger"
	"marketmesh/internal/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
)

func newTestProducer(mp sarama.SyncProducer) *Producer {
	return &Producer{
		producer: mp,
		log:      logger.New(&config.LoggerConfig{Level: "error", Format: "json"}),
		topics:   &config.Topics{Promos: "promos", Orders: "orders"},
	}
}

func expectEventType(want models.EventType) mocks.ValueChecker {
	return func(val []byte) error {
		var ev models.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != want {
			return fmt.Errorf("expected event %s, got %s", want, ev.Type)
		}
		if ev.ID == uuid.Nil || ev.Timestamp.IsZero() {
			return fmt.Errorf("event id and timestamp must be set")
		}
		return nil
	}
}

func TestPublishEvent(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageAndSucceed()

	p := newTestProducer(mp)
	event := models.Event{ID: uuid.New(), Type: models.EventTypePromoCreated, Timestamp: time.Now()}
	if err := p.publishEvent("promos", "SAVE10", event); err != nil {
		t.Fatalf("expected publish success, got %v", err)
	}

	if err := mp.Close(); err != nil {
		t.Fatalf("failed to close mock producer: %v", err)
	}
}

func TestProducer_PromoEvents(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(expectEventType(models.EventTypePromoCreated))
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(expectEventType(models.EventTypePromoRedeemed))
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(expectEventType(models.EventTypePromoDeactivated))

	p := newTestProducer(mp)
	limit := 50
	promo := &models.PromoCode{Code: "SAVE10", DiscountPercent: 10, ExpiresAt: time.Now().Add(time.Hour), IsActive: true, UsageLimit: &limit}

	if err := p.PublishPromoEvent(models.EventTypePromoCreated, promo); err != nil {
		t.Fatalf("promo.created failed: %v", err)
	}
	promo.UsageCount = 1
	if err := p.PublishPromoEvent(models.EventTypePromoRedeemed, promo); err != nil {
		t.Fatalf("promo.redeemed failed: %v", err)
	}
	if err := p.PublishPromoEvent(models.EventTypePromoDeactivated, &models.PromoCode{Code: "SAVE10"}); err != nil {
		t.Fatalf("promo.deactivated failed: %v", err)
	}

	if err := mp.Close(); err != nil {
		t.Fatalf("failed to close mock producer: %v", err)
	}
}

func TestProducer_PublishOrderPlaced(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if err := expectEventType(models.EventTypeOrderPlaced)(val); err != nil {
			return err
		}
		var ev models.Event
		_ = json.Unmarshal(val, &ev)
		if ev.Data["promoCode"] != "FLASH15" {
			return fmt.Errorf("expected promo code in payload, got %v", ev.Data["promoCode"])
		}
		return nil
	})

	p := newTestProducer(mp)
	order := &models.Order{
		ID:        uuid.New(),
		UserID:    "u1",
		Subtotal:  100,
		Discount:  15,
		Total:     85,
		PromoCode: &models.AppliedPromo{Code: "FLASH15", DiscountPercent: 15},
	}
	if err := p.PublishOrderPlaced(order); err != nil {
		t.Fatalf("PublishOrderPlaced failed: %v", err)
	}
	if err := mp.Close(); err != nil {
		t.Fatalf("failed to close mock producer: %v", err)
	}
}

func TestProducer_PublishEvent_Failure(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newTestProducer(mp)
	ev := models.Event{ID: uuid.New(), Type: models.EventTypeOrderPlaced}
	if err := p.publishEvent("orders", "", ev); err == nil {
		t.Fatalf("expected error on send failure")
	}
	_ = p.Close()
}

func TestNewProducer_Error(t *testing.T) {
	log := logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
	cfg := &config.KafkaConfig{Brokers: []string{"localhost:0"}}
	if _, err := NewProducer(cfg, log); err == nil {
		t.Fatalf("expected error creating producer")
	}
}

func TestProducer_CloseNil(t *testing.T) {
	var p *Producer
	if err := p.Close(); err != nil {
		t.Fatalf("expected nil error on nil producer")
	}
	p = &Producer{}
	if err := p.Close(); err != nil {
		t.Fatalf("expected nil error on empty producer, got %v", err)
	}
}
