package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType описывает тип события в Kafka
type EventType string

const (
	EventTypePromoCreated     EventType = "promo.created"
	EventTypePromoUpdated     EventType = "promo.updated"
	EventTypePromoDeactivated EventType = "promo.deactivated"
	EventTypePromoRedeemed    EventType = "promo.redeemed"
	EventTypeOrderPlaced      EventType = "order.placed"
)

// Event представляет конверт события
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
