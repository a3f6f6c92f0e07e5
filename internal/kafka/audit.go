package kafka

import (
	"context"

	"marketmesh/internal/logger"
	"marketmesh/internal/models"
)

// AuditEventTypes перечисляет события, которые попадают в журнал аудита.
var AuditEventTypes = []models.EventType{
	models.EventTypePromoCreated,
	models.EventTypePromoUpdated,
	models.EventTypePromoDeactivated,
	models.EventTypePromoRedeemed,
	models.EventTypeOrderPlaced,
}

// NewAuditHandler пишет каждое событие в лог отдельной записью.
func NewAuditHandler(log *logger.Logger) EventHandler {
	return func(ctx context.Context, event *models.Event) error {
		fields := map[string]interface{}{
			"audit":      true,
			"event_id":   event.ID,
			"event_type": event.Type,
			"event_time": event.Timestamp,
		}
		for k, v := range event.Data {
			fields["data."+k] = v
		}
		log.WithFields(fields).Info("Audit event")
		return nil
	}
}

// RegisterAuditHandlers подключает журнал аудита ко всем известным событиям.
func RegisterAuditHandlers(c *Consumer, log *logger.Logger) {
	handler := NewAuditHandler(log)
	for _, eventType := range AuditEventTypes {
		c.RegisterHandler(eventType, handler)
	}
}
