package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"invoicing-backend/internal/models"
)

const (
	EventInvoiceStatusChanged = "invoice_status_changed"
	EventPaymentRecorded      = "payment_recorded"
)

// UserChannel is the pub/sub channel carrying live updates for one user.
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// InvoiceEvents fans invoice and payment changes out to the websocket hub.
// Events go to the invoice's creator.
type InvoiceEvents struct {
	redis publisher
	now   func() time.Time
}

func NewInvoiceEvents(redisClient *redis.Client) *InvoiceEvents {
	return &InvoiceEvents{redis: redisClient, now: time.Now}
}

// PublishUpdate sends a WebSocket update via Redis pub/sub
func (e *InvoiceEvents) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	if userID == uuid.Nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("events: failed to encode %s: %v", msg.Type, err)
		return
	}
	if err := e.redis.Publish(ctx, UserChannel(userID), string(data)).Err(); err != nil {
		log.Printf("events: failed to publish %s for user %s: %v", msg.Type, userID, err)
	}
}

func (e *InvoiceEvents) InvoiceStatusChanged(ctx context.Context, inv *models.Invoice, previous models.InvoiceStatus) {
	e.PublishUpdate(ctx, inv.CreatedByID, models.WSMessage{
		Type: EventInvoiceStatusChanged,
		Payload: models.InvoiceStatusChanged{
			InvoiceID:      inv.ID,
			Number:         inv.Number,
			PreviousStatus: previous,
			NewStatus:      inv.Status,
			OccurredAt:     e.now().UTC(),
		},
	})
}

func (e *InvoiceEvents) PaymentRecorded(ctx context.Context, inv *models.Invoice, p *models.Payment) {
	if inv == nil {
		return
	}
	e.PublishUpdate(ctx, inv.CreatedByID, models.WSMessage{
		Type: EventPaymentRecorded,
		Payload: models.PaymentRecorded{
			PaymentID:  p.ID,
			InvoiceID:  p.InvoiceID,
			Amount:     p.Amount,
			Method:     p.Method,
			Status:     p.Status,
			OccurredAt: e.now().UTC(),
		},
	})
}
