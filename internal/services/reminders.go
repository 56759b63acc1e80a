package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"invoicing-backend/internal/models"
)

// ReminderQueueKey is the redis list the worker pool drains.
const ReminderQueueKey = "queue:invoice-reminders"

type pusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

type ReminderQueue struct {
	redis pusher
	now   func() time.Time
}

func NewReminderQueue(redisClient *redis.Client) *ReminderQueue {
	return &ReminderQueue{redis: redisClient, now: time.Now}
}

// EnqueueReminder queues a reminder email for invoiceID on behalf of userID.
func (q *ReminderQueue) EnqueueReminder(ctx context.Context, userID, invoiceID uuid.UUID) (*models.Job, error) {
	job := &models.Job{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        models.JobInvoiceReminder,
		ReferenceID: invoiceID,
		CreatedAt:   q.now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reminder job: %w", err)
	}
	if err := q.redis.LPush(ctx, ReminderQueueKey, string(data)).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue reminder job %s: %w", job.ID, err)
	}
	return job, nil
}
