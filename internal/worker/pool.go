package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"invoicing-backend/internal/llm"
	"invoicing-backend/internal/models"
	"invoicing-backend/internal/services"
)

const (
	maxRetries      = 3
	draftMaxTokens  = 400
	reminderTimeout = 2 * time.Minute
	errorBackoff    = 2 * time.Second
	reminderSystem  = "You write short, polite payment reminder emails for a small business. Reply with the email body only, no subject line."
)

type invoiceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
}

type mailer interface {
	SendInvoiceReminder(inv *models.Invoice, message string) error
}

type updatePublisher interface {
	PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

// Pool drains the reminder queue. Each job drafts a reminder with the AI
// provider, falling back to a fixed template, and emails it to the client.
type Pool struct {
	redis       *redis.Client
	provider    llm.Provider
	email       mailer
	invoiceRepo invoiceRepository
	updates     updatePublisher
	workerCount int
	now         func() time.Time
	stopChan    chan struct{}
}

// NewPool builds a pool. provider may be nil, in which case every reminder
// uses the template.
func NewPool(
	redisClient *redis.Client,
	provider llm.Provider,
	email mailer,
	invoiceRepo invoiceRepository,
	updates updatePublisher,
	workerCount int,
) *Pool {
	return &Pool{
		redis:       redisClient,
		provider:    provider,
		email:       email,
		invoiceRepo: invoiceRepo,
		updates:     updates,
		workerCount: workerCount,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}

	log.Printf("Started %d worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(ctx, 30*time.Second, services.ReminderQueueKey).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Printf("Worker %d: queue read failed: %v", id, err)
				p.pause(errorBackoff)
			}
			continue
		}

		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Worker %d: failed to parse job: %v", id, err)
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 10*time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		log.Printf("Worker %d: processing job %s (type: %s)", id, job.ID, job.Type)

		jobCtx, cancel := context.WithTimeout(ctx, reminderTimeout)
		processErr := p.process(jobCtx, &job)
		cancel()

		if processErr != nil {
			p.handleFailure(ctx, &job, processErr)
		}

		p.redis.Del(ctx, lockKey)
	}
}

// pause sleeps for d unless the pool is stopped first.
func (p *Pool) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stopChan:
		return false
	case <-t.C:
		return true
	}
}

func (p *Pool) process(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobInvoiceReminder:
		return p.processReminder(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Pool) processReminder(ctx context.Context, job *models.Job) error {
	inv, err := p.invoiceRepo.GetByID(ctx, job.ReferenceID)
	if err != nil {
		return fmt.Errorf("failed to get invoice: %w", err)
	}

	switch inv.Status {
	case models.InvoiceSent, models.InvoicePartiallyPaid, models.InvoiceOverdue:
	default:
		log.Printf("Skipping reminder for invoice %s: status is %s", inv.Number, inv.Status)
		return nil
	}

	message, drafted := p.draftReminder(ctx, inv)
	if err := p.email.SendInvoiceReminder(inv, message); err != nil {
		return err
	}

	p.publish(ctx, job.UserID, models.WSMessage{
		Type: "reminder_sent",
		Payload: models.ReminderSent{
			JobID:     job.ID,
			InvoiceID: inv.ID,
			Number:    inv.Number,
			To:        inv.ClientEmail,
			Drafted:   drafted,
		},
	})
	return nil
}

// draftReminder asks the provider for reminder text. The bool reports
// whether the provider's text was used.
func (p *Pool) draftReminder(ctx context.Context, inv *models.Invoice) (string, bool) {
	if p.provider == nil {
		return templateReminder(inv), false
	}

	prompt := reminderPrompt(inv, p.now())
	text, err := p.provider.Complete(ctx,
		[]models.ChatMessage{{Role: models.RoleUser, Content: prompt}},
		reminderSystem,
		llm.Options{MaxTokens: draftMaxTokens},
	)
	if err != nil {
		log.Printf("Reminder draft for %s failed, using template: %v", inv.Number, err)
		return templateReminder(inv), false
	}
	if text = strings.TrimSpace(text); text == "" {
		return templateReminder(inv), false
	}
	return text, true
}

func reminderPrompt(inv *models.Invoice, now time.Time) string {
	days := int(now.Sub(inv.DueDate).Hours() / 24)
	timing := fmt.Sprintf("due on %s", inv.DueDate.Format("January 2, 2006"))
	if days > 0 {
		timing = fmt.Sprintf("%d days overdue (was due %s)", days, inv.DueDate.Format("January 2, 2006"))
	}
	return fmt.Sprintf(
		"Write a payment reminder to %s for invoice %s. Total $%.2f, outstanding balance $%.2f, %s. Keep it under 120 words.",
		inv.ClientName, inv.Number, inv.Total, inv.Balance, timing,
	)
}

func templateReminder(inv *models.Invoice) string {
	name := inv.ClientName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"Hello %s,\n\nThis is a friendly reminder that invoice %s for $%.2f was due on %s. The outstanding balance is $%.2f.\n\nIf you have already sent payment, please disregard this message. Thank you!",
		name, inv.Number, inv.Total, inv.DueDate.Format("January 2, 2006"), inv.Balance,
	)
}

func (p *Pool) publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	if p.updates != nil {
		p.updates.PublishUpdate(ctx, userID, msg)
	}
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()

	if job.RetryCount < maxRetries {
		log.Printf("Job %s failed (attempt %d): %s, retrying", job.ID, job.RetryCount, errMsg)

		jobBytes, _ := json.Marshal(job)
		backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
		time.AfterFunc(backoff, func() {
			p.redis.LPush(context.Background(), services.ReminderQueueKey, string(jobBytes))
		})
		return
	}

	log.Printf("Job %s failed permanently: %s", job.ID, errMsg)
	p.publish(ctx, job.UserID, models.WSMessage{
		Type: "error",
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ErrorCode:    "JOB_FAILED",
			ErrorMessage: errMsg,
		},
	})
}
