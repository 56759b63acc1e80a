package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"invoicing-backend/internal/models"
)

const sweepTimeout = 5 * time.Minute

type overdueInvoiceRepository interface {
	ListPastDue(ctx context.Context, asOf time.Time) ([]*models.Invoice, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.InvoiceStatus) (*models.Invoice, models.InvoiceStatus, error)
}

type statusEvents interface {
	InvoiceStatusChanged(ctx context.Context, inv *models.Invoice, previous models.InvoiceStatus)
}

type reminderEnqueuer interface {
	EnqueueReminder(ctx context.Context, userID, invoiceID uuid.UUID) (*models.Job, error)
}

// OverdueScheduler periodically moves open invoices past their due date to
// OVERDUE and queues a reminder for each.
type OverdueScheduler struct {
	invoices  overdueInvoiceRepository
	events    statusEvents
	reminders reminderEnqueuer
	schedule  string
	cron      *cron.Cron
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// NewOverdueScheduler builds a scheduler. events and reminders may be nil.
func NewOverdueScheduler(invoices overdueInvoiceRepository, events statusEvents, reminders reminderEnqueuer, schedule string) *OverdueScheduler {
	return &OverdueScheduler{
		invoices:  invoices,
		events:    events,
		reminders: reminders,
		schedule:  schedule,
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start registers the sweep on the cron schedule and runs one sweep
// immediately.
func (s *OverdueScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		return fmt.Errorf("invalid overdue sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	go s.runOnce()

	log.Printf("Overdue scheduler started (%s)", s.schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (s *OverdueScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *OverdueScheduler) runOnce() {
	// Skip a tick while the previous sweep is still running.
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()
	moved, err := s.Sweep(ctx, s.now().UTC())
	if err != nil {
		log.Printf("overdue sweep: %v", err)
		return
	}
	if moved > 0 {
		log.Printf("overdue sweep: marked %d invoices overdue in %s", moved, time.Since(start).Round(time.Millisecond))
	}
}

// Sweep marks every SENT or PARTIALLY_PAID invoice due before asOf as
// OVERDUE and returns how many were moved. Per-invoice failures are logged
// and skipped.
func (s *OverdueScheduler) Sweep(ctx context.Context, asOf time.Time) (int, error) {
	invoices, err := s.invoices.ListPastDue(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to list past due invoices: %w", err)
	}

	moved := 0
	for _, inv := range invoices {
		updated, previous, err := s.invoices.UpdateStatus(ctx, inv.ID, models.InvoiceOverdue)
		if err != nil {
			var transitionErr *models.TransitionError
			if !errors.As(err, &transitionErr) {
				log.Printf("overdue sweep: failed to update invoice %s: %v", inv.Number, err)
			}
			continue
		}
		if previous == updated.Status {
			continue
		}
		moved++

		if s.events != nil {
			s.events.InvoiceStatusChanged(ctx, updated, previous)
		}
		if s.reminders != nil {
			if _, err := s.reminders.EnqueueReminder(ctx, updated.CreatedByID, updated.ID); err != nil {
				log.Printf("overdue sweep: failed to queue reminder for %s: %v", updated.Number, err)
			}
		}
	}
	return moved, nil
}
