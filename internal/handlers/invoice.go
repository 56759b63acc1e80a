package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoicing-backend/internal/assistant"
	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/models"
)

const defaultPaymentTermDays = 14

type InvoiceHandler struct {
	invoiceRepo invoiceRepository
	events      invoiceEvents
	reminders   reminderQueue
	now         func() time.Time
}

type invoiceRepository interface {
	List(ctx context.Context) ([]*models.Invoice, error)
	ListByStatus(ctx context.Context, status models.InvoiceStatus) ([]*models.Invoice, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*models.Invoice, error)
	Create(ctx context.Context, inv *models.Invoice) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.InvoiceStatus) (*models.Invoice, models.InvoiceStatus, error)
	ClientHistory(ctx context.Context, clientID uuid.UUID) (models.ClientHistory, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// invoiceEvents receives invoice and payment changes for live updates.
type invoiceEvents interface {
	InvoiceStatusChanged(ctx context.Context, inv *models.Invoice, previous models.InvoiceStatus)
	PaymentRecorded(ctx context.Context, inv *models.Invoice, p *models.Payment)
}

type reminderQueue interface {
	EnqueueReminder(ctx context.Context, userID, invoiceID uuid.UUID) (*models.Job, error)
}

// NewInvoiceHandler builds the handler. events and reminders may be nil.
func NewInvoiceHandler(invoiceRepo invoiceRepository, events invoiceEvents, reminders reminderQueue) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceRepo: invoiceRepo,
		events:      events,
		reminders:   reminders,
		now:         time.Now,
	}
}

func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		invoices []*models.Invoice
		err      error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := models.ParseInvoiceStatus(strings.ToUpper(raw))
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid invoice status", r))
			return
		}
		invoices, err = h.invoiceRepo.ListByStatus(r.Context(), status)
	} else {
		invoices, err = h.invoiceRepo.List(r.Context())
	}
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	if invoices == nil {
		invoices = []*models.Invoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	inv, fields := h.buildInvoice(req)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}
	inv.CreatedByID = middleware.GetUserID(r.Context())

	if err := h.invoiceRepo.Create(r.Context(), inv); err != nil {
		handleRepoError(w, r, err, "Client not found")
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// buildInvoice validates req and returns the invoice to store, or the
// offending fields.
func (h *InvoiceHandler) buildInvoice(req models.CreateInvoiceRequest) (*models.Invoice, map[string]string) {
	fields := map[string]string{}
	if req.ClientID == uuid.Nil {
		fields["clientId"] = "Client is required"
	}

	issueDate := h.now().UTC().Truncate(24 * time.Hour)
	if raw := strings.TrimSpace(req.IssueDate); raw != "" {
		parsed, ok := assistant.ParseDate(raw)
		if !ok {
			fields["issueDate"] = "Invalid issue date"
		}
		issueDate = parsed
	}
	dueDate := issueDate.AddDate(0, 0, defaultPaymentTermDays)
	if raw := strings.TrimSpace(req.DueDate); raw != "" {
		parsed, ok := assistant.ParseDate(raw)
		if !ok {
			fields["dueDate"] = "Invalid due date"
		}
		dueDate = parsed
	}
	_, badIssue := fields["issueDate"]
	_, badDue := fields["dueDate"]
	if !badIssue && !badDue && dueDate.Before(issueDate) {
		fields["dueDate"] = "Due date cannot be before issue date"
	}

	switch req.Status {
	case "", models.InvoiceDraft, models.InvoiceSent:
	default:
		fields["status"] = "New invoices must be DRAFT or SENT"
	}
	if req.TaxRate != nil && (*req.TaxRate < 0 || *req.TaxRate > 100) {
		fields["taxRate"] = "Tax rate must be between 0 and 100"
	}

	if len(req.Items) == 0 {
		fields["items"] = "At least one item is required"
	}
	items := make([]models.InvoiceItem, 0, len(req.Items))
	for i, it := range req.Items {
		key := fmt.Sprintf("items[%d]", i)
		switch {
		case strings.TrimSpace(it.Description) == "":
			fields[key] = "Description is required"
		case it.Quantity <= 0:
			fields[key] = "Quantity must be positive"
		case it.UnitPrice < 0:
			fields[key] = "Unit price cannot be negative"
		}
		items = append(items, models.InvoiceItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	if len(fields) > 0 {
		return nil, fields
	}
	return &models.Invoice{
		ClientID:  req.ClientID,
		IssueDate: issueDate,
		DueDate:   dueDate,
		Status:    req.Status,
		TaxRate:   req.TaxRate,
		Notes:     req.Notes,
		Items:     items,
	}, nil
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.invoiceRepo.GetByID(r.Context(), id)
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req models.UpdateInvoiceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	status, valid := models.ParseInvoiceStatus(strings.ToUpper(string(req.Status)))
	if !valid {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid invoice status", r))
		return
	}

	inv, previous, err := h.invoiceRepo.UpdateStatus(r.Context(), id, status)
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	if h.events != nil && previous != inv.Status {
		h.events.InvoiceStatusChanged(r.Context(), inv, previous)
	}
	writeJSON(w, http.StatusOK, inv)
}

// SendReminder queues a payment reminder email for an open invoice.
func (h *InvoiceHandler) SendReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if h.reminders == nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Reminder queue is unavailable", r))
		return
	}

	inv, err := h.invoiceRepo.GetByID(r.Context(), id)
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	switch inv.Status {
	case models.InvoiceSent, models.InvoicePartiallyPaid, models.InvoiceOverdue:
	default:
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", "Reminders can only be sent for open invoices", r))
		return
	}

	job, err := h.reminders.EnqueueReminder(r.Context(), middleware.GetUserID(r.Context()), inv.ID)
	if err != nil {
		log.Printf("failed to enqueue reminder for invoice %s: %v", inv.ID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to enqueue reminder", r))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":   job.ID,
		"message": "Reminder queued",
	})
}

// Delete removes a draft invoice.
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.invoiceRepo.Delete(r.Context(), id); err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
