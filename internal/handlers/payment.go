package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoicing-backend/internal/models"
)

type PaymentHandler struct {
	paymentRepo paymentRepository
	events      invoiceEvents
}

type paymentRepository interface {
	List(ctx context.Context) ([]*models.Payment, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*models.Payment, error)
	ListSince(ctx context.Context, since time.Time) ([]*models.Payment, error)
	Record(ctx context.Context, req models.RecordPaymentRequest) (*models.Payment, *models.Invoice, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.PaymentStatus) (*models.Payment, *models.Invoice, models.InvoiceStatus, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.Payment, *models.Invoice, models.InvoiceStatus, error)
}

// NewPaymentHandler builds the handler. events may be nil.
func NewPaymentHandler(paymentRepo paymentRepository, events invoiceEvents) *PaymentHandler {
	return &PaymentHandler{paymentRepo: paymentRepo, events: events}
}

func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		payments []*models.Payment
		err      error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("invoiceId")); raw != "" {
		invoiceID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid invoiceId", r))
			return
		}
		payments, err = h.paymentRepo.ListByInvoice(r.Context(), invoiceID)
	} else {
		payments, err = h.paymentRepo.List(r.Context())
	}
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req models.RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	req.Method = models.PaymentMethod(strings.ToUpper(string(req.Method)))
	req.Status = models.PaymentStatus(strings.ToUpper(string(req.Status)))
	fields := map[string]string{}
	if req.InvoiceID == uuid.Nil {
		fields["invoiceId"] = "Invoice is required"
	}
	if req.Amount <= 0 {
		fields["amount"] = "Amount must be positive"
	}
	if !req.Method.Valid() {
		fields["method"] = "Invalid payment method"
	}
	switch req.Status {
	case "", models.PaymentPending, models.PaymentCompleted:
	default:
		fields["status"] = "New payments must be PENDING or COMPLETED"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	payment, inv, err := h.paymentRepo.Record(r.Context(), req)
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	if h.events != nil {
		h.events.PaymentRecorded(r.Context(), inv, payment)
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	payment, err := h.paymentRepo.GetByID(r.Context(), id)
	if err != nil {
		handleRepoError(w, r, err, "Payment not found")
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// UpdateStatus completes a pending payment or reverses a completed one.
func (h *PaymentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdatePaymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	status := models.PaymentStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if !status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid payment status: "+string(req.Status), r))
		return
	}

	payment, inv, previous, err := h.paymentRepo.UpdateStatus(r.Context(), id, status)
	if err != nil {
		handleRepoError(w, r, err, "Payment not found")
		return
	}
	h.settled(r.Context(), inv, payment, previous)
	writeJSON(w, http.StatusOK, payment)
}

// Delete removes a payment, reversing it first when it was completed.
func (h *PaymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	payment, inv, previous, err := h.paymentRepo.Delete(r.Context(), id)
	if err != nil {
		handleRepoError(w, r, err, "Payment not found")
		return
	}
	h.settled(r.Context(), inv, payment, previous)
	w.WriteHeader(http.StatusNoContent)
}

// settled publishes a payment change and, when it moved the invoice to a
// new status, the status change too.
func (h *PaymentHandler) settled(ctx context.Context, inv *models.Invoice, p *models.Payment, previous models.InvoiceStatus) {
	if h.events == nil {
		return
	}
	h.events.PaymentRecorded(ctx, inv, p)
	if inv != nil && inv.Status != previous {
		h.events.InvoiceStatusChanged(ctx, inv, previous)
	}
}
