package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "DRAFT"
	InvoiceSent          InvoiceStatus = "SENT"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceOverdue       InvoiceStatus = "OVERDUE"
	InvoiceCanceled      InvoiceStatus = "CANCELED"
)

// ParseInvoiceStatus accepts the upper-case wire names only.
func ParseInvoiceStatus(s string) (InvoiceStatus, bool) {
	st := InvoiceStatus(s)
	switch st {
	case InvoiceDraft, InvoiceSent, InvoicePartiallyPaid, InvoicePaid, InvoiceOverdue, InvoiceCanceled:
		return st, true
	}
	return "", false
}

var allowedTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:         {InvoiceSent, InvoiceCanceled},
	InvoiceSent:          {InvoicePartiallyPaid, InvoicePaid, InvoiceOverdue, InvoiceCanceled},
	InvoicePartiallyPaid: {InvoicePaid, InvoiceOverdue, InvoiceCanceled},
	InvoicePaid:          {InvoiceCanceled},
	InvoiceOverdue:       {InvoicePartiallyPaid, InvoicePaid, InvoiceCanceled},
	InvoiceCanceled:      nil,
}

// TransitionError reports a status change the lifecycle does not permit.
type TransitionError struct {
	From InvoiceStatus
	To   InvoiceStatus
}

func (e *TransitionError) Error() string {
	if e.From == InvoiceCanceled {
		return "Cannot transition from CANCELED status"
	}
	return fmt.Sprintf("Cannot transition from %s to %s", e.From, e.To)
}

// ConflictError reports a change the current state of a record forbids.
type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

// CheckTransition returns nil when an invoice may move from -> to.
// Staying in the same status is always allowed.
func CheckTransition(from, to InvoiceStatus) error {
	if from == to {
		return nil
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

type InvoiceItem struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Quantity    float64   `json:"quantity"`
	UnitPrice   float64   `json:"unitPrice"`
	Amount      float64   `json:"amount"`
}

type Invoice struct {
	ID          uuid.UUID     `json:"id"`
	Number      string        `json:"number"`
	ClientID    uuid.UUID     `json:"clientId"`
	ClientName  string        `json:"clientName"`
	ClientEmail string        `json:"clientEmail"`
	IssueDate   time.Time     `json:"issueDate"`
	DueDate     time.Time     `json:"dueDate"`
	Status      InvoiceStatus `json:"status"`
	Subtotal    float64       `json:"subtotal"`
	TaxRate     *float64      `json:"taxRate"`
	TaxAmount   float64       `json:"taxAmount"`
	Total       float64       `json:"total"`
	AmountPaid  float64       `json:"amountPaid"`
	Balance     float64       `json:"balance"`
	Notes       *string       `json:"notes"`
	CreatedByID uuid.UUID     `json:"createdById"`
	Items       []InvoiceItem `json:"items"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateTotals recomputes item amounts, subtotal, tax, total and balance.
func (inv *Invoice) CalculateTotals() {
	var subtotal float64
	for i := range inv.Items {
		inv.Items[i].Amount = roundCents(inv.Items[i].Quantity * inv.Items[i].UnitPrice)
		subtotal += inv.Items[i].Amount
	}
	inv.Subtotal = roundCents(subtotal)
	inv.TaxAmount = 0
	if inv.TaxRate != nil {
		inv.TaxAmount = roundCents(inv.Subtotal * *inv.TaxRate / 100)
	}
	inv.Total = roundCents(inv.Subtotal + inv.TaxAmount)
	inv.Balance = roundCents(inv.Total - inv.AmountPaid)
}

// ApplyPayment adds amount to the paid total and moves the status to PAID or
// PARTIALLY_PAID accordingly.
func (inv *Invoice) ApplyPayment(amount float64) error {
	if amount <= 0 {
		return &PaymentError{Message: "Payment amount must be positive"}
	}
	paid := roundCents(inv.AmountPaid + amount)
	if paid > inv.Total {
		return &PaymentError{Message: "Payment amount would exceed invoice total"}
	}
	inv.AmountPaid = paid
	inv.Balance = roundCents(inv.Total - inv.AmountPaid)
	if inv.Balance == 0 {
		inv.Status = InvoicePaid
	} else if inv.AmountPaid > 0 {
		inv.Status = InvoicePartiallyPaid
	}
	return nil
}

// ReversePayment takes amount back off the paid total. An invoice with
// nothing paid returns to SENT, one still partly paid becomes
// PARTIALLY_PAID. A canceled invoice keeps its status.
func (inv *Invoice) ReversePayment(amount float64) error {
	if amount <= 0 {
		return &PaymentError{Message: "Reversal amount must be positive"}
	}
	if roundCents(amount) > inv.AmountPaid {
		return &PaymentError{Message: "Reversal amount cannot exceed amount paid"}
	}
	inv.AmountPaid = roundCents(inv.AmountPaid - amount)
	inv.Balance = roundCents(inv.Total - inv.AmountPaid)
	if inv.Status == InvoiceCanceled {
		return nil
	}
	if inv.AmountPaid == 0 {
		inv.Status = InvoiceSent
	} else if inv.Balance > 0 {
		inv.Status = InvoicePartiallyPaid
	}
	return nil
}

// Remaining is the amount still owed.
func (inv *Invoice) Remaining() float64 {
	return roundCents(inv.Total - inv.AmountPaid)
}

type InvoiceItemRequest struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

type CreateInvoiceRequest struct {
	ClientID  uuid.UUID            `json:"clientId"`
	IssueDate string               `json:"issueDate,omitempty"` // YYYY-MM-DD or RFC 3339
	DueDate   string               `json:"dueDate,omitempty"`
	Status    InvoiceStatus        `json:"status,omitempty"`
	TaxRate   *float64             `json:"taxRate,omitempty"`
	Notes     *string              `json:"notes,omitempty"`
	Items     []InvoiceItemRequest `json:"items"`
}

type UpdateInvoiceStatusRequest struct {
	Status InvoiceStatus `json:"status"`
}

// ClientHistory summarises a client's past invoicing for risk scoring.
type ClientHistory struct {
	InvoiceCount     int     `json:"invoiceCount"`
	LatePaymentRate  float64 `json:"latePaymentRate"`
	AvgInvoiceAmount float64 `json:"avgInvoiceAmount"`
}
