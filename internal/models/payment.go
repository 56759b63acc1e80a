package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentCheck        PaymentMethod = "CHECK"
	PaymentOther        PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCreditCard, PaymentBankTransfer, PaymentCheck, PaymentOther:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentReversed  PaymentStatus = "REVERSED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentReversed:
		return true
	}
	return false
}

// CheckPaymentTransition allows only PENDING -> COMPLETED -> REVERSED.
func CheckPaymentTransition(from, to PaymentStatus) error {
	switch {
	case from == PaymentReversed:
		return &PaymentError{Message: "Cannot transition from REVERSED status"}
	case from == PaymentPending && to != PaymentCompleted,
		from == PaymentCompleted && to != PaymentReversed:
		return &PaymentError{Message: fmt.Sprintf("Cannot transition from %s to %s", from, to)}
	}
	return nil
}

// ChangePaymentStatus moves p to status and settles the change on inv:
// completing applies the amount, reversing takes it back off.
func ChangePaymentStatus(inv *Invoice, p *Payment, status PaymentStatus) error {
	if err := CheckPaymentTransition(p.Status, status); err != nil {
		return err
	}
	switch status {
	case PaymentCompleted:
		if inv.Status == InvoiceCanceled {
			return &PaymentError{Message: "Cannot apply payment to invoice with status: " + string(inv.Status)}
		}
		if err := inv.ApplyPayment(p.Amount); err != nil {
			return err
		}
	case PaymentReversed:
		if err := inv.ReversePayment(p.Amount); err != nil {
			return err
		}
	}
	p.Status = status
	return nil
}

// RemovePayment undoes p's effect on inv before it is deleted. Reversed
// payments stay on record.
func RemovePayment(inv *Invoice, p *Payment) error {
	switch p.Status {
	case PaymentReversed:
		return &PaymentError{Message: "Cannot delete a reversed payment"}
	case PaymentCompleted:
		return inv.ReversePayment(p.Amount)
	}
	return nil
}

type Payment struct {
	ID            uuid.UUID     `json:"id"`
	InvoiceID     uuid.UUID     `json:"invoiceId"`
	InvoiceNumber string        `json:"invoiceNumber,omitempty"`
	Amount        float64       `json:"amount"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	ReceivedAt    time.Time     `json:"receivedAt"`
	Reference     *string       `json:"reference,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type RecordPaymentRequest struct {
	InvoiceID  uuid.UUID     `json:"invoiceId"`
	Amount     float64       `json:"amount"`
	Method     PaymentMethod `json:"method"`
	Status     PaymentStatus `json:"status,omitempty"`
	ReceivedAt *time.Time    `json:"receivedAt,omitempty"`
	Reference  *string       `json:"reference,omitempty"`
}

type UpdatePaymentStatusRequest struct {
	Status PaymentStatus `json:"status"`
}

// PaymentError is returned when a payment cannot be applied to an invoice.
type PaymentError struct{ Message string }

func (e *PaymentError) Error() string { return e.Message }
