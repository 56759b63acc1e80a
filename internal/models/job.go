package models

import (
	"time"

	"github.com/google/uuid"
)

const JobInvoiceReminder = "invoice-reminder"

type Job struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Type        string    `json:"type"` // "invoice-reminder"
	ReferenceID uuid.UUID `json:"reference_id"`
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type InvoiceStatusChanged struct {
	InvoiceID      uuid.UUID     `json:"invoice_id"`
	Number         string        `json:"number"`
	PreviousStatus InvoiceStatus `json:"previous_status"`
	NewStatus      InvoiceStatus `json:"new_status"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

type PaymentRecorded struct {
	PaymentID  uuid.UUID     `json:"payment_id"`
	InvoiceID  uuid.UUID     `json:"invoice_id"`
	Amount     float64       `json:"amount"`
	Method     PaymentMethod `json:"method"`
	Status     PaymentStatus `json:"status"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type ReminderSent struct {
	JobID     uuid.UUID `json:"job_id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	Number    string    `json:"number"`
	To        string    `json:"to"`
	Drafted   bool      `json:"drafted"` // false when the fixed template was used
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
