package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"invoicing-backend/internal/models"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool, now: time.Now}
}

const paymentSelect = `SELECT p.id, p.invoice_id, i.number, p.amount, p.method, p.status,
	p.received_at, p.reference, p.created_at, p.updated_at
	FROM payments p JOIN invoices i ON i.id = p.invoice_id`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	p := &models.Payment{}
	err := row.Scan(&p.ID, &p.InvoiceID, &p.InvoiceNumber, &p.Amount, &p.Method, &p.Status,
		&p.ReceivedAt, &p.Reference, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PaymentRepo) List(ctx context.Context) ([]*models.Payment, error) {
	return r.query(ctx, paymentSelect+" ORDER BY p.received_at DESC")
}

func (r *PaymentRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*models.Payment, error) {
	return r.query(ctx, paymentSelect+" WHERE p.invoice_id = $1 ORDER BY p.received_at DESC", invoiceID)
}

// ListSince returns completed payments received at or after since.
func (r *PaymentRepo) ListSince(ctx context.Context, since time.Time) ([]*models.Payment, error) {
	return r.query(ctx,
		paymentSelect+" WHERE p.status = 'COMPLETED' AND p.received_at >= $1 ORDER BY p.received_at DESC",
		since,
	)
}

func (r *PaymentRepo) query(ctx context.Context, sql string, args ...any) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []*models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Record stores a payment against an invoice. Completed payments are applied
// to the invoice's paid amount, balance and status in the same transaction.
// Business rule violations are returned as *models.PaymentError.
func (r *PaymentRepo) Record(ctx context.Context, req models.RecordPaymentRequest) (*models.Payment, *models.Invoice, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inv, err := lockInvoice(ctx, tx, req.InvoiceID)
	if err != nil {
		return nil, nil, err
	}

	if inv.Status == models.InvoicePaid || inv.Status == models.InvoiceCanceled {
		return nil, nil, &models.PaymentError{Message: "Cannot record payment for invoice with status: " + string(inv.Status)}
	}
	if remaining := inv.Remaining(); req.Amount > remaining {
		return nil, nil, &models.PaymentError{Message: fmt.Sprintf("Payment amount exceeds remaining balance (remaining: %.2f)", remaining)}
	}

	if req.Reference != nil && *req.Reference != "" {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1)", *req.Reference).Scan(&exists); err != nil {
			return nil, nil, err
		}
		if exists {
			return nil, nil, &models.PaymentError{Message: fmt.Sprintf("Payment with reference '%s' already exists", *req.Reference)}
		}
	}

	now := r.now().UTC()
	p := &models.Payment{
		ID:            uuid.New(),
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		Amount:        req.Amount,
		Method:        req.Method,
		Status:        req.Status,
		ReceivedAt:    now,
		Reference:     req.Reference,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.Status == "" {
		p.Status = models.PaymentPending
	}
	if req.ReceivedAt != nil {
		p.ReceivedAt = req.ReceivedAt.UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO payments (id, invoice_id, amount, method, status, received_at, reference, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.InvoiceID, p.Amount, string(p.Method), string(p.Status), p.ReceivedAt, p.Reference, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	if p.Status == models.PaymentCompleted {
		if err := inv.ApplyPayment(p.Amount); err != nil {
			return nil, nil, err
		}
		if err := saveSettlement(ctx, tx, inv, now); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return p, inv, nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, paymentSelect+" WHERE p.id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// UpdateStatus moves a payment along PENDING -> COMPLETED -> REVERSED and
// settles the change on its invoice. It returns the updated payment, the
// invoice, and the invoice's status before the change.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PaymentStatus) (*models.Payment, *models.Invoice, models.InvoiceStatus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, inv, err := lockPayment(ctx, tx, id)
	if err != nil {
		return nil, nil, "", err
	}
	previous := inv.Status

	if err := models.ChangePaymentStatus(inv, p, status); err != nil {
		return nil, nil, previous, err
	}

	now := r.now().UTC()
	p.UpdatedAt = now
	if _, err := tx.Exec(ctx, "UPDATE payments SET status = $1, updated_at = $2 WHERE id = $3", string(p.Status), now, p.ID); err != nil {
		return nil, nil, previous, fmt.Errorf("failed to update payment status: %w", err)
	}
	if err := saveSettlement(ctx, tx, inv, now); err != nil {
		return nil, nil, previous, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, previous, fmt.Errorf("failed to commit payment status: %w", err)
	}
	return p, inv, previous, nil
}

// Delete removes a payment, reversing it first when it was completed. The
// returned payment carries status REVERSED.
func (r *PaymentRepo) Delete(ctx context.Context, id uuid.UUID) (*models.Payment, *models.Invoice, models.InvoiceStatus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, inv, err := lockPayment(ctx, tx, id)
	if err != nil {
		return nil, nil, "", err
	}
	previous := inv.Status
	wasCompleted := p.Status == models.PaymentCompleted

	if err := models.RemovePayment(inv, p); err != nil {
		return nil, nil, previous, err
	}

	now := r.now().UTC()
	if _, err := tx.Exec(ctx, "DELETE FROM payments WHERE id = $1", p.ID); err != nil {
		return nil, nil, previous, fmt.Errorf("failed to delete payment: %w", err)
	}
	if wasCompleted {
		if err := saveSettlement(ctx, tx, inv, now); err != nil {
			return nil, nil, previous, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, previous, fmt.Errorf("failed to commit payment delete: %w", err)
	}
	p.Status = models.PaymentReversed
	p.UpdatedAt = now
	return p, inv, previous, nil
}

// lockInvoice loads the settlement fields of an invoice and locks its row.
func lockInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Invoice, error) {
	inv := &models.Invoice{ID: id}
	err := tx.QueryRow(ctx,
		`SELECT number, status, total, amount_paid, balance, created_by_id
		 FROM invoices WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&inv.Number, &inv.Status, &inv.Total, &inv.AmountPaid, &inv.Balance, &inv.CreatedByID)
	if err != nil {
		return nil, notFound(err)
	}
	return inv, nil
}

// lockPayment locks a payment and then its invoice, in that order.
func lockPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Payment, *models.Invoice, error) {
	p, err := scanPayment(tx.QueryRow(ctx, paymentSelect+" WHERE p.id = $1 FOR UPDATE OF p", id))
	if err != nil {
		return nil, nil, notFound(err)
	}
	inv, err := lockInvoice(ctx, tx, p.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	return p, inv, nil
}

func saveSettlement(ctx context.Context, tx pgx.Tx, inv *models.Invoice, now time.Time) error {
	_, err := tx.Exec(ctx,
		"UPDATE invoices SET amount_paid = $1, balance = $2, status = $3, updated_at = $4 WHERE id = $5",
		inv.AmountPaid, inv.Balance, string(inv.Status), now, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to settle invoice: %w", err)
	}
	return nil
}
