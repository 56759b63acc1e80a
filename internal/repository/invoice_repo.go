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

type InvoiceRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewInvoiceRepo(pool *pgxpool.Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool, now: time.Now}
}

const invoiceSelect = `SELECT i.id, i.number, i.client_id, c.name, c.email, i.issue_date, i.due_date,
	i.status, i.subtotal, i.tax_rate, i.tax_amount, i.total, i.amount_paid, i.balance,
	i.notes, i.created_by_id, i.created_at, i.updated_at
	FROM invoices i JOIN clients c ON c.id = i.client_id`

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	inv := &models.Invoice{}
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.ClientID, &inv.ClientName, &inv.ClientEmail,
		&inv.IssueDate, &inv.DueDate, &inv.Status, &inv.Subtotal, &inv.TaxRate,
		&inv.TaxAmount, &inv.Total, &inv.AmountPaid, &inv.Balance,
		&inv.Notes, &inv.CreatedByID, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Items = []models.InvoiceItem{}
	return inv, nil
}

func (r *InvoiceRepo) List(ctx context.Context) ([]*models.Invoice, error) {
	return r.query(ctx, invoiceSelect+" ORDER BY i.issue_date DESC, i.number DESC")
}

func (r *InvoiceRepo) ListByStatus(ctx context.Context, status models.InvoiceStatus) ([]*models.Invoice, error) {
	return r.query(ctx, invoiceSelect+" WHERE i.status = $1 ORDER BY i.due_date ASC", string(status))
}

// ListPastDue returns open invoices whose due date is before asOf's date.
func (r *InvoiceRepo) ListPastDue(ctx context.Context, asOf time.Time) ([]*models.Invoice, error) {
	return r.query(ctx,
		invoiceSelect+" WHERE i.status IN ('SENT', 'PARTIALLY_PAID') AND i.due_date < $1::date ORDER BY i.due_date ASC",
		asOf.Format("2006-01-02"),
	)
}

func (r *InvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return r.getOne(ctx, r.pool, invoiceSelect+" WHERE i.id = $1", id)
}

func (r *InvoiceRepo) GetByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	return r.getOne(ctx, r.pool, invoiceSelect+" WHERE i.number = $1", number)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *InvoiceRepo) getOne(ctx context.Context, q querier, sql string, arg any) (*models.Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, sql, arg))
	if err != nil {
		return nil, notFound(err)
	}
	if err := loadItems(ctx, q, []*models.Invoice{inv}); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *InvoiceRepo) query(ctx context.Context, sql string, args ...any) ([]*models.Invoice, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	invoices := []*models.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadItems(ctx, r.pool, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func loadItems(ctx context.Context, q querier, invoices []*models.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*models.Invoice, len(invoices))
	ids := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
		ids = append(ids, inv.ID.String())
	}

	rows, err := q.Query(ctx,
		`SELECT invoice_id, id, description, quantity, unit_price, amount
		 FROM invoice_items WHERE invoice_id = ANY($1::uuid[]) ORDER BY invoice_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("failed to load invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var invoiceID uuid.UUID
		var item models.InvoiceItem
		if err := rows.Scan(&invoiceID, &item.ID, &item.Description, &item.Quantity, &item.UnitPrice, &item.Amount); err != nil {
			return err
		}
		if inv, ok := byID[invoiceID]; ok {
			inv.Items = append(inv.Items, item)
		}
	}
	return rows.Err()
}

// Create assigns the id and the next INV-YYYY-NNNN number, computes totals
// and stores the invoice with its items in one transaction.
func (r *InvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialise number allocation.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('invoice_number'))"); err != nil {
		return fmt.Errorf("failed to lock invoice numbering: %w", err)
	}

	now := r.now().UTC()
	year := now.Format("2006")
	var count int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM invoices WHERE number LIKE $1", "INV-"+year+"-%").Scan(&count); err != nil {
		return fmt.Errorf("failed to count invoices: %w", err)
	}

	inv.ID = uuid.New()
	inv.Number = fmt.Sprintf("INV-%s-%04d", year, count+1)
	if inv.Status == "" {
		inv.Status = models.InvoiceDraft
	}
	inv.AmountPaid = 0
	inv.CalculateTotals()
	inv.CreatedAt, inv.UpdatedAt = now, now

	if err := tx.QueryRow(ctx, "SELECT name, email FROM clients WHERE id = $1", inv.ClientID).Scan(&inv.ClientName, &inv.ClientEmail); err != nil {
		return notFound(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO invoices (id, number, client_id, issue_date, due_date, status, subtotal, tax_rate,
			tax_amount, total, amount_paid, balance, notes, created_by_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		inv.ID, inv.Number, inv.ClientID, inv.IssueDate, inv.DueDate, string(inv.Status), inv.Subtotal, inv.TaxRate,
		inv.TaxAmount, inv.Total, inv.AmountPaid, inv.Balance, inv.Notes, inv.CreatedByID, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	for i := range inv.Items {
		inv.Items[i].ID = uuid.New()
		item := inv.Items[i]
		_, err := tx.Exec(ctx,
			`INSERT INTO invoice_items (id, invoice_id, position, description, quantity, unit_price, amount)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, inv.ID, i, item.Description, item.Quantity, item.UnitPrice, item.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// UpdateStatus moves an invoice to status if the lifecycle allows it and
// returns the updated invoice together with its previous status.
func (r *InvoiceRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InvoiceStatus) (*models.Invoice, models.InvoiceStatus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var previous models.InvoiceStatus
	if err := tx.QueryRow(ctx, "SELECT status FROM invoices WHERE id = $1 FOR UPDATE", id).Scan(&previous); err != nil {
		return nil, "", notFound(err)
	}

	if err := models.CheckTransition(previous, status); err != nil {
		return nil, previous, err
	}

	if _, err := tx.Exec(ctx, "UPDATE invoices SET status = $1, updated_at = $2 WHERE id = $3", string(status), r.now().UTC(), id); err != nil {
		return nil, previous, fmt.Errorf("failed to update invoice status: %w", err)
	}

	inv, err := r.getOne(ctx, tx, invoiceSelect+" WHERE i.id = $1", id)
	if err != nil {
		return nil, previous, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, previous, fmt.Errorf("failed to commit status update: %w", err)
	}
	return inv, previous, nil
}

// Delete removes a draft invoice with its items and payments. Issued
// invoices are canceled instead and yield *models.ConflictError.
func (r *InvoiceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.InvoiceStatus
	if err := tx.QueryRow(ctx, "SELECT status FROM invoices WHERE id = $1 FOR UPDATE", id).Scan(&status); err != nil {
		return notFound(err)
	}
	if status != models.InvoiceDraft {
		return &models.ConflictError{Message: "Only draft invoices can be deleted; cancel it instead"}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM invoices WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return tx.Commit(ctx)
}

// ClientHistory summarises a client's non-draft, non-canceled invoices.
// An invoice counts as settled once it is paid or past due, and as late when
// it is overdue, unpaid past its due date, or paid after its due date.
func (r *InvoiceRepo) ClientHistory(ctx context.Context, clientID uuid.UUID) (models.ClientHistory, error) {
	var h models.ClientHistory
	var settled, late int

	err := r.pool.QueryRow(ctx, `
		WITH scoped AS (
			SELECT i.total, i.status, i.due_date,
				(SELECT MAX(p.received_at) FROM payments p
				 WHERE p.invoice_id = i.id AND p.status = 'COMPLETED') AS last_paid
			FROM invoices i
			WHERE i.client_id = $1 AND i.status NOT IN ('DRAFT', 'CANCELED')
		)
		SELECT COUNT(*),
			COALESCE(AVG(total), 0)::float8,
			COUNT(*) FILTER (WHERE status = 'PAID' OR due_date < CURRENT_DATE),
			COUNT(*) FILTER (WHERE status = 'OVERDUE'
				OR (status <> 'PAID' AND due_date < CURRENT_DATE)
				OR (status = 'PAID' AND last_paid::date > due_date))
		FROM scoped
	`, clientID).Scan(&h.InvoiceCount, &h.AvgInvoiceAmount, &settled, &late)
	if err != nil {
		return h, err
	}

	if settled > 0 {
		h.LatePaymentRate = float64(late) / float64(settled)
	}
	return h, nil
}
