package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoicing-backend/internal/models"
	"invoicing-backend/internal/repository"
)

const defaultPaymentTermDays = 14

type ClientRepository interface {
	List(ctx context.Context) ([]*models.Client, error)
	Search(ctx context.Context, q string) ([]*models.Client, error)
}

type InvoiceRepository interface {
	List(ctx context.Context) ([]*models.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*models.Invoice, error)
	Create(ctx context.Context, inv *models.Invoice) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.InvoiceStatus) (*models.Invoice, models.InvoiceStatus, error)
}

// StatusPublisher is told about every status change the executor makes.
type StatusPublisher interface {
	InvoiceStatusChanged(ctx context.Context, inv *models.Invoice, previous models.InvoiceStatus)
}

// ActionResult is the outcome of an executed intent. Failures are reported
// through Error, never as a Go error.
type ActionResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failed(msg string) ActionResult {
	return ActionResult{Success: false, Error: msg}
}

type Executor struct {
	clients  ClientRepository
	invoices InvoiceRepository
	events   StatusPublisher
	now      func() time.Time
}

// NewExecutor builds an executor. events may be nil.
func NewExecutor(clients ClientRepository, invoices InvoiceRepository, events StatusPublisher) *Executor {
	return &Executor{clients: clients, invoices: invoices, events: events, now: time.Now}
}

// Execute performs intent on behalf of userID.
func (e *Executor) Execute(ctx context.Context, userID uuid.UUID, intent ParsedIntent) ActionResult {
	switch intent.Action {
	case ActionCreate:
		switch intent.Entity {
		case EntityInvoice:
			return e.createInvoice(ctx, userID, intent.Params)
		default:
			return failed("Unsupported create entity")
		}
	case ActionUpdate:
		switch intent.Entity {
		case EntityInvoice:
			return e.updateInvoiceStatus(ctx, intent.Params)
		default:
			return failed("Unsupported update request")
		}
	case ActionQuery:
		switch intent.Entity {
		case EntityInvoice:
			list, err := e.invoices.List(ctx)
			if err != nil {
				return repoFailure("list invoices", "", err)
			}
			return ActionResult{Success: true, Data: list}
		case EntityClient:
			list, err := e.clients.List(ctx)
			if err != nil {
				return repoFailure("list clients", "", err)
			}
			return ActionResult{Success: true, Data: list}
		default:
			return failed("Unsupported query entity")
		}
	case ActionDelete, ActionReport, ActionNone:
		return failed("Unknown action")
	}
	return failed("Unknown action")
}

func (e *Executor) createInvoice(ctx context.Context, userID uuid.UUID, params map[string]any) ActionResult {
	clientName := strings.TrimSpace(stringParam(params, "clientName"))
	if clientName == "" {
		return failed("clientName is required")
	}

	now := e.now().UTC()
	dueDate := now.AddDate(0, 0, defaultPaymentTermDays)
	if raw := strings.TrimSpace(stringParam(params, "dueDate")); raw != "" {
		parsed, ok := ParseDate(raw)
		if !ok {
			return failed("Invalid due date")
		}
		dueDate = parsed
	}

	matches, err := e.clients.Search(ctx, clientName)
	if err != nil {
		return repoFailure("search clients", "", err)
	}
	if len(matches) == 0 {
		return failed("Client not found")
	}
	client := matches[0]

	description := strings.TrimSpace(stringParam(params, "description"))
	if description == "" {
		description = "Services"
	}

	inv := &models.Invoice{
		ClientID:    client.ID,
		IssueDate:   now,
		DueDate:     dueDate,
		Status:      models.InvoiceDraft,
		CreatedByID: userID,
		Items: []models.InvoiceItem{{
			Description: description,
			Quantity:    1,
			UnitPrice:   numberParam(params, "amount"),
		}},
	}
	if err := e.invoices.Create(ctx, inv); err != nil {
		return repoFailure("create invoice", "Client not found", err)
	}
	return ActionResult{Success: true, Data: inv}
}

func (e *Executor) updateInvoiceStatus(ctx context.Context, params map[string]any) ActionResult {
	ref := strings.TrimSpace(stringParam(params, "id"))
	rawStatus := strings.TrimSpace(stringParam(params, "status"))
	if ref == "" || rawStatus == "" {
		return failed("Invoice id and status are required")
	}

	status, ok := models.ParseInvoiceStatus(strings.ToUpper(rawStatus))
	if !ok {
		return failed("Invalid invoice status")
	}

	id, err := uuid.Parse(ref)
	if err != nil {
		inv, err := e.invoices.GetByNumber(ctx, ref)
		if err != nil {
			return repoFailure("find invoice", "Invoice not found", err)
		}
		id = inv.ID
	}

	updated, previous, err := e.invoices.UpdateStatus(ctx, id, status)
	if err != nil {
		var transitionErr *models.TransitionError
		if errors.As(err, &transitionErr) {
			return failed(transitionErr.Error())
		}
		return repoFailure("update invoice status", "Invoice not found", err)
	}

	if e.events != nil && previous != updated.Status {
		e.events.InvoiceStatusChanged(ctx, updated, previous)
	}
	return ActionResult{Success: true, Data: updated}
}

// repoFailure turns a repository error into a result. Missing rows are
// reported as notFound.
func repoFailure(op, notFound string, err error) ActionResult {
	if errors.Is(err, repository.ErrNotFound) && notFound != "" {
		return failed(notFound)
	}
	log.Printf("assistant: failed to %s: %v", op, err)
	return failed(fmt.Sprintf("Failed to %s", op))
}

// ParseDate accepts RFC 3339 timestamps and plain dates.
func ParseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func stringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// numberParam reads a numeric param given as a number or numeric string,
// returning 0 for anything else.
func numberParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	return 0
}
