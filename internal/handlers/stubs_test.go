package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"invoicing-backend/internal/assistant"
	"invoicing-backend/internal/llm"
	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/models"
	"invoicing-backend/internal/repository"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func withUser(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}

func withParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type stubClientRepo struct {
	clients     []*models.Client
	created     *models.Client
	updated     *models.Client
	deleted     uuid.UUID
	lastSearch  string
	searchCalls int
	err         error
}

func (s *stubClientRepo) Create(_ context.Context, c *models.Client) error {
	if s.err != nil {
		return s.err
	}
	c.ID = uuid.New()
	s.created = c
	return nil
}

func (s *stubClientRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Client, error) {
	for _, c := range s.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubClientRepo) List(context.Context) ([]*models.Client, error) {
	return s.clients, s.err
}

func (s *stubClientRepo) Search(_ context.Context, q string) ([]*models.Client, error) {
	s.searchCalls++
	s.lastSearch = q
	return s.clients, s.err
}

func (s *stubClientRepo) Update(_ context.Context, c *models.Client) error {
	if s.err != nil {
		return s.err
	}
	if _, err := s.GetByID(context.Background(), c.ID); err != nil {
		return err
	}
	s.updated = c
	return nil
}

func (s *stubClientRepo) Delete(_ context.Context, id uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	s.deleted = id
	return nil
}

type stubInvoiceRepo struct {
	invoices     []*models.Invoice
	history      models.ClientHistory
	historyErr   error
	created      *models.Invoice
	createErr    error
	lastStatus   models.InvoiceStatus
	listedStatus models.InvoiceStatus
	updateErr    error
	deleted      uuid.UUID
}

func (s *stubInvoiceRepo) List(context.Context) ([]*models.Invoice, error) {
	return s.invoices, nil
}

func (s *stubInvoiceRepo) ListByStatus(_ context.Context, status models.InvoiceStatus) ([]*models.Invoice, error) {
	s.listedStatus = status
	var out []*models.Invoice
	for _, inv := range s.invoices {
		if inv.Status == status {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *stubInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	for _, inv := range s.invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubInvoiceRepo) GetByNumber(_ context.Context, number string) (*models.Invoice, error) {
	for _, inv := range s.invoices {
		if inv.Number == number {
			return inv, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubInvoiceRepo) Create(_ context.Context, inv *models.Invoice) error {
	if s.createErr != nil {
		return s.createErr
	}
	inv.ID = uuid.New()
	inv.Number = "INV-2026-0001"
	if inv.Status == "" {
		inv.Status = models.InvoiceDraft
	}
	inv.CalculateTotals()
	s.created = inv
	return nil
}

func (s *stubInvoiceRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.InvoiceStatus) (*models.Invoice, models.InvoiceStatus, error) {
	s.lastStatus = status
	if s.updateErr != nil {
		return nil, "", s.updateErr
	}
	inv, err := s.GetByID(context.Background(), id)
	if err != nil {
		return nil, "", err
	}
	previous := inv.Status
	if err := models.CheckTransition(previous, status); err != nil {
		return nil, "", err
	}
	updated := *inv
	updated.Status = status
	return &updated, previous, nil
}

func (s *stubInvoiceRepo) Delete(_ context.Context, id uuid.UUID) error {
	inv, err := s.GetByID(context.Background(), id)
	if err != nil {
		return err
	}
	if inv.Status != models.InvoiceDraft {
		return &models.ConflictError{Message: "Only draft invoices can be deleted; cancel it instead"}
	}
	s.deleted = id
	return nil
}

func (s *stubInvoiceRepo) ClientHistory(context.Context, uuid.UUID) (models.ClientHistory, error) {
	return s.history, s.historyErr
}

type stubPaymentRepo struct {
	payments []*models.Payment
	lastReq  *models.RecordPaymentRequest
	since    time.Time
	invoice  *models.Invoice
	err      error
}

func (s *stubPaymentRepo) List(context.Context) ([]*models.Payment, error) {
	return s.payments, nil
}

func (s *stubPaymentRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubPaymentRepo) ListSince(_ context.Context, since time.Time) ([]*models.Payment, error) {
	s.since = since
	return s.payments, nil
}

func (s *stubPaymentRepo) Record(_ context.Context, req models.RecordPaymentRequest) (*models.Payment, *models.Invoice, error) {
	s.lastReq = &req
	if s.err != nil {
		return nil, nil, s.err
	}
	p := &models.Payment{ID: uuid.New(), InvoiceID: req.InvoiceID, Amount: req.Amount, Method: req.Method, Status: req.Status}
	return p, s.invoice, nil
}

func (s *stubPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	for _, p := range s.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

// UpdateStatus and Delete settle against the stub's single invoice.
func (s *stubPaymentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PaymentStatus) (*models.Payment, *models.Invoice, models.InvoiceStatus, error) {
	p, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, nil, "", err
	}
	previous := s.invoice.Status
	if err := models.ChangePaymentStatus(s.invoice, p, status); err != nil {
		return nil, nil, previous, err
	}
	return p, s.invoice, previous, nil
}

func (s *stubPaymentRepo) Delete(ctx context.Context, id uuid.UUID) (*models.Payment, *models.Invoice, models.InvoiceStatus, error) {
	p, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, nil, "", err
	}
	previous := s.invoice.Status
	if err := models.RemovePayment(s.invoice, p); err != nil {
		return nil, nil, previous, err
	}
	removed := *p
	removed.Status = models.PaymentReversed
	return &removed, s.invoice, previous, nil
}

type stubEvents struct {
	statusChanges []models.InvoiceStatus
	payments      []*models.Payment
}

func (s *stubEvents) InvoiceStatusChanged(_ context.Context, inv *models.Invoice, previous models.InvoiceStatus) {
	s.statusChanges = append(s.statusChanges, previous, inv.Status)
}

func (s *stubEvents) PaymentRecorded(_ context.Context, _ *models.Invoice, p *models.Payment) {
	s.payments = append(s.payments, p)
}

type stubQueue struct {
	userID    uuid.UUID
	invoiceID uuid.UUID
	err       error
}

func (s *stubQueue) EnqueueReminder(_ context.Context, userID, invoiceID uuid.UUID) (*models.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.userID, s.invoiceID = userID, invoiceID
	return &models.Job{ID: uuid.New(), UserID: userID, Type: models.JobInvoiceReminder, ReferenceID: invoiceID}, nil
}

type stubProvider struct {
	reply        string
	chunks       []string
	err          error
	lastSystem   string
	lastMessages []models.ChatMessage
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(_ context.Context, messages []models.ChatMessage, systemPrompt string, _ llm.Options) (string, error) {
	p.lastMessages, p.lastSystem = messages, systemPrompt
	return p.reply, p.err
}

func (p *stubProvider) Stream(_ context.Context, messages []models.ChatMessage, systemPrompt string, _ llm.Options) (<-chan string, error) {
	p.lastMessages, p.lastSystem = messages, systemPrompt
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan string, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type stubExecutor struct {
	calls  int
	intent assistant.ParsedIntent
	userID uuid.UUID
}

func (e *stubExecutor) Execute(_ context.Context, userID uuid.UUID, intent assistant.ParsedIntent) assistant.ActionResult {
	e.calls++
	e.intent, e.userID = intent, userID
	return assistant.ActionResult{Success: true, Data: "done"}
}
