package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoicing-backend/internal/assistant"
	"invoicing-backend/internal/llm"
	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/models"
)

const (
	greetingSystemPrompt = "You write friendly business greetings."
	greetingFallback     = "Welcome back."
	recentPaymentWindow  = 7 * 24 * time.Hour
	defaultPaymentDays   = 30
)

type AIHandler struct {
	provider    llm.Provider
	executor    actionExecutor
	clientRepo  clientRepository
	invoiceRepo invoiceRepository
	paymentRepo paymentRepository
	autoExecute float64
	maxTokens   int
	now         func() time.Time
}

type actionExecutor interface {
	Execute(ctx context.Context, userID uuid.UUID, intent assistant.ParsedIntent) assistant.ActionResult
}

type AIHandlerConfig struct {
	AutoExecuteConfidence float64
	MaxTokens             int
}

func NewAIHandler(provider llm.Provider, executor actionExecutor, clientRepo clientRepository, invoiceRepo invoiceRepository, paymentRepo paymentRepository, cfg AIHandlerConfig) *AIHandler {
	return &AIHandler{
		provider:    provider,
		executor:    executor,
		clientRepo:  clientRepo,
		invoiceRepo: invoiceRepo,
		paymentRepo: paymentRepo,
		autoExecute: cfg.AutoExecuteConfidence,
		maxTokens:   cfg.MaxTokens,
		now:         time.Now,
	}
}

// writeAIError reports a provider failure. Nothing is written when the caller
// has gone away.
func writeAIError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	if errors.Is(err, llm.ErrCircuitOpen) {
		writeJSON(w, http.StatusServiceUnavailable, errorResp("AI_ERROR", "AI provider is temporarily unavailable", r))
		return
	}
	log.Printf("AI provider error on %s: %v", r.URL.Path, err)
	writeJSON(w, http.StatusInternalServerError, errorResp("AI_ERROR", "Failed to get AI response", r))
}

// Chat streams the assistant's reply as raw text chunks.
func (h *AIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Message is required", r))
		return
	}

	chatCtx := h.resolveContext(r.Context(), req.Context)
	messages := append(cleanHistory(req.ConversationHistory), models.ChatMessage{
		Role:      models.RoleUser,
		Content:   message,
		Timestamp: h.now().UnixMilli(),
	})

	stream, err := h.provider.Stream(r.Context(), messages, assistant.BuildSystemPrompt(chatCtx), llm.Options{MaxTokens: h.maxTokens})
	if err != nil {
		writeAIError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	// Replies can outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for chunk := range stream {
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		_ = rc.Flush()
	}
}

// cleanHistory drops messages with unknown roles or no text.
func cleanHistory(history []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// resolveContext fills in selection details the caller only sent ids for.
// Lookup failures leave the context as sent.
func (h *AIHandler) resolveContext(ctx context.Context, in *models.ChatContext) models.ChatContext {
	chatCtx := models.ChatContext{Page: models.PageDashboard}
	if in != nil {
		chatCtx = *in
		if chatCtx.Page == "" {
			chatCtx.Page = models.PageDashboard
		}
	}

	if sel := chatCtx.SelectedInvoice; sel != nil && sel.Number == nil && sel.ID != "" {
		var inv *models.Invoice
		var err error
		if id, parseErr := uuid.Parse(sel.ID); parseErr == nil {
			inv, err = h.invoiceRepo.GetByID(ctx, id)
		} else {
			inv, err = h.invoiceRepo.GetByNumber(ctx, sel.ID)
		}
		if err == nil {
			status := string(inv.Status)
			total := inv.Total
			chatCtx.SelectedInvoice = &models.SelectedInvoice{
				ID:         inv.ID.String(),
				Number:     &inv.Number,
				Status:     &status,
				Total:      &total,
				ClientName: &inv.ClientName,
			}
		}
	}

	if sel := chatCtx.SelectedClient; sel != nil && sel.Name == nil {
		if id, err := uuid.Parse(sel.ID); err == nil {
			if client, err := h.clientRepo.GetByID(ctx, id); err == nil {
				chatCtx.SelectedClient = &models.SelectedClient{ID: client.ID.String(), Name: &client.Name}
			}
		}
	}
	return chatCtx
}

func (h *AIHandler) Greeting(w http.ResponseWriter, r *http.Request) {
	overdue, err := h.invoiceRepo.ListByStatus(r.Context(), models.InvoiceOverdue)
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	payments, err := h.paymentRepo.ListSince(r.Context(), h.now().Add(-recentPaymentWindow))
	if err != nil {
		handleRepoError(w, r, err, "Payment not found")
		return
	}

	prompt := fmt.Sprintf("Generate a concise dashboard greeting. Recent payments: %d. Overdue invoices: %d.", len(payments), len(overdue))
	text, err := h.provider.Complete(r.Context(),
		[]models.ChatMessage{{Role: models.RoleUser, Content: prompt}},
		greetingSystemPrompt,
		llm.Options{MaxTokens: h.maxTokens},
	)
	if err != nil {
		writeAIError(w, r, err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = greetingFallback
	}

	writeJSON(w, http.StatusOK, models.GreetingResponse{
		Message: text,
		Summary: models.GreetingSummary{
			NewPayments:     len(payments),
			OverdueInvoices: len(overdue),
			ActionItems:     len(overdue),
		},
	})
}

func (h *AIHandler) RiskScore(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "invoiceId")
	if !ok {
		return
	}
	inv, err := h.invoiceRepo.GetByID(r.Context(), id)
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}

	history, err := h.invoiceRepo.ClientHistory(r.Context(), inv.ClientID)
	if err != nil {
		log.Printf("risk score: client history for %s: %v", inv.ClientID, err)
		history = assistant.DefaultHistory
	} else if history.InvoiceCount == 0 {
		history = assistant.DefaultHistory
	}

	score := assistant.CalculateRiskScore(inv, history, h.now())
	writeJSON(w, http.StatusOK, models.RiskScoreResponse{
		InvoiceID: inv.ID.String(),
		RiskLevel: assistant.RiskLevel(score),
		Score:     score,
	})
}

func (h *AIHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	overdue, err := h.invoiceRepo.ListByStatus(r.Context(), models.InvoiceOverdue)
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	clients, err := h.clientRepo.List(r.Context())
	if err != nil {
		handleRepoError(w, r, err, "Client not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": assistant.Suggest(overdue, clients),
	})
}

func (h *AIHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	var invoices []*models.Invoice
	var payments []*models.Payment
	var err error
	switch assistant.ClassifyAnalytics(q) {
	case assistant.AnalyticsAveragePaymentTime:
		if invoices, err = h.invoiceRepo.List(r.Context()); err == nil {
			payments, err = h.paymentRepo.List(r.Context())
		}
	case assistant.AnalyticsRevenueTrend:
		payments, err = h.paymentRepo.List(r.Context())
	case assistant.AnalyticsTopClients:
		invoices, err = h.invoiceRepo.List(r.Context())
	}
	if err != nil {
		handleRepoError(w, r, err, "Not found")
		return
	}

	writeJSON(w, http.StatusOK, assistant.Analyze(q, invoices, payments, h.now()))
}

// Autofill suggests defaults for a new invoice to the client.
func (h *AIHandler) Autofill(w http.ResponseWriter, r *http.Request) {
	clientID, ok := idParam(w, r, "clientId")
	if !ok {
		return
	}
	client, err := h.clientRepo.GetByID(r.Context(), clientID)
	if err != nil {
		handleRepoError(w, r, err, "Client not found")
		return
	}

	invoices, err := h.invoiceRepo.List(r.Context())
	if err != nil {
		handleRepoError(w, r, err, "Invoice not found")
		return
	}
	payments, err := h.paymentRepo.List(r.Context())
	if err != nil {
		handleRepoError(w, r, err, "Payment not found")
		return
	}

	var own []*models.Invoice
	for _, inv := range invoices {
		if inv.ClientID == client.ID {
			own = append(own, inv)
		}
	}
	days, known := assistant.AveragePaymentDays(own, payments)
	if !known {
		days = defaultPaymentDays
	}
	writeJSON(w, http.StatusOK, assistant.SuggestAutofill(client, days))
}

type actionRequest struct {
	Message string              `json:"message"`
	Context *models.ChatContext `json:"context,omitempty"`
}

type actionResponse struct {
	Intent               assistant.ParsedIntent  `json:"intent"`
	Result               *assistant.ActionResult `json:"result,omitempty"`
	RequiresConfirmation bool                    `json:"requiresConfirmation"`
}

// Actions interprets message as an action. Confident intents run at once;
// the rest are returned for confirmation.
func (h *AIHandler) Actions(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Message is required", r))
		return
	}

	chatCtx := h.resolveContext(r.Context(), req.Context)
	text, err := h.provider.Complete(r.Context(),
		[]models.ChatMessage{{Role: models.RoleUser, Content: message, Timestamp: h.now().UnixMilli()}},
		assistant.BuildActionPrompt(chatCtx),
		llm.Options{MaxTokens: h.maxTokens},
	)
	if err != nil {
		writeAIError(w, r, err)
		return
	}

	intent := assistant.ParseIntent(text)
	assistant.BindSelection(&intent, chatCtx)

	if intent.Action == assistant.ActionNone || intent.Confidence < h.autoExecute {
		writeJSON(w, http.StatusOK, actionResponse{Intent: intent, RequiresConfirmation: intent.Action != assistant.ActionNone})
		return
	}
	result := h.executor.Execute(r.Context(), middleware.GetUserID(r.Context()), intent)
	writeJSON(w, http.StatusOK, actionResponse{Intent: intent, Result: &result})
}

type executeRequest struct {
	Intent assistant.ParsedIntent `json:"intent"`
}

// ExecuteAction runs an intent the user confirmed.
func (h *AIHandler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if req.Intent.Action == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Intent action is required", r))
		return
	}

	result := h.executor.Execute(r.Context(), middleware.GetUserID(r.Context()), req.Intent)
	writeJSON(w, http.StatusOK, actionResponse{Intent: req.Intent, Result: &result})
}
