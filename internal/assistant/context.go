package assistant

import (
	"strconv"
	"strings"

	"invoicing-backend/internal/models"
)

// InferPage classifies a navigation path. Detail paths are checked before
// list paths since "/invoices/<id>" also contains "/invoices".
func InferPage(path string) models.Page {
	switch {
	case strings.Contains(path, "/invoices/create"):
		return models.PageInvoiceList
	case segmentAfter(path, "/invoices/") != "":
		return models.PageInvoiceDetail
	case strings.Contains(path, "/invoices"):
		return models.PageInvoiceList
	case strings.Contains(path, "/clients/create"):
		return models.PageClientList
	case segmentAfter(path, "/clients/") != "":
		return models.PageClientDetail
	case strings.Contains(path, "/clients"):
		return models.PageClientList
	}
	return models.PageDashboard
}

// ContextFromPath builds the chat context for a path, capturing the id of
// the entity shown on a detail page.
func ContextFromPath(path string) models.ChatContext {
	ctx := models.ChatContext{Page: InferPage(path)}
	switch ctx.Page {
	case models.PageInvoiceDetail:
		ctx.SelectedInvoice = &models.SelectedInvoice{ID: segmentAfter(path, "/invoices/")}
	case models.PageClientDetail:
		ctx.SelectedClient = &models.SelectedClient{ID: segmentAfter(path, "/clients/")}
	}
	return ctx
}

// segmentAfter returns the path segment following marker, or "".
func segmentAfter(path, marker string) string {
	idx := strings.Index(path, marker)
	if idx < 0 {
		return ""
	}
	rest := path[idx+len(marker):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func BuildSystemPrompt(ctx models.ChatContext) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant for an invoicing system.")
	b.WriteString("\nCURRENT CONTEXT:\n- User is viewing: ")
	b.WriteString(string(ctx.Page))

	if inv := ctx.SelectedInvoice; inv != nil {
		b.WriteString("\n- Invoice: ")
		b.WriteString(orDefault(inv.Number, inv.ID))
		b.WriteString("\n- Client: ")
		b.WriteString(orDefault(inv.ClientName, ""))
		b.WriteString("\n- Status: ")
		b.WriteString(orDefault(inv.Status, ""))
		b.WriteString("\n- Total: $")
		if inv.Total != nil {
			b.WriteString(strconv.FormatFloat(*inv.Total, 'f', -1, 64))
		}
	}

	if c := ctx.SelectedClient; c != nil {
		b.WriteString("\n- Client: ")
		b.WriteString(orDefault(c.Name, c.ID))
	}

	b.WriteString("\n\nAVAILABLE ACTIONS:\n1. Query data\n2. Create invoice\n3. Update status")
	b.WriteString("\n\nIf user says \"this invoice\" or \"this client\", refer to the context above.")
	return b.String()
}

const actionContract = `

Reply ONLY with a JSON object describing the action to take:
{"action": "query|create|update|none", "entity": "invoice|client|payment", "params": {...}}
To create an invoice use params clientName, amount, description and dueDate (YYYY-MM-DD).
To update an invoice status use params id (invoice id or number) and status (DRAFT, SENT, PARTIALLY_PAID, PAID, OVERDUE, CANCELED).
Use {"action": "none"} when no action applies.`

// BuildActionPrompt extends the system prompt with the structured reply
// format ParseIntent understands.
func BuildActionPrompt(ctx models.ChatContext) string {
	return BuildSystemPrompt(ctx) + actionContract
}

func orDefault(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}

// BindSelection points an invoice update that names no invoice at the
// selected one, so "mark this as paid" resolves. An id the model did give,
// in any JSON type, is kept.
func BindSelection(intent *ParsedIntent, ctx models.ChatContext) {
	if intent.Action != ActionUpdate || intent.Entity != EntityInvoice || ctx.SelectedInvoice == nil {
		return
	}
	if intent.Params == nil {
		intent.Params = map[string]any{}
	}
	if strings.TrimSpace(stringParam(intent.Params, "id")) == "" {
		intent.Params["id"] = ctx.SelectedInvoice.ID
	}
}
