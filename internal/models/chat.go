package models

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage represents a single message in a conversation.
// Timestamp is Unix milliseconds.
type ChatMessage struct {
	Role      ChatRole `json:"role"`
	Content   string   `json:"content"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

type Page string

const (
	PageDashboard     Page = "dashboard"
	PageInvoiceList   Page = "invoice-list"
	PageInvoiceDetail Page = "invoice-detail"
	PageClientList    Page = "client-list"
	PageClientDetail  Page = "client-detail"
)

type SelectedInvoice struct {
	ID         string   `json:"id"`
	Number     *string  `json:"number,omitempty"`
	Status     *string  `json:"status,omitempty"`
	Total      *float64 `json:"total,omitempty"`
	ClientName *string  `json:"clientName,omitempty"`
}

type SelectedClient struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

// ChatContext is the navigation state embedded in the system prompt.
type ChatContext struct {
	Page            Page             `json:"page"`
	SelectedInvoice *SelectedInvoice `json:"selectedInvoice,omitempty"`
	SelectedClient  *SelectedClient  `json:"selectedClient,omitempty"`
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Message             string        `json:"message"`
	ConversationHistory []ChatMessage `json:"conversationHistory"`
	Context             *ChatContext  `json:"context,omitempty"`
}

type GreetingSummary struct {
	NewPayments     int `json:"newPayments"`
	OverdueInvoices int `json:"overdueInvoices"`
	ActionItems     int `json:"actionItems"`
}

type GreetingResponse struct {
	Message string          `json:"message"`
	Summary GreetingSummary `json:"summary"`
}

type RiskScoreResponse struct {
	InvoiceID string `json:"invoiceId"`
	RiskLevel string `json:"riskLevel"`
	Score     int    `json:"score"`
}

type Suggestion struct {
	Type   string         `json:"type"`
	Title  string         `json:"title"`
	Action map[string]any `json:"action"`
}

type Visualization struct {
	Type  string `json:"type"`
	Data  any    `json:"data"`
	XAxis string `json:"xAxis"`
	YAxis string `json:"yAxis"`
}

type AnalyticsResponse struct {
	Answer        string         `json:"answer"`
	Visualization *Visualization `json:"visualization"`
}
