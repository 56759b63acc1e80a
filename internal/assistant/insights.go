package assistant

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoicing-backend/internal/models"
)

const (
	maxOverdueSuggestions = 3
	maxClientSuggestions  = 2
	topClientCount        = 5
	trendMonths           = 6
)

// Suggest proposes follow-ups for overdue invoices and new invoices for
// clients.
func Suggest(invoices []*models.Invoice, clients []*models.Client) []models.Suggestion {
	suggestions := []models.Suggestion{}

	overdue := 0
	for _, inv := range invoices {
		if overdue == maxOverdueSuggestions {
			break
		}
		if inv.Status != models.InvoiceOverdue {
			continue
		}
		overdue++
		suggestions = append(suggestions, models.Suggestion{
			Type:   "follow_up",
			Title:  fmt.Sprintf("Invoice #%s is overdue", inv.Number),
			Action: map[string]any{"type": "draft_reminder", "invoiceId": inv.ID},
		})
	}

	for i, c := range clients {
		if i == maxClientSuggestions {
			break
		}
		suggestions = append(suggestions, models.Suggestion{
			Type:   "invoice_opportunity",
			Title:  fmt.Sprintf("%s may need a new invoice", c.Name),
			Action: map[string]any{"type": "create_invoice", "clientId": c.ID},
		})
	}
	return suggestions
}

type AnalyticsKind string

const (
	AnalyticsAveragePaymentTime AnalyticsKind = "average_payment_time"
	AnalyticsRevenueTrend       AnalyticsKind = "revenue_trend"
	AnalyticsTopClients         AnalyticsKind = "top_clients"
	AnalyticsUnknown            AnalyticsKind = "unknown"
)

func ClassifyAnalytics(q string) AnalyticsKind {
	t := strings.ToLower(q)
	switch {
	case strings.Contains(t, "average payment time"):
		return AnalyticsAveragePaymentTime
	case strings.Contains(t, "revenue trend"):
		return AnalyticsRevenueTrend
	case strings.Contains(t, "top clients") || strings.Contains(t, "most profitable"):
		return AnalyticsTopClients
	}
	return AnalyticsUnknown
}

type MonthlyRevenue struct {
	Month   string  `json:"month"`
	Revenue float64 `json:"revenue"`
}

type ClientRevenue struct {
	Name         string  `json:"name"`
	TotalRevenue float64 `json:"totalRevenue"`
}

// Analyze answers an analytics question from invoice and payment data.
func Analyze(q string, invoices []*models.Invoice, payments []*models.Payment, now time.Time) models.AnalyticsResponse {
	switch ClassifyAnalytics(q) {
	case AnalyticsAveragePaymentTime:
		days, ok := AveragePaymentDays(invoices, payments)
		if !ok {
			return models.AnalyticsResponse{Answer: "No completed payments yet."}
		}
		return models.AnalyticsResponse{Answer: fmt.Sprintf("Average payment time is %d days.", days)}
	case AnalyticsRevenueTrend:
		return models.AnalyticsResponse{
			Answer: "Revenue trend for last 6 months.",
			Visualization: &models.Visualization{
				Type: "line", Data: revenueTrend(payments, now), XAxis: "month", YAxis: "revenue",
			},
		}
	case AnalyticsTopClients:
		return models.AnalyticsResponse{
			Answer: "Top clients by revenue.",
			Visualization: &models.Visualization{
				Type: "bar", Data: topClients(invoices), XAxis: "name", YAxis: "totalRevenue",
			},
		}
	}
	return models.AnalyticsResponse{Answer: "Unsupported analytics query"}
}

// AveragePaymentDays is the mean number of days from issue date to receipt
// over completed payments whose invoice is in invoices.
func AveragePaymentDays(invoices []*models.Invoice, payments []*models.Payment) (int, bool) {
	issued := make(map[uuid.UUID]time.Time, len(invoices))
	for _, inv := range invoices {
		issued[inv.ID] = inv.IssueDate
	}

	var total float64
	var n int
	for _, p := range payments {
		if p.Status != models.PaymentCompleted {
			continue
		}
		issue, ok := issued[p.InvoiceID]
		if !ok {
			continue
		}
		total += math.Max(p.ReceivedAt.Sub(issue).Hours()/24, 0)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(total / float64(n))), true
}

func revenueTrend(payments []*models.Payment, now time.Time) []MonthlyRevenue {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(trendMonths - 1), 0)

	months := make([]MonthlyRevenue, trendMonths)
	index := make(map[string]int, trendMonths)
	for i := range months {
		key := start.AddDate(0, i, 0).Format("2006-01")
		months[i] = MonthlyRevenue{Month: key}
		index[key] = i
	}

	for _, p := range payments {
		if p.Status != models.PaymentCompleted {
			continue
		}
		if i, ok := index[p.ReceivedAt.UTC().Format("2006-01")]; ok {
			months[i].Revenue = math.Round((months[i].Revenue+p.Amount)*100) / 100
		}
	}
	return months
}

func topClients(invoices []*models.Invoice) []ClientRevenue {
	totals := map[string]float64{}
	for _, inv := range invoices {
		if inv.Status == models.InvoiceDraft || inv.Status == models.InvoiceCanceled {
			continue
		}
		totals[inv.ClientName] += inv.Total
	}

	out := make([]ClientRevenue, 0, len(totals))
	for name, total := range totals {
		out = append(out, ClientRevenue{Name: name, TotalRevenue: math.Round(total*100) / 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRevenue != out[j].TotalRevenue {
			return out[i].TotalRevenue > out[j].TotalRevenue
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > topClientCount {
		out = out[:topClientCount]
	}
	return out
}

// Autofill holds suggested defaults for a new invoice to a client.
type Autofill struct {
	TaxRate          float64        `json:"taxRate"`
	TaxExplanation   string         `json:"taxExplanation"`
	PaymentTerms     string         `json:"paymentTerms"`
	TermsExplanation string         `json:"termsExplanation"`
	ClientDetails    *models.Client `json:"clientDetails"`
}

// SuggestAutofill proposes tax and payment terms for client. avgPaymentDays
// is the client's average payment time, or 30 when unknown.
func SuggestAutofill(client *models.Client, avgPaymentDays int) Autofill {
	terms := "NET-15"
	if avgPaymentDays > 30 {
		terms = "NET-30"
	}
	return Autofill{
		TaxRate:          0,
		TaxExplanation:   "Using 0% tax from Default for N/A.",
		PaymentTerms:     terms,
		TermsExplanation: fmt.Sprintf("Suggesting %s based on average payment time of %d days.", terms, avgPaymentDays),
		ClientDetails:    client,
	}
}
