package assistant

import (
	"math"
	"time"

	"invoicing-backend/internal/models"
)

// DefaultHistory is used for clients with no invoicing history yet.
var DefaultHistory = models.ClientHistory{LatePaymentRate: 0.2, AvgInvoiceAmount: 500}

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// CalculateRiskScore scores how likely inv is to be paid late, from 0 to 100.
func CalculateRiskScore(inv *models.Invoice, history models.ClientHistory, now time.Time) int {
	score := 0

	switch {
	case history.LatePaymentRate > 0.5:
		score += 40
	case history.LatePaymentRate > 0.25:
		score += 20
	}

	daysUntilDue := math.Floor(inv.DueDate.Sub(now).Hours() / 24)
	switch {
	case daysUntilDue < 0:
		score += 30
	case daysUntilDue < 7:
		score += 15
	}

	switch {
	case inv.Total > history.AvgInvoiceAmount*2:
		score += 20
	case inv.Total > history.AvgInvoiceAmount*1.5:
		score += 10
	}

	return min(max(score, 0), 100)
}

func RiskLevel(score int) string {
	switch {
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	}
	return RiskLow
}
