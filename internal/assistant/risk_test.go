package assistant

import (
	"testing"
	"time"

	"invoicing-backend/internal/models"
)

func TestCalculateRiskScore(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		dueIn   time.Duration
		total   float64
		history models.ClientHistory
		score   int
		level   string
	}{
		{
			name:    "overdue, large, frequently late",
			dueIn:   -5 * 24 * time.Hour,
			total:   1500,
			history: models.ClientHistory{LatePaymentRate: 0.6, AvgInvoiceAmount: 500},
			score:   90,
			level:   RiskHigh,
		},
		{
			name:    "comfortable",
			dueIn:   20 * 24 * time.Hour,
			total:   500,
			history: models.ClientHistory{LatePaymentRate: 0.1, AvgInvoiceAmount: 500},
			score:   0,
			level:   RiskLow,
		},
		{
			name:    "due soon, moderately late, somewhat large",
			dueIn:   3 * 24 * time.Hour,
			total:   800,
			history: models.ClientHistory{LatePaymentRate: 0.3, AvgInvoiceAmount: 500},
			score:   45,
			level:   RiskMedium,
		},
		{
			name:    "due later today counts as not overdue",
			dueIn:   2 * time.Hour,
			total:   100,
			history: DefaultHistory,
			score:   15,
			level:   RiskLow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inv := &models.Invoice{DueDate: now.Add(tc.dueIn), Total: tc.total}
			score := CalculateRiskScore(inv, tc.history, now)
			if score != tc.score {
				t.Fatalf("expected score %d, got %d", tc.score, score)
			}
			if level := RiskLevel(score); level != tc.level {
				t.Fatalf("expected level %s, got %s", tc.level, level)
			}
		})
	}
}

func TestRiskLevelBoundaries(t *testing.T) {
	cases := map[int]string{0: RiskLow, 29: RiskLow, 30: RiskMedium, 59: RiskMedium, 60: RiskHigh, 100: RiskHigh}
	for score, want := range cases {
		if got := RiskLevel(score); got != want {
			t.Errorf("RiskLevel(%d) = %s, want %s", score, got, want)
		}
	}
}
