package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AdjustmentPending   = "pending"
	AdjustmentApproved  = "approved"
	AdjustmentActivated = "activated"
	AdjustmentActive    = "active"
	AdjustmentExpired   = "expired"
)

// WaiverGrant reduces the dues of the obligations it targets by a percentage of
// each remaining component. The Max* fields are budgets shared by every
// obligation under the same request.
type WaiverGrant struct {
	RequestID        string          `json:"request_id"`
	BorrowerID       string          `json:"borrower_id"`
	ObligationIDs    []string        `json:"obligation_ids"`
	PrincipalPercent decimal.Decimal `json:"principal_percent"`
	InterestPercent  decimal.Decimal `json:"interest_percent"`
	LateFeePercent   decimal.Decimal `json:"late_fee_percent"`
	MaxPrincipal     int64           `json:"max_principal"`
	MaxInterest      int64           `json:"max_interest"`
	MaxLateFee       int64           `json:"max_late_fee"`
	Status           string          `json:"status"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Targets reports whether the grant covers the obligation.
func (w *WaiverGrant) Targets(obligationID string) bool {
	for _, id := range w.ObligationIDs {
		if id == obligationID {
			return true
		}
	}
	return false
}

// IsActiveAt reports whether the grant can be applied at the given time.
func (w *WaiverGrant) IsActiveAt(at time.Time) bool {
	if w.Status != AdjustmentActive {
		return false
	}
	return w.ExpiresAt == nil || at.Before(*w.ExpiresAt)
}

// WaiverAmounts holds per-component waiver figures, used both for budgets and
// for what was consumed.
type WaiverAmounts struct {
	Principal int64 `json:"principal"`
	Interest  int64 `json:"interest"`
	LateFee   int64 `json:"late_fee"`
}

func (w WaiverAmounts) Total() int64 { return w.Principal + w.Interest + w.LateFee }

func (w WaiverAmounts) IsZero() bool { return w.Total() == 0 }

// Budget returns what is left of the grant after the consumed amounts.
func (w *WaiverGrant) Budget(consumed WaiverAmounts) WaiverAmounts {
	return WaiverAmounts{
		Principal: nonNegative(w.MaxPrincipal - consumed.Principal),
		Interest:  nonNegative(w.MaxInterest - consumed.Interest),
		LateFee:   nonNegative(w.MaxLateFee - consumed.LateFee),
	}
}

// WaiverApplication marks one waiver applied to one obligation.
type WaiverApplication struct {
	RequestID    string        `json:"request_id"`
	ObligationID string        `json:"obligation_id"`
	SettlementID string        `json:"settlement_id"`
	Amounts      WaiverAmounts `json:"amounts"`
	CreatedAt    time.Time     `json:"created_at"`
}

// RestructuringPlan replaces a borrower's outstanding installments with a new
// schedule once the first qualifying settlement after approval arrives.
type RestructuringPlan struct {
	RequestID               string    `json:"request_id"`
	BorrowerID              string    `json:"borrower_id"`
	LoanID                  string    `json:"loan_id"`
	Status                  string    `json:"status"`
	ApprovedAt              time.Time `json:"approved_at"`
	ActivationMinimumAmount int64     `json:"activation_minimum_amount"`
	Tenure                  int       `json:"tenure"`
	FirstDueDate            time.Time `json:"first_due_date"`
	IntervalMonths          int       `json:"interval_months"`
	NewPrincipal            int64     `json:"new_principal"`
	NewInterest             int64     `json:"new_interest"`
	NewLateFee              int64     `json:"new_late_fee"`
	CreatedAt               time.Time `json:"created_at"`
}

// ActivatedBy reports whether the notification satisfies the activation
// condition: settled at or after approval for at least the minimum amount.
func (p *RestructuringPlan) ActivatedBy(n SettlementNotification) bool {
	if p.Status != AdjustmentApproved {
		return false
	}
	if n.SettledAt.Before(p.ApprovedAt) {
		return false
	}
	return n.Amount >= p.ActivationMinimumAmount
}

// DueDateFor returns the due date of the i-th (zero based) new installment.
func (p *RestructuringPlan) DueDateFor(i int) time.Time {
	interval := p.IntervalMonths
	if interval <= 0 {
		interval = 1
	}
	return p.FirstDueDate.AddDate(0, i*interval, 0)
}

// RestructuringActivation is the one-shot marker written when a plan is
// activated.
type RestructuringActivation struct {
	RequestID    string    `json:"request_id"`
	BorrowerID   string    `json:"borrower_id"`
	SettlementID string    `json:"settlement_id"`
	ActivatedAt  time.Time `json:"activated_at"`
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
