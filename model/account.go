package model

import "time"

const (
	AccountActive  = "active"
	AccountSettled = "settled"
)

// Account is the borrower-level aggregate kept in step with the obligations.
type Account struct {
	BorrowerID         string    `json:"borrower_id"`
	TotalOutstanding   int64     `json:"total_outstanding"`
	TotalPaid          int64     `json:"total_paid"`
	TotalWaived        int64     `json:"total_waived"`
	UnallocatedBalance int64     `json:"unallocated_balance"`
	Status             string    `json:"status"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Refresh recomputes the outstanding total and status from the obligations.
func (a *Account) Refresh(obligations []Obligation) {
	var outstanding int64
	for i := range obligations {
		if obligations[i].IsOutstanding() {
			outstanding += obligations[i].Remaining()
		}
	}
	a.TotalOutstanding = outstanding
	a.Status = AccountActive
	if outstanding == 0 {
		a.Status = AccountSettled
	}
}
