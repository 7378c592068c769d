package model

import (
	"fmt"
	"time"
)

type ObligationStatus string

const (
	ObligationUnpaid        ObligationStatus = "unpaid"
	ObligationPartiallyPaid ObligationStatus = "partially_paid"
	ObligationPaid          ObligationStatus = "paid"
	ObligationPaidLate      ObligationStatus = "paid_late"
	ObligationRestructured  ObligationStatus = "restructured"
	ObligationVoid          ObligationStatus = "void"
)

// Obligation is one scheduled installment owed by a borrower.
type Obligation struct {
	ID             string           `json:"obligation_id"`
	LoanID         string           `json:"loan_id"`
	BorrowerID     string           `json:"borrower_id"`
	SequenceNumber int              `json:"sequence_number"`
	DueDate        time.Time        `json:"due_date"`
	PrincipalDue   int64            `json:"principal_due"`
	InterestDue    int64            `json:"interest_due"`
	LateFeeDue     int64            `json:"late_fee_due"`
	PrincipalPaid  int64            `json:"principal_paid"`
	InterestPaid   int64            `json:"interest_paid"`
	LateFeePaid    int64            `json:"late_fee_paid"`
	Status         ObligationStatus `json:"status"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (o *Obligation) RemainingPrincipal() int64 { return o.PrincipalDue - o.PrincipalPaid }

func (o *Obligation) RemainingInterest() int64 { return o.InterestDue - o.InterestPaid }

func (o *Obligation) RemainingLateFee() int64 { return o.LateFeeDue - o.LateFeePaid }

// Remaining is the total still owed on the obligation.
func (o *Obligation) Remaining() int64 {
	return o.RemainingPrincipal() + o.RemainingInterest() + o.RemainingLateFee()
}

// TotalPaid is the sum of the paid sub-balances.
func (o *Obligation) TotalPaid() int64 {
	return o.PrincipalPaid + o.InterestPaid + o.LateFeePaid
}

// IsOutstanding reports whether the obligation can still receive allocations.
func (o *Obligation) IsOutstanding() bool {
	return o.Status == ObligationUnpaid || o.Status == ObligationPartiallyPaid
}

// IsSettled reports whether the obligation has been paid in full.
func (o *Obligation) IsSettled() bool {
	return o.Status == ObligationPaid || o.Status == ObligationPaidLate
}

// CheckBalances verifies that no sub-balance is negative and that nothing is
// paid beyond what is due.
func (o *Obligation) CheckBalances() error {
	components := []struct {
		name      string
		due, paid int64
	}{
		{"principal", o.PrincipalDue, o.PrincipalPaid},
		{"interest", o.InterestDue, o.InterestPaid},
		{"late_fee", o.LateFeeDue, o.LateFeePaid},
	}
	for _, c := range components {
		if c.due < 0 || c.paid < 0 {
			return fmt.Errorf("obligation %s has negative %s balance (due %d, paid %d)", o.ID, c.name, c.due, c.paid)
		}
		if c.paid > c.due {
			return fmt.Errorf("obligation %s has %s paid %d above due %d", o.ID, c.name, c.paid, c.due)
		}
	}
	return nil
}

// RecomputeStatus derives the status from the sub-balances. Restructured and
// void obligations are left alone. A fully matched obligation becomes paid, or
// paid_late when settledAt falls on a day after the due date; an obligation
// that was already settled keeps its settled status.
func (o *Obligation) RecomputeStatus(settledAt time.Time) {
	if o.Status == ObligationRestructured || o.Status == ObligationVoid {
		return
	}
	switch {
	case o.Remaining() == 0:
		if o.IsSettled() {
			return
		}
		o.Status = ObligationPaid
		if o.IsLate(settledAt) {
			o.Status = ObligationPaidLate
		}
	case o.TotalPaid() == 0:
		o.Status = ObligationUnpaid
	default:
		o.Status = ObligationPartiallyPaid
	}
}

// IsLate reports whether a payment at the given time lands after the due date.
// Both sides are compared as UTC calendar days.
func (o *Obligation) IsLate(at time.Time) bool {
	if at.IsZero() || o.DueDate.IsZero() {
		return false
	}
	y1, m1, d1 := at.UTC().Date()
	y2, m2, d2 := o.DueDate.UTC().Date()
	return time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC).After(time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC))
}

// ApplyDelta adds the delta to the paid sub-balances and recomputes the
// status. The obligation is left untouched when the result would break the
// paid <= due invariant.
func (o *Obligation) ApplyDelta(delta ObligationDelta, settledAt time.Time) error {
	next := *o
	next.PrincipalPaid += delta.Principal
	next.InterestPaid += delta.Interest
	next.LateFeePaid += delta.LateFee
	if err := next.CheckBalances(); err != nil {
		return err
	}
	next.RecomputeStatus(settledAt)
	*o = next
	return nil
}

// ObligationDelta is the amount added to one obligation's paid sub-balances.
type ObligationDelta struct {
	ObligationID   string `json:"obligation_id"`
	SequenceNumber int    `json:"sequence_number"`
	Principal      int64  `json:"principal"`
	Interest       int64  `json:"interest"`
	LateFee        int64  `json:"late_fee"`
}

func (d ObligationDelta) Total() int64 { return d.Principal + d.Interest + d.LateFee }

func (d ObligationDelta) IsZero() bool {
	return d.Principal == 0 && d.Interest == 0 && d.LateFee == 0
}

// Negate returns the delta that undoes d.
func (d ObligationDelta) Negate() ObligationDelta {
	d.Principal, d.Interest, d.LateFee = -d.Principal, -d.Interest, -d.LateFee
	return d
}

// AllocationResult is the outcome of splitting one settled amount across the
// outstanding obligations. It is never persisted as-is.
type AllocationResult struct {
	Deltas               []ObligationDelta `json:"deltas"`
	UnallocatedRemainder int64             `json:"unallocated_remainder"`
}

// Allocated is the amount applied to obligations.
func (r AllocationResult) Allocated() int64 {
	var total int64
	for _, d := range r.Deltas {
		total += d.Total()
	}
	return total
}
