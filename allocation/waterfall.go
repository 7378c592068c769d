/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package allocation splits settled amounts across a borrower's obligations
// and computes waiver reductions. It performs no I/O.
package allocation

import (
	"fmt"

	"github.com/blnkfinance/repay/internal/money"
	"github.com/blnkfinance/repay/model"
)

// InvariantViolation reports a state the allocation math must never reach.
// It is fatal for the settlement being processed and must not be retried
// blindly.
type InvariantViolation struct {
	Reason       string
	ObligationID string
}

func (e *InvariantViolation) Error() string {
	if e.ObligationID != "" {
		return fmt.Sprintf("allocation invariant violated on obligation %s: %s", e.ObligationID, e.Reason)
	}
	return fmt.Sprintf("allocation invariant violated: %s", e.Reason)
}

func violation(obligationID, format string, args ...interface{}) error {
	return &InvariantViolation{Reason: fmt.Sprintf(format, args...), ObligationID: obligationID}
}

// Allocate distributes amount over the obligations oldest first. Within an
// obligation the order is principal, then interest, then late fee; whatever
// is left moves on to the next obligation and anything beyond the whole set
// is returned as the unallocated remainder.
//
// Parameters:
// - amount int64: The settled amount in minor units.
// - obligations []*model.Obligation: The outstanding set, ascending by sequence number.
//
// Returns:
// - model.AllocationResult: One delta per obligation plus the remainder.
// - error: An *InvariantViolation if the input or the result is inconsistent.
func Allocate(amount int64, obligations []*model.Obligation) (model.AllocationResult, error) {
	if amount < 0 {
		return model.AllocationResult{}, violation("", "negative settlement amount %d", amount)
	}

	result := model.AllocationResult{Deltas: make([]model.ObligationDelta, 0, len(obligations))}
	left := amount
	for i, o := range obligations {
		if o == nil {
			return model.AllocationResult{}, violation("", "nil obligation at position %d", i)
		}
		if i > 0 && o.SequenceNumber <= obligations[i-1].SequenceNumber {
			return model.AllocationResult{}, violation(o.ID, "obligations not in ascending sequence order (%d after %d)", o.SequenceNumber, obligations[i-1].SequenceNumber)
		}
		if err := o.CheckBalances(); err != nil {
			return model.AllocationResult{}, violation(o.ID, "%v", err)
		}

		delta := model.ObligationDelta{ObligationID: o.ID, SequenceNumber: o.SequenceNumber}
		delta.Principal = money.Min(left, o.RemainingPrincipal())
		left -= delta.Principal
		delta.Interest = money.Min(left, o.RemainingInterest())
		left -= delta.Interest
		delta.LateFee = money.Min(left, o.RemainingLateFee())
		left -= delta.LateFee

		result.Deltas = append(result.Deltas, delta)
	}
	result.UnallocatedRemainder = left

	if err := CheckConservation(amount, result); err != nil {
		return model.AllocationResult{}, err
	}
	return result, nil
}

// CheckConservation verifies that the deltas and the remainder add back up to
// the settled amount and that no delta is negative.
func CheckConservation(amount int64, result model.AllocationResult) error {
	for _, d := range result.Deltas {
		if d.Principal < 0 || d.Interest < 0 || d.LateFee < 0 {
			return violation(d.ObligationID, "negative delta %+v", d)
		}
	}
	if result.UnallocatedRemainder < 0 {
		return violation("", "negative unallocated remainder %d", result.UnallocatedRemainder)
	}
	if got := result.Allocated() + result.UnallocatedRemainder; got != amount {
		return violation("", "allocated %d plus remainder %d does not equal settled amount %d", result.Allocated(), result.UnallocatedRemainder, amount)
	}
	return nil
}
