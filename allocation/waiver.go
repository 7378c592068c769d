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

package allocation

import (
	"time"

	"github.com/blnkfinance/repay/internal/money"
	"github.com/blnkfinance/repay/model"
)

// ComputeWaiver returns the reduction a grant gives one obligation. The
// budget is consumed late fee first, then interest, then principal; each
// component gets remaining*percent rounded half-up, clamped to both the
// remaining budget and the remaining component. Settled obligations get
// nothing.
func ComputeWaiver(o *model.Obligation, grant *model.WaiverGrant, budget model.WaiverAmounts) (model.WaiverAmounts, error) {
	var waived model.WaiverAmounts
	if o.IsSettled() || o.Remaining() == 0 {
		return waived, nil
	}
	if err := o.CheckBalances(); err != nil {
		return waived, violation(o.ID, "%v", err)
	}

	waived.LateFee = clampWaiver(money.ApplyPercentage(o.RemainingLateFee(), grant.LateFeePercent), budget.LateFee, o.RemainingLateFee())
	waived.Interest = clampWaiver(money.ApplyPercentage(o.RemainingInterest(), grant.InterestPercent), budget.Interest, o.RemainingInterest())
	waived.Principal = clampWaiver(money.ApplyPercentage(o.RemainingPrincipal(), grant.PrincipalPercent), budget.Principal, o.RemainingPrincipal())
	return waived, nil
}

func clampWaiver(amount, budget, remaining int64) int64 {
	if amount < 0 {
		return 0
	}
	return money.Min(amount, money.Min(budget, remaining))
}

// ApplyWaiver lowers the obligation's dues by the waived amounts and
// recomputes its status. A waiver that covers everything left marks the
// obligation paid.
func ApplyWaiver(o *model.Obligation, waived model.WaiverAmounts, at time.Time) error {
	if waived.Principal < 0 || waived.Interest < 0 || waived.LateFee < 0 {
		return violation(o.ID, "negative waiver %+v", waived)
	}
	next := *o
	next.PrincipalDue -= waived.Principal
	next.InterestDue -= waived.Interest
	next.LateFeeDue -= waived.LateFee
	if err := next.CheckBalances(); err != nil {
		return violation(o.ID, "waiver exceeds remaining balance: %v", err)
	}
	next.RecomputeStatus(at)
	*o = next
	return nil
}

// Consume subtracts waived from budget.
func Consume(budget, waived model.WaiverAmounts) model.WaiverAmounts {
	return model.WaiverAmounts{
		Principal: budget.Principal - waived.Principal,
		Interest:  budget.Interest - waived.Interest,
		LateFee:   budget.LateFee - waived.LateFee,
	}
}
