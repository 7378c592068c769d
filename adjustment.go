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

package repay

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/repay/allocation"
	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/internal/money"
	"github.com/blnkfinance/repay/model"
)

// applyRestructuring activates the borrower's approved restructuring plan
// when the notification qualifies. Activation happens once per plan: the
// marker insert decides, and a plan that was already activated is left alone.
func (r *Repay) applyRestructuring(ctx context.Context, uow database.UnitOfWork, stl *model.SettlementTransaction, n model.SettlementNotification) error {
	ctx, span := tracer.Start(ctx, "applyRestructuring")
	defer span.End()

	plan, found, err := r.restructuring.GetPendingRestructuring(ctx, n.BorrowerID)
	if err != nil {
		return &AdjustmentLookupError{Source: "restructuring", BorrowerID: n.BorrowerID, Err: err}
	}
	if !found || !plan.ActivatedBy(n) {
		return nil
	}

	first, err := uow.RecordRestructuringActivation(ctx, model.RestructuringActivation{
		RequestID:    plan.RequestID,
		BorrowerID:   n.BorrowerID,
		SettlementID: stl.SettlementID,
		ActivatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	retired, err := uow.GetOutstandingSet(ctx, n.BorrowerID, 0)
	if err != nil {
		return err
	}

	schedule, err := r.buildSchedule(ctx, uow, plan, retired)
	if err != nil {
		return err
	}

	retiredIDs := make([]string, 0, len(retired))
	entries := make([]model.LedgerEntry, 0, len(retired)+len(schedule))
	for _, o := range retired {
		retiredIDs = append(retiredIDs, o.ID)
		entries = append(entries, model.NewLedgerEntry(model.EntryRestructure, stl.SettlementID, n.BorrowerID, o.ID,
			-o.RemainingPrincipal(), -o.RemainingInterest(), -o.RemainingLateFee()))
	}
	if err := uow.MarkObligationsStatus(ctx, retiredIDs, model.ObligationRestructured); err != nil {
		return err
	}
	if err := uow.InsertObligations(ctx, schedule); err != nil {
		return err
	}
	for _, o := range schedule {
		entries = append(entries, model.NewLedgerEntry(model.EntryRestructure, stl.SettlementID, n.BorrowerID, o.ID,
			o.PrincipalDue, o.InterestDue, o.LateFeeDue))
	}
	if err := uow.AppendLedgerEntries(ctx, entries...); err != nil {
		return err
	}

	newIDs := make([]string, 0, len(schedule))
	for _, o := range schedule {
		newIDs = append(newIDs, o.ID)
	}
	uow.AfterCommit(model.NewPostCommitEvent(model.EventRestructuringActivated, stl.SettlementID, n.BorrowerID, map[string]interface{}{
		"request_id":             plan.RequestID,
		"loan_id":                plan.LoanID,
		"retired_obligation_ids": retiredIDs,
		"new_obligation_ids":     newIDs,
	}))

	logrus.WithFields(logrus.Fields{
		"request_id":    plan.RequestID,
		"borrower_id":   n.BorrowerID,
		"settlement_id": stl.SettlementID,
		"retired":       len(retiredIDs),
		"created":       len(schedule),
	}).Info("restructuring plan activated")
	return nil
}

// buildSchedule splits the plan totals evenly over the tenure. A plan with
// no totals carries over what was left on the retired obligations.
func (r *Repay) buildSchedule(ctx context.Context, uow database.UnitOfWork, plan *model.RestructuringPlan, retired []*model.Obligation) ([]model.Obligation, error) {
	principal, interest, lateFee := plan.NewPrincipal, plan.NewInterest, plan.NewLateFee
	if principal == 0 && interest == 0 && lateFee == 0 {
		for _, o := range retired {
			principal += o.RemainingPrincipal()
			interest += o.RemainingInterest()
			lateFee += o.RemainingLateFee()
		}
	}

	split := func(total int64) ([]int64, error) {
		parts, err := money.SplitEven(total, plan.Tenure)
		if err != nil {
			return nil, &allocation.InvariantViolation{Reason: fmt.Sprintf("restructuring %s: %v", plan.RequestID, err)}
		}
		return parts, nil
	}
	principals, err := split(principal)
	if err != nil {
		return nil, err
	}
	interests, err := split(interest)
	if err != nil {
		return nil, err
	}
	lateFees, err := split(lateFee)
	if err != nil {
		return nil, err
	}

	lastSeq, err := uow.MaxSequenceNumber(ctx, plan.BorrowerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	schedule := make([]model.Obligation, plan.Tenure)
	for i := range schedule {
		schedule[i] = model.Obligation{
			ID:             model.GenerateUUIDWithSuffix("obl"),
			LoanID:         plan.LoanID,
			BorrowerID:     plan.BorrowerID,
			SequenceNumber: lastSeq + i + 1,
			DueDate:        plan.DueDateFor(i),
			PrincipalDue:   principals[i],
			InterestDue:    interests[i],
			LateFeeDue:     lateFees[i],
			Status:         model.ObligationUnpaid,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	return schedule, nil
}

// applyWaivers reduces the dues of outstanding obligations covered by an
// active waiver grant. Budgets are tracked per grant request so obligations
// sharing a grant draw from the same pool, in allocation order. It returns
// the total waived.
func (r *Repay) applyWaivers(ctx context.Context, uow database.UnitOfWork, stl *model.SettlementTransaction, n model.SettlementNotification, outstanding []*model.Obligation) (int64, error) {
	ctx, span := tracer.Start(ctx, "applyWaivers")
	defer span.End()

	budgets := make(map[string]model.WaiverAmounts)
	var entries []model.LedgerEntry
	var total int64

	for _, o := range outstanding {
		if o.IsSettled() || o.Remaining() == 0 {
			continue
		}

		grant, found, err := r.waivers.GetActiveWaiverGrant(ctx, o.ID)
		if err != nil {
			return 0, &AdjustmentLookupError{Source: "waiver", BorrowerID: n.BorrowerID, Err: err}
		}
		if !found || !grant.IsActiveAt(n.SettledAt) {
			continue
		}

		applied, err := uow.HasWaiverApplication(ctx, grant.RequestID, o.ID)
		if err != nil {
			return 0, err
		}
		if applied {
			continue
		}

		budget, ok := budgets[grant.RequestID]
		if !ok {
			consumed, err := uow.GetWaiverConsumption(ctx, grant.RequestID)
			if err != nil {
				return 0, err
			}
			budget = grant.Budget(consumed)
		}

		waived, err := allocation.ComputeWaiver(o, grant, budget)
		if err != nil {
			return 0, err
		}
		budgets[grant.RequestID] = allocation.Consume(budget, waived)
		if waived.IsZero() {
			continue
		}

		if err := allocation.ApplyWaiver(o, waived, n.SettledAt); err != nil {
			return 0, err
		}
		if err := uow.UpdateObligationDues(ctx, o); err != nil {
			return 0, err
		}
		err = uow.RecordWaiverApplication(ctx, model.WaiverApplication{
			RequestID:    grant.RequestID,
			ObligationID: o.ID,
			SettlementID: stl.SettlementID,
			Amounts:      waived,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return 0, err
		}

		entries = append(entries, model.NewLedgerEntry(model.EntryWaiver, stl.SettlementID, n.BorrowerID, o.ID,
			waived.Principal, waived.Interest, waived.LateFee))
		total += waived.Total()

		uow.AfterCommit(model.NewPostCommitEvent(model.EventWaiverApplied, stl.SettlementID, n.BorrowerID, map[string]interface{}{
			"request_id":    grant.RequestID,
			"obligation_id": o.ID,
			"principal":     waived.Principal,
			"interest":      waived.Interest,
			"late_fee":      waived.LateFee,
			"status":        o.Status,
		}))
	}

	if len(entries) > 0 {
		if err := uow.AppendLedgerEntries(ctx, entries...); err != nil {
			return 0, err
		}
	}
	return total, nil
}
