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
	"time"

	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/model"
)

// writeAllocation applies the allocation deltas in sequence order, appends
// one allocation entry per non-zero delta and then updates the account
// aggregate. Nothing here is visible until the unit commits.
func (r *Repay) writeAllocation(ctx context.Context, uow database.UnitOfWork, stl *model.SettlementTransaction, account *model.Account, result model.AllocationResult, waived int64, settledAt time.Time) error {
	ctx, span := tracer.Start(ctx, "writeAllocation")
	defer span.End()

	entries := make([]model.LedgerEntry, 0, len(result.Deltas))
	for _, delta := range result.Deltas {
		if delta.IsZero() {
			continue
		}
		updated, err := uow.ApplyDeltas(ctx, delta, settledAt)
		if err != nil {
			return err
		}
		entries = append(entries, model.NewLedgerEntry(model.EntryAllocation, stl.SettlementID, stl.BorrowerID, delta.ObligationID,
			delta.Principal, delta.Interest, delta.LateFee))

		if updated.IsSettled() {
			uow.AfterCommit(model.NewPostCommitEvent(model.EventObligationPaid, stl.SettlementID, stl.BorrowerID, map[string]interface{}{
				"obligation_id":   updated.ID,
				"loan_id":         updated.LoanID,
				"sequence_number": updated.SequenceNumber,
				"status":          updated.Status,
			}))
		}
	}
	if len(entries) > 0 {
		if err := uow.AppendLedgerEntries(ctx, entries...); err != nil {
			return err
		}
	}

	if err := r.refreshAccount(ctx, uow, account, result.Allocated(), waived, result.UnallocatedRemainder, stl.SettlementID); err != nil {
		return err
	}

	uow.AfterCommit(model.NewPostCommitEvent(model.EventSettlementProcessed, stl.SettlementID, stl.BorrowerID, map[string]interface{}{
		"channel":            stl.Channel,
		"external_reference": stl.ExternalReference,
		"amount":             stl.Amount,
		"allocated":          result.Allocated(),
		"waived":             waived,
		"unallocated":        result.UnallocatedRemainder,
		"deltas":             result.Deltas,
	}))
	if result.UnallocatedRemainder > 0 {
		uow.AfterCommit(model.NewPostCommitEvent(model.EventSettlementUnallocated, stl.SettlementID, stl.BorrowerID, map[string]interface{}{
			"amount":              result.UnallocatedRemainder,
			"unallocated_balance": account.UnallocatedBalance,
		}))
	}
	return nil
}

// refreshAccount folds paid, waived and unallocated amounts into the
// account and recomputes what is outstanding. paid may be negative for
// reversals.
func (r *Repay) refreshAccount(ctx context.Context, uow database.UnitOfWork, account *model.Account, paid, waived, unallocated int64, settlementID string) error {
	wasSettled := account.Status == model.AccountSettled

	account.TotalPaid += paid
	account.TotalWaived += waived
	account.UnallocatedBalance += unallocated

	obligations, err := uow.ListObligations(ctx, account.BorrowerID)
	if err != nil {
		return err
	}
	account.Refresh(obligations)
	if err := uow.UpdateAccount(ctx, account); err != nil {
		return err
	}

	if !wasSettled && account.Status == model.AccountSettled {
		uow.AfterCommit(model.NewPostCommitEvent(model.EventAccountSettled, settlementID, account.BorrowerID, map[string]interface{}{
			"total_paid":   account.TotalPaid,
			"total_waived": account.TotalWaived,
		}))
	}
	return nil
}
