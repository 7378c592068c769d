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

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
	"github.com/blnkfinance/repay/normalizer"
)

// ReverseSettlement undoes the allocations of a processed settlement. The
// reversal is recorded under a new refund settlement carrying the given
// reference; the original settlement and its entries are never changed.
// Calling it again with the same reference returns already_processed.
//
// Parameters:
// - ctx context.Context: Bounds the reversal.
// - settlementID string: The processed settlement to reverse.
// - refundReference string: The refund's external reference.
//
// Returns:
// - SettlementOutcome: processed, already_processed, or rejected when an obligation was restructured since.
// - error: An APIError when the original cannot be reversed, or a processing error.
func (r *Repay) ReverseSettlement(ctx context.Context, settlementID, refundReference string) (SettlementOutcome, error) {
	if refundReference == "" {
		return SettlementOutcome{}, apierror.NewAPIError(apierror.ErrBadRequest, "refund reference is required", nil)
	}
	return r.reverseSettlement(ctx, model.SettlementNotification{
		Channel:              normalizer.ChannelRefund,
		ExternalReference:    refundReference,
		SettledAt:            time.Now().UTC(),
		ReversesSettlementID: settlementID,
	})
}

// processRefund handles a refund reported by the refund channel itself. The
// refund must name the settlement it reverses and match it in borrower and
// amount; partial refunds are not accepted.
func (r *Repay) processRefund(ctx context.Context, n model.SettlementNotification) (SettlementOutcome, error) {
	original, err := r.datasource.GetSettlement(ctx, n.ReversesSettlementID)
	if err != nil {
		return SettlementOutcome{}, err
	}
	if original.BorrowerID != n.BorrowerID {
		return SettlementOutcome{}, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("Refund %s names borrower %s but settlement %s belongs to %s", n.ExternalReference, n.BorrowerID, original.SettlementID, original.BorrowerID), nil)
	}
	if original.Amount != n.Amount {
		return SettlementOutcome{}, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("Refund %s amount %d does not match settlement amount %d", n.ExternalReference, n.Amount, original.Amount), nil)
	}
	return r.reverseSettlement(ctx, n)
}

func (r *Repay) reverseSettlement(ctx context.Context, n model.SettlementNotification) (SettlementOutcome, error) {
	ctx, span := tracer.Start(ctx, "ReverseSettlement")
	defer span.End()
	span.SetAttributes(attribute.String("settlement.id", n.ReversesSettlementID), attribute.String("refund.reference", n.ExternalReference))

	original, err := r.datasource.GetSettlement(ctx, n.ReversesSettlementID)
	if err != nil {
		return SettlementOutcome{}, err
	}

	if original.Status != model.SettlementProcessed {
		return SettlementOutcome{}, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("Settlement %s is %s and cannot be reversed", original.SettlementID, original.Status), nil)
	}

	n.BorrowerID = original.BorrowerID
	n.Amount = original.Amount
	refund := model.NewPendingSettlement(n)
	refund.ReversesSettlementID = original.SettlementID

	created, err := r.datasource.EnsureSettlement(ctx, refund)
	if err != nil {
		return SettlementOutcome{}, err
	}
	if !created {
		existing, err := r.datasource.GetSettlementByReference(ctx, n.Channel, n.ExternalReference)
		if err != nil {
			return SettlementOutcome{}, err
		}
		if existing.ReversesSettlementID != original.SettlementID {
			return SettlementOutcome{}, apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Refund reference %s is already used by another settlement", n.ExternalReference), nil)
		}
		if existing.IsTerminal() {
			return SettlementOutcome{Status: OutcomeAlreadyProcessed, SettlementID: existing.SettlementID}, nil
		}
		refund = existing
	}

	var (
		outcome SettlementOutcome
		events  []model.PostCommitEvent
	)
	operation := func() error {
		var err error
		outcome, events, err = r.reverse(ctx, original, refund)
		if err != nil && !isConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, r.conflictBackoff(ctx)); err != nil {
		r.recordFailure(ctx, refund.SettlementID, refund.Notification, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SettlementOutcome{}, err
	}

	r.dispatch(ctx, events)
	logrus.WithFields(logrus.Fields{
		"settlement_id":        original.SettlementID,
		"refund_settlement_id": outcome.SettlementID,
		"outcome":              outcome.Status,
	}).Info("settlement reversal handled")
	return outcome, nil
}

func (r *Repay) reverse(ctx context.Context, original, refund *model.SettlementTransaction) (SettlementOutcome, []model.PostCommitEvent, error) {
	var outcome SettlementOutcome
	events, err := r.datasource.RunInUnit(ctx, func(uow database.UnitOfWork) error {
		stl, err := uow.LockSettlement(ctx, refund.Channel, refund.ExternalReference)
		if err != nil {
			return err
		}
		if stl.IsTerminal() {
			outcome = SettlementOutcome{Status: OutcomeAlreadyProcessed, SettlementID: stl.SettlementID}
			uow.Discard()
			return nil
		}

		reject := func(reason string) error {
			if err := uow.RejectSettlement(ctx, stl.SettlementID, reason); err != nil {
				return err
			}
			uow.AfterCommit(model.NewPostCommitEvent(model.EventSettlementRejected, stl.SettlementID, stl.BorrowerID, map[string]interface{}{
				"channel":                stl.Channel,
				"external_reference":     stl.ExternalReference,
				"reverses_settlement_id": original.SettlementID,
				"reason":                 reason,
			}))
			outcome = SettlementOutcome{Status: OutcomeRejected, SettlementID: stl.SettlementID, Reason: reason}
			return nil
		}

		account, found, err := uow.GetAccountForUpdate(ctx, original.BorrowerID)
		if err != nil {
			return err
		}
		if !found {
			return reject(NoAccountReason)
		}

		entries, err := uow.GetLedgerEntriesForSettlement(ctx, original.SettlementID)
		if err != nil {
			return err
		}

		// Every obligation is checked before any delta is applied so a
		// rejection never commits a partial reversal.
		var deltas []model.ObligationDelta
		var allocations []model.LedgerEntry
		for _, e := range entries {
			if e.EntryType != model.EntryAllocation {
				continue
			}
			o, found, err := uow.GetObligation(ctx, e.ObligationID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("obligation %s: %w", e.ObligationID, database.ErrObligationNotFound)
			}
			if o.Status == model.ObligationRestructured || o.Status == model.ObligationVoid {
				return reject(fmt.Sprintf("obligation %s is %s", o.ID, o.Status))
			}
			deltas = append(deltas, model.ObligationDelta{
				ObligationID:   e.ObligationID,
				SequenceNumber: o.SequenceNumber,
				Principal:      e.Principal,
				Interest:       e.Interest,
				LateFee:        e.LateFee,
			}.Negate())
			allocations = append(allocations, e)
		}

		var (
			reversals []model.LedgerEntry
			reversed  int64
		)
		for i, delta := range deltas {
			e := allocations[i]
			if _, err := uow.ApplyDeltas(ctx, delta, stl.SettledAt); err != nil {
				return err
			}

			entry := model.NewLedgerEntry(model.EntryReversal, stl.SettlementID, stl.BorrowerID, e.ObligationID,
				delta.Principal, delta.Interest, delta.LateFee)
			entry.ReversesEntryID = e.EntryID
			reversals = append(reversals, entry)
			reversed += e.Total
		}
		if len(reversals) > 0 {
			if err := uow.AppendLedgerEntries(ctx, reversals...); err != nil {
				return err
			}
		}

		if err := r.refreshAccount(ctx, uow, account, -reversed, 0, -original.UnallocatedAmount, stl.SettlementID); err != nil {
			return err
		}
		if err := uow.MarkSettlementProcessed(ctx, stl.SettlementID, 0, time.Now().UTC()); err != nil {
			return err
		}

		uow.AfterCommit(model.NewPostCommitEvent(model.EventSettlementReversed, stl.SettlementID, stl.BorrowerID, map[string]interface{}{
			"reverses_settlement_id": original.SettlementID,
			"external_reference":     stl.ExternalReference,
			"reversed":               reversed,
			"unallocated_returned":   original.UnallocatedAmount,
		}))
		outcome = SettlementOutcome{Status: OutcomeProcessed, SettlementID: stl.SettlementID}
		return nil
	})
	if err != nil {
		return SettlementOutcome{}, nil, err
	}
	return outcome, events, nil
}
