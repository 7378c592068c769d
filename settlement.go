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
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/blnkfinance/repay/allocation"
	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/internal/notification"
	"github.com/blnkfinance/repay/model"
	"github.com/blnkfinance/repay/normalizer"
)

// OutcomeStatus is the result of submitting a notification.
type OutcomeStatus string

const (
	OutcomeProcessed        OutcomeStatus = "processed"
	OutcomeAlreadyProcessed OutcomeStatus = "already_processed"
	OutcomeRejected         OutcomeStatus = "rejected"
)

// NoAccountReason is the rejection reason for a borrower without a repayment account.
const NoAccountReason = "borrower has no repayment account"

// SettlementOutcome is what the caller of SubmitSettlement gets back.
type SettlementOutcome struct {
	Status            OutcomeStatus `json:"status"`
	SettlementID      string        `json:"settlement_id"`
	Reason            string        `json:"reason,omitempty"`
	UnallocatedAmount int64         `json:"unallocated_amount"`
}

func outcomeCacheKey(channel, reference string) string {
	return "settlement_outcome:" + model.SettlementKey(channel, reference)
}

// SubmitSettlement normalizes a raw channel payload and settles it.
//
// Parameters:
// - ctx context.Context: Bounds the whole attempt; cancellation rolls it back.
// - channel string: The channel the payload came from.
// - raw map[string]interface{}: The decoded payload.
//
// Returns:
// - SettlementOutcome: processed, already_processed or rejected.
// - error: A *normalizer.NormalizationError for bad payloads, or a processing error.
func (r *Repay) SubmitSettlement(ctx context.Context, channel string, raw map[string]interface{}) (SettlementOutcome, error) {
	n, err := r.normalizers.Normalize(channel, raw)
	if err != nil {
		return SettlementOutcome{}, err
	}
	return r.ProcessNotification(ctx, n)
}

// QueueSettlement normalizes a raw channel payload and hands it to the
// settlement workers instead of settling it inline. The notification is
// returned so callers can acknowledge the channel right away.
func (r *Repay) QueueSettlement(ctx context.Context, channel string, raw map[string]interface{}) (model.SettlementNotification, error) {
	n, err := r.normalizers.Normalize(channel, raw)
	if err != nil {
		return n, err
	}
	if r.queue == nil {
		return n, ErrQueueNotConfigured
	}
	return n, r.queue.EnqueueSettlement(ctx, n)
}

// ProcessNotification settles a normalized notification at most once. The
// pending row is made durable first so the recovery sweep can find it if
// this attempt fails.
func (r *Repay) ProcessNotification(ctx context.Context, n model.SettlementNotification) (SettlementOutcome, error) {
	ctx, span := tracer.Start(ctx, "ProcessNotification")
	defer span.End()
	span.SetAttributes(
		attribute.String("settlement.channel", n.Channel),
		attribute.String("settlement.reference", n.ExternalReference),
		attribute.String("borrower.id", n.BorrowerID),
	)

	logger := logrus.WithFields(logrus.Fields{
		"channel":     n.Channel,
		"reference":   n.ExternalReference,
		"borrower_id": n.BorrowerID,
	})

	if n.Channel == normalizer.ChannelRefund {
		return r.processRefund(ctx, n)
	}

	if cached, ok := r.cachedOutcome(ctx, n.Channel, n.ExternalReference); ok {
		span.AddEvent("outcome cache hit")
		return cached, nil
	}

	pending := model.NewPendingSettlement(n)
	created, err := r.datasource.EnsureSettlement(ctx, pending)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SettlementOutcome{}, err
	}

	settlementID := pending.SettlementID
	if !created {
		existing, err := r.datasource.GetSettlementByReference(ctx, n.Channel, n.ExternalReference)
		if err != nil {
			return SettlementOutcome{}, err
		}
		settlementID = existing.SettlementID
		if existing.IsTerminal() {
			r.cacheOutcome(ctx, existing)
			return SettlementOutcome{Status: OutcomeAlreadyProcessed, SettlementID: existing.SettlementID}, nil
		}
	}

	var (
		outcome SettlementOutcome
		events  []model.PostCommitEvent
	)
	operation := func() error {
		var err error
		outcome, events, err = r.settle(ctx, n)
		if err != nil && !isConflict(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			logger.WithError(err).Warn("settlement unit conflicted, retrying")
		}
		return err
	}
	if err := backoff.Retry(operation, r.conflictBackoff(ctx)); err != nil {
		r.recordFailure(ctx, settlementID, n, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SettlementOutcome{}, err
	}

	r.dispatch(ctx, events)
	if outcome.Status != OutcomeAlreadyProcessed {
		r.cacheOutcome(ctx, &model.SettlementTransaction{
			SettlementID:      outcome.SettlementID,
			Channel:           n.Channel,
			ExternalReference: n.ExternalReference,
			Status:            terminalStatus(outcome.Status),
			RejectionReason:   outcome.Reason,
			UnallocatedAmount: outcome.UnallocatedAmount,
		})
	}

	logger.WithFields(logrus.Fields{"settlement_id": outcome.SettlementID, "outcome": outcome.Status}).Info("settlement handled")
	span.SetAttributes(attribute.String("settlement.outcome", string(outcome.Status)))
	return outcome, nil
}

func terminalStatus(status OutcomeStatus) model.SettlementStatus {
	if status == OutcomeRejected {
		return model.SettlementRejected
	}
	return model.SettlementProcessed
}

func (r *Repay) conflictBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.settings.ConflictBackoff()
	b.MaxInterval = 20 * r.settings.ConflictBackoff()
	b.MaxElapsedTime = 0
	retries := r.settings.MaxConflictRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// recordFailure counts the failed attempt on the pending row and raises an
// alert for failures that retrying cannot fix.
func (r *Repay) recordFailure(ctx context.Context, settlementID string, n model.SettlementNotification, cause error) {
	fields := logrus.Fields{
		"settlement_id": settlementID,
		"channel":       n.Channel,
		"reference":     n.ExternalReference,
		"borrower_id":   n.BorrowerID,
	}

	// The caller's context may already be done; the attempt must still be counted.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.datasource.RecordSettlementAttempt(recordCtx, settlementID, cause.Error()); err != nil {
		logrus.WithFields(fields).WithError(err).Error("failed to record settlement attempt")
	}

	var invariant *allocation.InvariantViolation
	if errors.As(cause, &invariant) {
		notification.NotifyError(cause, fields)
		return
	}
	logrus.WithFields(fields).WithError(cause).Warn("settlement left pending")
}

// settle runs one locked unit for the notification: lock the settlement row,
// apply adjustments, allocate and write.
func (r *Repay) settle(ctx context.Context, n model.SettlementNotification) (SettlementOutcome, []model.PostCommitEvent, error) {
	ctx, span := tracer.Start(ctx, "settle")
	defer span.End()

	var outcome SettlementOutcome
	events, err := r.datasource.RunInUnit(ctx, func(uow database.UnitOfWork) error {
		stl, err := uow.LockSettlement(ctx, n.Channel, n.ExternalReference)
		if err != nil {
			return err
		}
		if stl.IsTerminal() {
			outcome = SettlementOutcome{Status: OutcomeAlreadyProcessed, SettlementID: stl.SettlementID}
			uow.Discard()
			return nil
		}

		// The account row is rewritten by every settlement of the borrower, so
		// it is locked before any obligation. Lock order is settlement,
		// account, obligations.
		account, found, err := uow.GetAccountForUpdate(ctx, n.BorrowerID)
		if err != nil {
			return err
		}
		if !found {
			if err := uow.RejectSettlement(ctx, stl.SettlementID, NoAccountReason); err != nil {
				return err
			}
			uow.AfterCommit(model.NewPostCommitEvent(model.EventSettlementRejected, stl.SettlementID, n.BorrowerID, map[string]interface{}{
				"channel":            n.Channel,
				"external_reference": n.ExternalReference,
				"amount":             n.Amount,
				"reason":             NoAccountReason,
			}))
			outcome = SettlementOutcome{Status: OutcomeRejected, SettlementID: stl.SettlementID, Reason: NoAccountReason}
			return nil
		}

		if err := r.applyRestructuring(ctx, uow, stl, n); err != nil {
			return err
		}

		// With nothing outstanding the whole amount stays unallocated.
		var outstanding []*model.Obligation
		oldest, hasOutstanding, err := uow.GetOldestUnpaid(ctx, n.BorrowerID)
		if err != nil {
			return err
		}
		if hasOutstanding {
			span.SetAttributes(attribute.Int("allocation.oldest_sequence", oldest.SequenceNumber))
			upTo, err := r.allocationBound(ctx, uow, n)
			if err != nil {
				return err
			}
			outstanding, err = uow.GetOutstandingSet(ctx, n.BorrowerID, upTo)
			if err != nil {
				return err
			}
		}

		waived, err := r.applyWaivers(ctx, uow, stl, n, outstanding)
		if err != nil {
			return err
		}

		result, err := allocation.Allocate(n.Amount, outstanding)
		if err != nil {
			return err
		}

		if err := r.writeAllocation(ctx, uow, stl, account, result, waived, n.SettledAt); err != nil {
			return err
		}

		if err := uow.MarkSettlementProcessed(ctx, stl.SettlementID, result.UnallocatedRemainder, time.Now().UTC()); err != nil {
			return err
		}
		outcome = SettlementOutcome{Status: OutcomeProcessed, SettlementID: stl.SettlementID, UnallocatedAmount: result.UnallocatedRemainder}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return SettlementOutcome{}, nil, err
	}
	return outcome, events, nil
}

// allocationBound turns the optional target hint into an upper sequence
// bound. A hint that does not name an outstanding obligation of the same
// borrower is ignored.
func (r *Repay) allocationBound(ctx context.Context, uow database.UnitOfWork, n model.SettlementNotification) (int, error) {
	if n.TargetObligationID == "" {
		return 0, nil
	}
	target, found, err := uow.GetObligation(ctx, n.TargetObligationID)
	if err != nil {
		return 0, err
	}
	if !found || target.BorrowerID != n.BorrowerID || !target.IsOutstanding() {
		logrus.WithFields(logrus.Fields{
			"borrower_id":          n.BorrowerID,
			"target_obligation_id": n.TargetObligationID,
		}).Info("ignoring target obligation hint")
		return 0, nil
	}
	return target.SequenceNumber, nil
}

func (r *Repay) cachedOutcome(ctx context.Context, channel, reference string) (SettlementOutcome, bool) {
	if r.outcomes == nil {
		return SettlementOutcome{}, false
	}
	var stl model.SettlementTransaction
	found, err := r.outcomes.Get(ctx, outcomeCacheKey(channel, reference), &stl)
	if err != nil {
		logrus.WithError(err).Warn("failed to read settlement outcome cache")
		return SettlementOutcome{}, false
	}
	if !found || !stl.IsTerminal() {
		return SettlementOutcome{}, false
	}
	return SettlementOutcome{Status: OutcomeAlreadyProcessed, SettlementID: stl.SettlementID}, true
}

// cacheOutcome remembers a terminal settlement. Terminal rows never change,
// so a stale entry cannot exist.
func (r *Repay) cacheOutcome(ctx context.Context, stl *model.SettlementTransaction) {
	if r.outcomes == nil || !stl.IsTerminal() {
		return
	}
	key := outcomeCacheKey(stl.Channel, stl.ExternalReference)
	if err := r.outcomes.Set(ctx, key, stl, r.settings.OutcomeCacheTTL()); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("failed to cache settlement outcome")
	}
}

// GetSettlementByReference returns the settlement recorded for a channel reference.
func (r *Repay) GetSettlementByReference(ctx context.Context, channel, reference string) (*model.SettlementTransaction, error) {
	return r.datasource.GetSettlementByReference(ctx, channel, reference)
}

func (r *Repay) GetSettlement(ctx context.Context, settlementID string) (*model.SettlementTransaction, error) {
	return r.datasource.GetSettlement(ctx, settlementID)
}

// GetLedgerEntries lists the ledger entries a settlement wrote.
func (r *Repay) GetLedgerEntries(ctx context.Context, settlementID string) ([]model.LedgerEntry, error) {
	if _, err := r.datasource.GetSettlement(ctx, settlementID); err != nil {
		return nil, err
	}
	return r.datasource.GetLedgerEntries(ctx, settlementID)
}

func (r *Repay) String() string {
	return fmt.Sprintf("repay(channels=%v)", r.Channels())
}
