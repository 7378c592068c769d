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

package memory

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
)

// unit stages writes on top of the committed store. Locks are keyed by
// settlement reference and by borrower; a borrower lock covers the account
// and every obligation of that borrower.
type unit struct {
	store        *Store
	held         map[string]bool
	heldOrder    []string
	accounts     map[string]model.Account
	obligations  map[string]model.Obligation
	settlements  map[string]model.SettlementTransaction
	entries      []model.LedgerEntry
	activations  map[string]model.RestructuringActivation
	applications []model.WaiverApplication
	events       []model.PostCommitEvent
	discard      bool
}

func newUnit(s *Store) *unit {
	return &unit{
		store:       s,
		held:        make(map[string]bool),
		accounts:    make(map[string]model.Account),
		obligations: make(map[string]model.Obligation),
		settlements: make(map[string]model.SettlementTransaction),
		activations: make(map[string]model.RestructuringActivation),
	}
}

func (u *unit) lock(ctx context.Context, key string) error {
	if u.held[key] {
		return nil
	}
	if err := u.store.locks.acquire(ctx, key); err != nil {
		return errors.Wrapf(err, "waiting for lock %s", key)
	}
	u.held[key] = true
	u.heldOrder = append(u.heldOrder, key)
	return nil
}

func (u *unit) lockBorrower(ctx context.Context, borrowerID string) error {
	return u.lock(ctx, "borrower:"+borrowerID)
}

func (u *unit) releaseLocks() {
	for i := len(u.heldOrder) - 1; i >= 0; i-- {
		u.store.locks.release(u.heldOrder[i])
	}
	u.held = make(map[string]bool)
	u.heldOrder = nil
}

func (u *unit) AfterCommit(event model.PostCommitEvent) {
	u.events = append(u.events, event)
}

func (u *unit) Discard() {
	u.discard = true
}

// Settlements

func (u *unit) settlementByReference(channel, reference string) (model.SettlementTransaction, bool) {
	for _, stl := range u.settlements {
		if stl.Channel == channel && stl.ExternalReference == reference {
			return stl, true
		}
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	id, ok := u.store.references[model.SettlementKey(channel, reference)]
	if !ok {
		return model.SettlementTransaction{}, false
	}
	return u.store.settlements[id], true
}

func (u *unit) settlementByID(settlementID string) (model.SettlementTransaction, bool) {
	if stl, ok := u.settlements[settlementID]; ok {
		return stl, true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	stl, ok := u.store.settlements[settlementID]
	return stl, ok
}

func (u *unit) LockSettlement(ctx context.Context, channel, reference string) (*model.SettlementTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := u.lock(ctx, "settlement:"+model.SettlementKey(channel, reference)); err != nil {
		return nil, err
	}
	stl, ok := u.settlementByReference(channel, reference)
	if !ok {
		return nil, notFound("Settlement with reference '%s' on channel '%s' not found", reference, channel)
	}
	return &stl, nil
}

func (u *unit) transitionSettlement(ctx context.Context, settlementID string, apply func(*model.SettlementTransaction)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stl, ok := u.settlementByID(settlementID)
	if !ok || stl.Status != model.SettlementPending {
		return errors.Wrapf(database.ErrSettlementNotPending, "settlement %s", settlementID)
	}
	apply(&stl)
	u.settlements[settlementID] = stl
	return nil
}

func (u *unit) MarkSettlementProcessed(ctx context.Context, settlementID string, unallocated int64, at time.Time) error {
	return u.transitionSettlement(ctx, settlementID, func(stl *model.SettlementTransaction) {
		stl.Status = model.SettlementProcessed
		stl.UnallocatedAmount = unallocated
		stl.ProcessedAt = &at
		stl.LastError = ""
	})
}

func (u *unit) RejectSettlement(ctx context.Context, settlementID, reason string) error {
	return u.transitionSettlement(ctx, settlementID, func(stl *model.SettlementTransaction) {
		now := time.Now().UTC()
		stl.Status = model.SettlementRejected
		stl.RejectionReason = reason
		stl.ProcessedAt = &now
	})
}

// Obligations

func (u *unit) obligation(obligationID string) (model.Obligation, bool) {
	if o, ok := u.obligations[obligationID]; ok {
		return o, true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	o, ok := u.store.obligations[obligationID]
	return o, ok
}

func (u *unit) borrowerObligations(borrowerID string) []model.Obligation {
	u.store.mu.RLock()
	merged := make(map[string]model.Obligation)
	for _, o := range u.store.borrowerObligations(borrowerID) {
		merged[o.ID] = o
	}
	u.store.mu.RUnlock()

	for id, o := range u.obligations {
		if o.BorrowerID == borrowerID {
			merged[id] = o
		}
	}
	obligations := make([]model.Obligation, 0, len(merged))
	for _, o := range merged {
		obligations = append(obligations, o)
	}
	sortBySequence(obligations)
	return obligations
}

func (u *unit) GetOldestUnpaid(ctx context.Context, borrowerID string) (model.Obligation, bool, error) {
	if err := u.lockBorrower(ctx, borrowerID); err != nil {
		return model.Obligation{}, false, err
	}
	for _, o := range u.borrowerObligations(borrowerID) {
		if o.IsOutstanding() {
			return o, true, nil
		}
	}
	return model.Obligation{}, false, nil
}

func (u *unit) GetOutstandingSet(ctx context.Context, borrowerID string, upToSequence int) ([]*model.Obligation, error) {
	if err := u.lockBorrower(ctx, borrowerID); err != nil {
		return nil, err
	}
	var set []*model.Obligation
	for _, o := range u.borrowerObligations(borrowerID) {
		if !o.IsOutstanding() {
			continue
		}
		if upToSequence > 0 && o.SequenceNumber > upToSequence {
			break
		}
		o := o
		set = append(set, &o)
	}
	return set, nil
}

func (u *unit) GetObligation(ctx context.Context, obligationID string) (model.Obligation, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Obligation{}, false, err
	}
	o, ok := u.obligation(obligationID)
	if !ok {
		return model.Obligation{}, false, nil
	}
	if err := u.lockBorrower(ctx, o.BorrowerID); err != nil {
		return model.Obligation{}, false, err
	}
	o, ok = u.obligation(obligationID)
	return o, ok, nil
}

func (u *unit) ListObligations(ctx context.Context, borrowerID string) ([]model.Obligation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return u.borrowerObligations(borrowerID), nil
}

func (u *unit) ApplyDeltas(ctx context.Context, delta model.ObligationDelta, settledAt time.Time) (*model.Obligation, error) {
	o, found, err := u.GetObligation(ctx, delta.ObligationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(database.ErrObligationNotFound, "obligation %s", delta.ObligationID)
	}
	if delta.IsZero() {
		return &o, nil
	}
	if o.Status == model.ObligationRestructured || o.Status == model.ObligationVoid {
		return nil, errors.Wrapf(database.ErrStaleObligationState, "obligation %s is %s", o.ID, o.Status)
	}
	if err := o.ApplyDelta(delta, settledAt); err != nil {
		return nil, errors.Wrap(database.ErrStaleObligationState, err.Error())
	}
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	u.obligations[o.ID] = o
	return &o, nil
}

func (u *unit) UpdateObligationDues(ctx context.Context, o *model.Obligation) error {
	current, found, err := u.GetObligation(ctx, o.ID)
	if err != nil {
		return err
	}
	if !found || current.Version != o.Version {
		return errors.Wrapf(database.ErrStaleObligationState, "obligation %s version %d", o.ID, o.Version)
	}
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	u.obligations[o.ID] = *o
	return nil
}

func (u *unit) MarkObligationsStatus(ctx context.Context, obligationIDs []string, status model.ObligationStatus) error {
	for _, id := range obligationIDs {
		o, found, err := u.GetObligation(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		o.Status = status
		o.Version++
		o.UpdatedAt = time.Now().UTC()
		u.obligations[id] = o
	}
	return nil
}

func (u *unit) InsertObligations(ctx context.Context, obligations []model.Obligation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, o := range obligations {
		if _, ok := u.account(o.BorrowerID); !ok {
			return errors.Wrapf(database.ErrAccountNotFound, "borrower %s", o.BorrowerID)
		}
		if _, exists := u.obligation(o.ID); exists {
			return apierror.NewAPIError(apierror.ErrConflict, "Obligation already exists", nil)
		}
		for _, existing := range u.borrowerObligations(o.BorrowerID) {
			if existing.SequenceNumber == o.SequenceNumber {
				return apierror.NewAPIError(apierror.ErrConflict, "Obligation with the same sequence number already exists", nil)
			}
		}
		u.obligations[o.ID] = o
	}
	return nil
}

func (u *unit) MaxSequenceNumber(ctx context.Context, borrowerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	maxSeq := 0
	for _, o := range u.borrowerObligations(borrowerID) {
		if o.SequenceNumber > maxSeq {
			maxSeq = o.SequenceNumber
		}
	}
	return maxSeq, nil
}

// Ledger

func (u *unit) AppendLedgerEntries(ctx context.Context, entries ...model.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.entries = append(u.entries, entries...)
	return nil
}

func (u *unit) GetLedgerEntriesForSettlement(ctx context.Context, settlementID string) ([]model.LedgerEntry, error) {
	entries, err := u.store.GetLedgerEntries(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	for _, e := range u.entries {
		if e.SettlementID == settlementID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Accounts

func (u *unit) account(borrowerID string) (model.Account, bool) {
	if a, ok := u.accounts[borrowerID]; ok {
		return a, true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	a, ok := u.store.accounts[borrowerID]
	return a, ok
}

func (u *unit) GetAccountForUpdate(ctx context.Context, borrowerID string) (*model.Account, bool, error) {
	if err := u.lockBorrower(ctx, borrowerID); err != nil {
		return nil, false, err
	}
	a, ok := u.account(borrowerID)
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (u *unit) UpdateAccount(ctx context.Context, account *model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, ok := u.account(account.BorrowerID)
	if !ok {
		return errors.Wrapf(database.ErrAccountNotFound, "borrower %s", account.BorrowerID)
	}
	if current.Version != account.Version {
		return apierror.NewAPIError(apierror.ErrConflict, "Optimistic locking failure: account version mismatch", nil)
	}
	account.Version++
	account.UpdatedAt = time.Now().UTC()
	u.accounts[account.BorrowerID] = *account
	return nil
}

// Adjustments

func (u *unit) RecordRestructuringActivation(ctx context.Context, activation model.RestructuringActivation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, staged := u.activations[activation.RequestID]; staged {
		return false, nil
	}
	u.store.mu.RLock()
	_, committed := u.store.activations[activation.RequestID]
	u.store.mu.RUnlock()
	if committed {
		return false, nil
	}
	u.activations[activation.RequestID] = activation
	return true, nil
}

func (u *unit) waiverApplications() []model.WaiverApplication {
	u.store.mu.RLock()
	applications := append([]model.WaiverApplication(nil), u.store.applications...)
	u.store.mu.RUnlock()
	return append(applications, u.applications...)
}

func (u *unit) GetWaiverConsumption(ctx context.Context, requestID string) (model.WaiverAmounts, error) {
	if err := ctx.Err(); err != nil {
		return model.WaiverAmounts{}, err
	}
	var consumed model.WaiverAmounts
	for _, app := range u.waiverApplications() {
		if app.RequestID == requestID {
			consumed.Principal += app.Amounts.Principal
			consumed.Interest += app.Amounts.Interest
			consumed.LateFee += app.Amounts.LateFee
		}
	}
	return consumed, nil
}

func (u *unit) HasWaiverApplication(ctx context.Context, requestID, obligationID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, app := range u.waiverApplications() {
		if app.RequestID == requestID && app.ObligationID == obligationID {
			return true, nil
		}
	}
	return false, nil
}

func (u *unit) RecordWaiverApplication(ctx context.Context, application model.WaiverApplication) error {
	exists, err := u.HasWaiverApplication(ctx, application.RequestID, application.ObligationID)
	if err != nil {
		return err
	}
	if exists {
		return apierror.NewAPIError(apierror.ErrConflict, "Waiver already applied to obligation", nil)
	}
	u.applications = append(u.applications, application)
	return nil
}
