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

// Package memory is an in-process implementation of database.IDataSource.
// Row locks are emulated with keyed locks held until the unit ends, and a
// unit's writes become visible only when it commits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
)

type Store struct {
	mu           sync.RWMutex
	locks        *rowLocks
	accounts     map[string]model.Account
	obligations  map[string]model.Obligation
	settlements  map[string]model.SettlementTransaction
	references   map[string]string
	entries      []model.LedgerEntry
	plans        map[string]model.RestructuringPlan
	activations  map[string]model.RestructuringActivation
	grants       map[string]model.WaiverGrant
	applications []model.WaiverApplication
}

var _ database.IDataSource = (*Store)(nil)

func New() *Store {
	return &Store{
		locks:       newRowLocks(),
		accounts:    make(map[string]model.Account),
		obligations: make(map[string]model.Obligation),
		settlements: make(map[string]model.SettlementTransaction),
		references:  make(map[string]string),
		plans:       make(map[string]model.RestructuringPlan),
		activations: make(map[string]model.RestructuringActivation),
		grants:      make(map[string]model.WaiverGrant),
	}
}

func notFound(format string, args ...interface{}) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf(format, args...), nil)
}

// RunInUnit runs fn against a staged view of the store. Writes are applied
// under the store mutex only when fn succeeds and ctx is still live.
func (s *Store) RunInUnit(ctx context.Context, fn func(database.UnitOfWork) error) ([]model.PostCommitEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := newUnit(s)
	defer u.releaseLocks()

	if err := fn(u); err != nil {
		return nil, err
	}
	if u.discard {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.commit(u)
	return u.events, nil
}

func (s *Store) commit(u *unit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range u.accounts {
		s.accounts[id] = a
	}
	for id, o := range u.obligations {
		s.obligations[id] = o
	}
	for id, stl := range u.settlements {
		s.settlements[id] = stl
		s.references[model.SettlementKey(stl.Channel, stl.ExternalReference)] = id
	}
	s.entries = append(s.entries, u.entries...)
	for id, a := range u.activations {
		s.activations[id] = a
	}
	s.applications = append(s.applications, u.applications...)
}

// EnsureSettlement inserts the pending row unless the reference is known.
func (s *Store) EnsureSettlement(_ context.Context, stl *model.SettlementTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.SettlementKey(stl.Channel, stl.ExternalReference)
	if _, exists := s.references[key]; exists {
		return false, nil
	}
	if stl.ReversesSettlementID != "" {
		for _, existing := range s.settlements {
			if existing.ReversesSettlementID == stl.ReversesSettlementID {
				return false, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Settlement %s has already been reversed", stl.ReversesSettlementID), nil)
			}
		}
	}
	s.settlements[stl.SettlementID] = *stl
	s.references[key] = stl.SettlementID
	return true, nil
}

func (s *Store) GetSettlement(_ context.Context, settlementID string) (*model.SettlementTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stl, ok := s.settlements[settlementID]
	if !ok {
		return nil, notFound("Settlement with ID '%s' not found", settlementID)
	}
	return &stl, nil
}

func (s *Store) GetSettlementByReference(_ context.Context, channel, reference string) (*model.SettlementTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.references[model.SettlementKey(channel, reference)]
	if !ok {
		return nil, notFound("Settlement with reference '%s' on channel '%s' not found", reference, channel)
	}
	stl := s.settlements[id]
	return &stl, nil
}

func (s *Store) GetStuckSettlements(_ context.Context, createdBefore time.Time, limit int) ([]*model.SettlementTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stuck []*model.SettlementTransaction
	for _, stl := range s.settlements {
		if stl.Status == model.SettlementPending && stl.CreatedAt.Before(createdBefore) {
			stl := stl
			stuck = append(stuck, &stl)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].CreatedAt.Before(stuck[j].CreatedAt) })
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (s *Store) RecordSettlementAttempt(_ context.Context, settlementID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stl, ok := s.settlements[settlementID]
	if !ok || stl.Status != model.SettlementPending {
		return nil
	}
	stl.Attempts++
	stl.LastError = lastError
	s.settlements[settlementID] = stl
	return nil
}

func (s *Store) GetObligationsByBorrower(_ context.Context, borrowerID string) ([]model.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.borrowerObligations(borrowerID), nil
}

// borrowerObligations must be called with s.mu held.
func (s *Store) borrowerObligations(borrowerID string) []model.Obligation {
	var obligations []model.Obligation
	for _, o := range s.obligations {
		if o.BorrowerID == borrowerID {
			obligations = append(obligations, o)
		}
	}
	sortBySequence(obligations)
	return obligations
}

func sortBySequence(obligations []model.Obligation) {
	sort.Slice(obligations, func(i, j int) bool {
		return obligations[i].SequenceNumber < obligations[j].SequenceNumber
	})
}

// CreateSchedule creates the account when missing and inserts obligations,
// assigning ids and sequence numbers that were left empty.
func (s *Store) CreateSchedule(ctx context.Context, borrowerID string, obligations []model.Obligation) ([]model.Obligation, error) {
	var created []model.Obligation
	_, err := s.RunInUnit(ctx, func(uow database.UnitOfWork) error {
		u := uow.(*unit)
		if err := u.lockBorrower(ctx, borrowerID); err != nil {
			return err
		}

		account, found, err := u.GetAccountForUpdate(ctx, borrowerID)
		if err != nil {
			return err
		}
		if !found {
			now := time.Now().UTC()
			account = &model.Account{BorrowerID: borrowerID, Status: model.AccountActive, CreatedAt: now, UpdatedAt: now}
			u.accounts[borrowerID] = *account
		}

		next, err := u.MaxSequenceNumber(ctx, borrowerID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, o := range obligations {
			if o.ID == "" {
				o.ID = model.GenerateUUIDWithSuffix("obl")
			}
			if o.SequenceNumber == 0 {
				next++
				o.SequenceNumber = next
			} else if o.SequenceNumber > next {
				next = o.SequenceNumber
			}
			o.BorrowerID = borrowerID
			if o.Status == "" {
				o.Status = model.ObligationUnpaid
			}
			o.CreatedAt, o.UpdatedAt = now, now
			if err := o.CheckBalances(); err != nil {
				return apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), nil)
			}
			created = append(created, o)
		}
		if err := u.InsertObligations(ctx, created); err != nil {
			return err
		}

		all, err := u.ListObligations(ctx, borrowerID)
		if err != nil {
			return err
		}
		account.Refresh(all)
		return u.UpdateAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetLedgerEntries(_ context.Context, settlementID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.LedgerEntry
	for _, e := range s.entries {
		if e.SettlementID == settlementID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) GetAccount(_ context.Context, borrowerID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[borrowerID]
	if !ok {
		return nil, notFound("Account for borrower '%s' not found", borrowerID)
	}
	return &account, nil
}

func (s *Store) GetPendingRestructuring(_ context.Context, borrowerID string) (*model.RestructuringPlan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest *model.RestructuringPlan
	for _, plan := range s.plans {
		if plan.BorrowerID != borrowerID || plan.Status != model.AdjustmentApproved {
			continue
		}
		if _, activated := s.activations[plan.RequestID]; activated {
			continue
		}
		if oldest == nil || plan.ApprovedAt.Before(oldest.ApprovedAt) {
			plan := plan
			oldest = &plan
		}
	}
	return oldest, oldest != nil, nil
}

func (s *Store) GetActiveWaiverGrant(_ context.Context, obligationID string) (*model.WaiverGrant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var oldest *model.WaiverGrant
	for _, grant := range s.grants {
		if !grant.IsActiveAt(now) || !grant.Targets(obligationID) {
			continue
		}
		if oldest == nil || grant.CreatedAt.Before(oldest.CreatedAt) {
			grant := grant
			oldest = &grant
		}
	}
	return oldest, oldest != nil, nil
}

func (s *Store) CreateRestructuringPlan(_ context.Context, plan model.RestructuringPlan) (model.RestructuringPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.RequestID == "" {
		plan.RequestID = model.GenerateUUIDWithSuffix("rst")
	}
	if _, exists := s.plans[plan.RequestID]; exists {
		return plan, apierror.NewAPIError(apierror.ErrConflict, "Restructuring request already exists", nil)
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	s.plans[plan.RequestID] = plan
	return plan, nil
}

func (s *Store) CreateWaiverGrant(_ context.Context, grant model.WaiverGrant) (model.WaiverGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if grant.RequestID == "" {
		grant.RequestID = model.GenerateUUIDWithSuffix("wvr")
	}
	if _, exists := s.grants[grant.RequestID]; exists {
		return grant, apierror.NewAPIError(apierror.ErrConflict, "Waiver grant already exists", nil)
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	grant.ObligationIDs = append([]string(nil), grant.ObligationIDs...)
	s.grants[grant.RequestID] = grant
	return grant, nil
}
