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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/repay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
// Everything that changes settlement state goes through RunInUnit.
type IDataSource interface {
	settlement // Interface for settlement-related operations
	obligation // Interface for obligation-related operations
	ledger     // Interface for ledger entry operations
	account    // Interface for account-related operations
	adjustment // Interface for restructuring and waiver records

	// RunInUnit runs fn inside one database transaction. Events queued with
	// AfterCommit are returned only when the transaction commits.
	RunInUnit(ctx context.Context, fn func(UnitOfWork) error) ([]model.PostCommitEvent, error)
}

// settlement defines methods for handling settlement transactions outside a unit.
type settlement interface {
	EnsureSettlement(ctx context.Context, stl *model.SettlementTransaction) (bool, error)                                // Inserts the pending row unless the reference was already seen
	GetSettlement(ctx context.Context, settlementID string) (*model.SettlementTransaction, error)                        // Retrieves a settlement by ID
	GetSettlementByReference(ctx context.Context, channel, reference string) (*model.SettlementTransaction, error)       // Retrieves a settlement by channel and external reference
	GetStuckSettlements(ctx context.Context, createdBefore time.Time, limit int) ([]*model.SettlementTransaction, error) // Lists pending settlements older than a cut-off
	RecordSettlementAttempt(ctx context.Context, settlementID, lastError string) error                                   // Counts a failed processing attempt
}

// obligation defines read and seeding methods for obligations.
type obligation interface {
	GetObligationsByBorrower(ctx context.Context, borrowerID string) ([]model.Obligation, error)                       // Lists a borrower's obligations by sequence number
	CreateSchedule(ctx context.Context, borrowerID string, obligations []model.Obligation) ([]model.Obligation, error) // Seeds obligations and the account at disbursement
}

// ledger defines methods for reading ledger entries.
type ledger interface {
	GetLedgerEntries(ctx context.Context, settlementID string) ([]model.LedgerEntry, error) // Lists entries written by a settlement
}

// account defines methods for reading borrower accounts.
type account interface {
	GetAccount(ctx context.Context, borrowerID string) (*model.Account, error) // Retrieves a borrower's account aggregate
}

// adjustment defines methods for restructuring requests and waiver grants.
type adjustment interface {
	GetPendingRestructuring(ctx context.Context, borrowerID string) (*model.RestructuringPlan, bool, error) // Oldest approved plan not yet activated
	GetActiveWaiverGrant(ctx context.Context, obligationID string) (*model.WaiverGrant, bool, error)        // Oldest active grant covering the obligation
	CreateRestructuringPlan(ctx context.Context, plan model.RestructuringPlan) (model.RestructuringPlan, error)
	CreateWaiverGrant(ctx context.Context, grant model.WaiverGrant) (model.WaiverGrant, error)
}

// UnitOfWork is the set of operations available inside one atomic unit.
// Reads of mutable rows take row locks that are held until the unit ends.
type UnitOfWork interface {
	settlementUnit
	obligationUnit
	ledgerUnit
	accountUnit
	adjustmentUnit

	AfterCommit(event model.PostCommitEvent) // Queues an event for dispatch once the unit commits
	Discard()                                // Ends the unit with a rollback instead of a commit
}

type settlementUnit interface {
	LockSettlement(ctx context.Context, channel, reference string) (*model.SettlementTransaction, error)     // Locks the settlement row for the rest of the unit
	MarkSettlementProcessed(ctx context.Context, settlementID string, unallocated int64, at time.Time) error // pending -> processed
	RejectSettlement(ctx context.Context, settlementID, reason string) error                                 // pending -> rejected
}

type obligationUnit interface {
	GetOldestUnpaid(ctx context.Context, borrowerID string) (model.Obligation, bool, error)                       // Lowest sequence unpaid or partially paid obligation
	GetOutstandingSet(ctx context.Context, borrowerID string, upToSequence int) ([]*model.Obligation, error)      // Outstanding obligations in allocation order, locked
	GetObligation(ctx context.Context, obligationID string) (model.Obligation, bool, error)                       // Locks and returns one obligation
	ListObligations(ctx context.Context, borrowerID string) ([]model.Obligation, error)                           // Every obligation of the borrower
	ApplyDeltas(ctx context.Context, delta model.ObligationDelta, settledAt time.Time) (*model.Obligation, error) // Adds a delta to the paid sub-balances
	UpdateObligationDues(ctx context.Context, o *model.Obligation) error                                          // Persists reduced dues and status
	MarkObligationsStatus(ctx context.Context, obligationIDs []string, status model.ObligationStatus) error
	InsertObligations(ctx context.Context, obligations []model.Obligation) error
	MaxSequenceNumber(ctx context.Context, borrowerID string) (int, error)
}

type ledgerUnit interface {
	AppendLedgerEntries(ctx context.Context, entries ...model.LedgerEntry) error
	GetLedgerEntriesForSettlement(ctx context.Context, settlementID string) ([]model.LedgerEntry, error)
}

type accountUnit interface {
	GetAccountForUpdate(ctx context.Context, borrowerID string) (*model.Account, bool, error) // Locks the borrower's account row
	UpdateAccount(ctx context.Context, account *model.Account) error                          // Optimistic update guarded by version
}

type adjustmentUnit interface {
	RecordRestructuringActivation(ctx context.Context, activation model.RestructuringActivation) (bool, error) // false when the plan was already activated
	GetWaiverConsumption(ctx context.Context, requestID string) (model.WaiverAmounts, error)                   // Sum of waivers already applied under a request
	HasWaiverApplication(ctx context.Context, requestID, obligationID string) (bool, error)
	RecordWaiverApplication(ctx context.Context, application model.WaiverApplication) error
}
