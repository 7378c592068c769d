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
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/repay/allocation"
	"github.com/blnkfinance/repay/model"
)

func createPlan(t *testing.T, r *Repay, minimum int64) model.RestructuringPlan {
	t.Helper()
	plan, err := r.CreateRestructuringPlan(context.Background(), model.RestructuringPlan{
		RequestID:               "rst_1",
		BorrowerID:              testBorrower,
		LoanID:                  "loan_1",
		ApprovedAt:              time.Now().UTC().Add(-time.Hour),
		ActivationMinimumAmount: minimum,
		Tenure:                  4,
		FirstDueDate:            time.Now().UTC().AddDate(0, 1, 0),
		IntervalMonths:          1,
	})
	require.NoError(t, err)
	return plan
}

func TestRestructuring_ActivatesOnceAndCarriesOverBalance(t *testing.T) {
	r, _, dispatcher := newTestRepay(t)
	ctx := context.Background()
	seeded := seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000}, model.Obligation{PrincipalDue: 1000})
	createPlan(t, r, 100)

	outcome, err := r.ProcessNotification(ctx, newNotification("VA-R1", 100))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome.Status)

	obligations := obligationsOf(t, r, testBorrower)
	require.Len(t, obligations, 6)
	for _, o := range obligations[:2] {
		assert.Equal(t, model.ObligationRestructured, o.Status)
	}
	assert.Equal(t, seeded[0].ID, obligations[0].ID)

	var newPrincipal int64
	for i, o := range obligations[2:] {
		assert.Equal(t, i+3, o.SequenceNumber)
		assert.Equal(t, int64(500), o.PrincipalDue)
		newPrincipal += o.PrincipalDue
	}
	assert.Equal(t, int64(2000), newPrincipal)
	assert.Equal(t, int64(100), obligations[2].PrincipalPaid)
	assert.Equal(t, model.ObligationPartiallyPaid, obligations[2].Status)

	entries, err := r.GetLedgerEntries(ctx, outcome.SettlementID)
	require.NoError(t, err)
	restructure := entriesOfType(entries, model.EntryRestructure)
	require.Len(t, restructure, 6)
	var net int64
	for _, e := range restructure {
		net += e.Total
	}
	assert.Equal(t, int64(0), net)
	assert.Len(t, entriesOfType(entries, model.EntryAllocation), 1)

	account, err := r.GetAccount(ctx, testBorrower)
	require.NoError(t, err)
	assert.Equal(t, int64(1900), account.TotalOutstanding)

	_, err = r.ProcessNotification(ctx, newNotification("VA-R2", 100))
	require.NoError(t, err)
	assert.Len(t, obligationsOf(t, r, testBorrower), 6)
	assert.Equal(t, 1, dispatcher.count(model.EventRestructuringActivated))
	assert.Equal(t, int64(200), obligationsOf(t, r, testBorrower)[2].PrincipalPaid)
}

func TestRestructuring_BelowMinimumDoesNotActivate(t *testing.T) {
	r, _, dispatcher := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000}, model.Obligation{PrincipalDue: 1000})
	createPlan(t, r, 100)

	_, err := r.ProcessNotification(context.Background(), newNotification("VA-R3", 50))
	require.NoError(t, err)

	obligations := obligationsOf(t, r, testBorrower)
	require.Len(t, obligations, 2)
	assert.Equal(t, int64(50), obligations[0].PrincipalPaid)
	assert.Equal(t, 0, dispatcher.count(model.EventRestructuringActivated))

	plan, found, err := r.Datasource().GetPendingRestructuring(context.Background(), testBorrower)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rst_1", plan.RequestID)
}

func TestCreateRestructuringPlan_Validation(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	_, err := r.CreateRestructuringPlan(context.Background(), model.RestructuringPlan{BorrowerID: testBorrower})
	assert.Equal(t, 400, HTTPStatus(err))

	_, err = r.CreateRestructuringPlan(context.Background(), model.RestructuringPlan{BorrowerID: "bor_missing", Tenure: 2})
	assert.Equal(t, 404, HTTPStatus(err))
}

func TestWaiver_BudgetSharedAcrossObligations(t *testing.T) {
	r, _, dispatcher := newTestRepay(t)
	ctx := context.Background()
	seeded := seedSchedule(t, r, testBorrower,
		model.Obligation{PrincipalDue: 1000, LateFeeDue: 4000},
		model.Obligation{PrincipalDue: 1000, LateFeeDue: 4000},
	)

	_, err := r.CreateWaiverGrant(ctx, model.WaiverGrant{
		RequestID:      "wvr_1",
		BorrowerID:     testBorrower,
		ObligationIDs:  []string{seeded[0].ID, seeded[1].ID},
		LateFeePercent: decimal.NewFromInt(100),
		MaxLateFee:     5000,
	})
	require.NoError(t, err)

	outcome, err := r.ProcessNotification(ctx, newNotification("VA-W1", 500))
	require.NoError(t, err)

	obligations := obligationsOf(t, r, testBorrower)
	assert.Equal(t, int64(0), obligations[0].LateFeeDue)
	assert.Equal(t, int64(3000), obligations[1].LateFeeDue)
	assert.Equal(t, int64(500), obligations[0].PrincipalPaid)

	entries, err := r.GetLedgerEntries(ctx, outcome.SettlementID)
	require.NoError(t, err)
	waivers := entriesOfType(entries, model.EntryWaiver)
	require.Len(t, waivers, 2)
	assert.Equal(t, int64(4000), waivers[0].LateFee)
	assert.Equal(t, int64(1000), waivers[1].LateFee)

	account, err := r.GetAccount(ctx, testBorrower)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), account.TotalWaived)

	second, err := r.ProcessNotification(ctx, newNotification("VA-W2", 500))
	require.NoError(t, err)
	entries, err = r.GetLedgerEntries(ctx, second.SettlementID)
	require.NoError(t, err)
	assert.Empty(t, entriesOfType(entries, model.EntryWaiver))

	account, err = r.GetAccount(ctx, testBorrower)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), account.TotalWaived)
	assert.Equal(t, 2, dispatcher.count(model.EventWaiverApplied))
}

func TestWaiver_ExpiredGrantIsIgnored(t *testing.T) {
	r, _, _ := newTestRepay(t)
	ctx := context.Background()
	seeded := seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000, LateFeeDue: 100})

	expired := time.Now().UTC().Add(-time.Minute)
	_, err := r.CreateWaiverGrant(ctx, model.WaiverGrant{
		RequestID:      "wvr_2",
		BorrowerID:     testBorrower,
		ObligationIDs:  []string{seeded[0].ID},
		LateFeePercent: decimal.NewFromInt(100),
		MaxLateFee:     100,
		ExpiresAt:      &expired,
	})
	require.NoError(t, err)

	_, err = r.ProcessNotification(ctx, newNotification("VA-W3", 100))
	require.NoError(t, err)

	o := obligationsOf(t, r, testBorrower)[0]
	assert.Equal(t, int64(100), o.LateFeeDue)
	assert.Equal(t, int64(100), o.PrincipalPaid)
}

func TestCreateWaiverGrant_Validation(t *testing.T) {
	r, _, _ := newTestRepay(t)

	_, err := r.CreateWaiverGrant(context.Background(), model.WaiverGrant{BorrowerID: testBorrower})
	assert.Equal(t, 400, HTTPStatus(err))

	_, err = r.CreateWaiverGrant(context.Background(), model.WaiverGrant{BorrowerID: testBorrower, ObligationIDs: []string{"obl_1"}, MaxLateFee: -1})
	assert.Equal(t, 400, HTTPStatus(err))
}

func TestRestructuring_UnsplittablePlanIsInvariantViolation(t *testing.T) {
	r, store, _ := newTestRepay(t)
	ctx := context.Background()
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	_, err := store.CreateRestructuringPlan(ctx, model.RestructuringPlan{
		RequestID:    "rst_broken",
		BorrowerID:   testBorrower,
		LoanID:       "loan_1",
		Status:       model.AdjustmentApproved,
		ApprovedAt:   time.Now().UTC().Add(-time.Hour),
		Tenure:       0,
		FirstDueDate: time.Now().UTC().AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	_, err = r.ProcessNotification(ctx, newNotification("VA-R9", 100))
	require.Error(t, err)
	var invariant *allocation.InvariantViolation
	assert.True(t, errors.As(err, &invariant), "got %T", err)

	stl, err := r.GetSettlementByReference(ctx, "bank_va", "VA-R9")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, stl.Status)
	assert.Equal(t, 1, stl.Attempts)
	assert.Equal(t, int64(0), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)
}
