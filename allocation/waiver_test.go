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
	"testing"
	"time"

	"github.com/blnkfinance/repay/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWaiver_BudgetClampAcrossObligations(t *testing.T) {
	grant := &model.WaiverGrant{
		RequestID:      "wr_1",
		LateFeePercent: decimal.NewFromInt(100),
		MaxLateFee:     5000,
	}
	budget := grant.Budget(model.WaiverAmounts{})
	first := obligation(1, 0, 0, 4000)
	second := obligation(2, 0, 0, 4000)

	w1, err := ComputeWaiver(first, grant, budget)
	require.NoError(t, err)
	budget = Consume(budget, w1)

	w2, err := ComputeWaiver(second, grant, budget)
	require.NoError(t, err)
	budget = Consume(budget, w2)

	assert.Equal(t, int64(4000), w1.LateFee)
	assert.Equal(t, int64(1000), w2.LateFee)
	assert.Zero(t, budget.LateFee)
}

func TestComputeWaiver_PercentagesRoundHalfUp(t *testing.T) {
	grant := &model.WaiverGrant{
		PrincipalPercent: decimal.NewFromInt(10),
		InterestPercent:  decimal.RequireFromString("12.5"),
		LateFeePercent:   decimal.NewFromInt(50),
		MaxPrincipal:     1_000_000,
		MaxInterest:      1_000_000,
		MaxLateFee:       1_000_000,
	}
	o := obligation(1, 1005, 1999, 5)

	waived, err := ComputeWaiver(o, grant, grant.Budget(model.WaiverAmounts{}))
	require.NoError(t, err)
	assert.Equal(t, model.WaiverAmounts{Principal: 101, Interest: 250, LateFee: 3}, waived)
}

func TestComputeWaiver_UsesRemainingNotDue(t *testing.T) {
	grant := &model.WaiverGrant{InterestPercent: decimal.NewFromInt(50), MaxInterest: 1000}
	o := obligation(1, 0, 1000, 0)
	o.InterestPaid = 800
	o.Status = model.ObligationPartiallyPaid

	waived, err := ComputeWaiver(o, grant, grant.Budget(model.WaiverAmounts{}))
	require.NoError(t, err)
	assert.Equal(t, int64(100), waived.Interest)
}

func TestComputeWaiver_SkipsSettledObligations(t *testing.T) {
	grant := &model.WaiverGrant{LateFeePercent: decimal.NewFromInt(100), MaxLateFee: 5000}
	o := obligation(1, 0, 0, 4000)
	o.LateFeePaid = 4000
	o.Status = model.ObligationPaid

	waived, err := ComputeWaiver(o, grant, grant.Budget(model.WaiverAmounts{}))
	require.NoError(t, err)
	assert.True(t, waived.IsZero())
}

func TestApplyWaiver(t *testing.T) {
	o := obligation(1, 1000, 100, 40)
	o.DueDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ApplyWaiver(o, model.WaiverAmounts{Interest: 20, LateFee: 40}, o.DueDate))
	assert.Equal(t, int64(80), o.InterestDue)
	assert.Zero(t, o.LateFeeDue)
	assert.Equal(t, model.ObligationUnpaid, o.Status)

	err := ApplyWaiver(o, model.WaiverAmounts{Principal: 2000}, o.DueDate)
	var iv *InvariantViolation
	assert.ErrorAs(t, err, &iv)
	assert.Equal(t, int64(1000), o.PrincipalDue)
}

func TestApplyWaiver_FullWaiverSettlesObligation(t *testing.T) {
	o := obligation(1, 0, 0, 4000)
	require.NoError(t, ApplyWaiver(o, model.WaiverAmounts{LateFee: 4000}, time.Time{}))
	assert.Equal(t, model.ObligationPaid, o.Status)
}
