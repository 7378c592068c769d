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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/repay/model"
	"github.com/blnkfinance/repay/normalizer"
)

func TestProcessNotification_WaterfallSpillsToNextObligation(t *testing.T) {
	r, _, dispatcher := newTestRepay(t)
	ctx := context.Background()
	seeded := seedSchedule(t, r, testBorrower,
		model.Obligation{PrincipalDue: 1000, InterestDue: 200, LateFeeDue: 50},
		model.Obligation{PrincipalDue: 1000, InterestDue: 200, LateFeeDue: 50},
	)

	outcome, err := r.ProcessNotification(ctx, newNotification("VA-100", 1500))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)
	assert.Equal(t, int64(0), outcome.UnallocatedAmount)

	obligations := obligationsOf(t, r, testBorrower)
	require.Len(t, obligations, 2)
	assert.Equal(t, seeded[0].ID, obligations[0].ID)
	assert.Equal(t, model.ObligationPaid, obligations[0].Status)
	assert.Equal(t, int64(1250), obligations[0].TotalPaid())
	assert.Equal(t, model.ObligationPartiallyPaid, obligations[1].Status)
	assert.Equal(t, int64(250), obligations[1].PrincipalPaid)
	assert.Equal(t, int64(0), obligations[1].InterestPaid)

	entries, err := r.GetLedgerEntries(ctx, outcome.SettlementID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.EntryAllocation, entries[0].EntryType)
	assert.Equal(t, int64(1250), entries[0].Total)
	assert.Equal(t, int64(250), entries[1].Total)

	account, err := r.GetAccount(ctx, testBorrower)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), account.TotalPaid)
	assert.Equal(t, int64(1000), account.TotalOutstanding)
	assert.Equal(t, model.AccountActive, account.Status)

	assert.Equal(t, 1, dispatcher.count(model.EventSettlementProcessed))
	assert.Equal(t, 1, dispatcher.count(model.EventObligationPaid))
	assert.Equal(t, 0, dispatcher.count(model.EventSettlementUnallocated))
}

func TestProcessNotification_SurplusIsUnallocated(t *testing.T) {
	r, _, dispatcher := newTestRepay(t)
	ctx := context.Background()
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000, InterestDue: 100})

	outcome, err := r.ProcessNotification(ctx, newNotification("VA-101", 1500))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)
	assert.Equal(t, int64(400), outcome.UnallocatedAmount)

	stl, err := r.GetSettlement(ctx, outcome.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementProcessed, stl.Status)
	assert.Equal(t, int64(400), stl.UnallocatedAmount)
	assert.NotNil(t, stl.ProcessedAt)

	account, err := r.GetAccount(ctx, testBorrower)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), account.TotalPaid)
	assert.Equal(t, int64(400), account.UnallocatedBalance)
	assert.Equal(t, model.AccountSettled, account.Status)

	assert.Equal(t, 1, dispatcher.count(model.EventSettlementUnallocated))
	assert.Equal(t, 1, dispatcher.count(model.EventAccountSettled))
}

func TestProcessNotification_NothingOutstandingIsUnallocated(t *testing.T) {
	r, _, dispatcher := newTestRepay(t)
	ctx := context.Background()
	seeded := seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 500})

	_, err := r.ProcessNotification(ctx, newNotification("VA-104", 500))
	require.NoError(t, err)

	n := newNotification("VA-105", 300)
	n.TargetObligationID = seeded[0].ID
	outcome, err := r.ProcessNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)
	assert.Equal(t, int64(300), outcome.UnallocatedAmount)

	entries, err := r.GetLedgerEntries(ctx, outcome.SettlementID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	account, err := r.GetAccount(ctx, testBorrower)
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.TotalPaid)
	assert.Equal(t, int64(300), account.UnallocatedBalance)
	assert.Equal(t, int64(500), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)
	assert.Equal(t, 1, dispatcher.count(model.EventSettlementUnallocated))
}

func TestProcessNotification_LatePaymentMarksPaidLate(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 500, DueDate: time.Now().UTC().AddDate(0, 0, -3)})

	_, err := r.ProcessNotification(context.Background(), newNotification("VA-102", 500))
	require.NoError(t, err)

	obligations := obligationsOf(t, r, testBorrower)
	assert.Equal(t, model.ObligationPaidLate, obligations[0].Status)
}

func TestProcessNotification_ZeroAmount(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 500})

	outcome, err := r.ProcessNotification(context.Background(), newNotification("VA-103", 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)

	entries, err := r.GetLedgerEntries(context.Background(), outcome.SettlementID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessNotification_Idempotent(t *testing.T) {
	r, _, dispatcher := newTestRepay(t)
	ctx := context.Background()
	seedSchedule(t, r, testBorrower,
		model.Obligation{PrincipalDue: 1000, InterestDue: 100},
		model.Obligation{PrincipalDue: 1000, InterestDue: 100},
	)

	n := newNotification("VA-200", 1600)
	first, err := r.ProcessNotification(ctx, n)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, first.Status)
	before := obligationsOf(t, r, testBorrower)

	for i := 0; i < 4; i++ {
		again, err := r.ProcessNotification(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, again.Status)
		assert.Equal(t, first.SettlementID, again.SettlementID)
	}

	assert.Equal(t, before, obligationsOf(t, r, testBorrower))
	entries, err := r.GetLedgerEntries(ctx, first.SettlementID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 1, dispatcher.count(model.EventSettlementProcessed))
}

func TestProcessNotification_ConcurrentDeliveries(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000}, model.Obligation{PrincipalDue: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := newNotification("VA-300", 1200)
	outcomes := make([]SettlementOutcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = r.ProcessNotification(ctx, n)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	statuses := []OutcomeStatus{outcomes[0].Status, outcomes[1].Status}
	assert.ElementsMatch(t, []OutcomeStatus{OutcomeProcessed, OutcomeAlreadyProcessed}, statuses)
	assert.Equal(t, outcomes[0].SettlementID, outcomes[1].SettlementID)

	var paid int64
	for _, o := range obligationsOf(t, r, testBorrower) {
		paid += o.TotalPaid()
	}
	assert.Equal(t, int64(1200), paid)
}

func TestProcessNotification_ConcurrentDistinctReferences(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000}, model.Obligation{PrincipalDue: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, ref := range []string{"VA-301", "VA-302", "VA-303", "VA-304"} {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			_, err := r.ProcessNotification(ctx, newNotification(ref, 400))
			assert.NoError(t, err)
		}(ref)
	}
	wg.Wait()

	obligations := obligationsOf(t, r, testBorrower)
	assert.Equal(t, model.ObligationPaid, obligations[0].Status)
	assert.Equal(t, int64(600), obligations[1].PrincipalPaid)
}

func TestProcessNotification_UnknownBorrowerIsRejected(t *testing.T) {
	r, _, dispatcher := newTestRepay(t)
	ctx := context.Background()

	n := newNotification("VA-400", 100)
	n.BorrowerID = "bor_missing"
	outcome, err := r.ProcessNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome.Status)
	assert.Equal(t, NoAccountReason, outcome.Reason)

	stl, err := r.GetSettlementByReference(ctx, n.Channel, n.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementRejected, stl.Status)

	again, err := r.ProcessNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Status)
	assert.Equal(t, 1, dispatcher.count(model.EventSettlementRejected))
}

func TestProcessNotification_TargetHintBoundsAllocation(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seeded := seedSchedule(t, r, testBorrower,
		model.Obligation{PrincipalDue: 1000},
		model.Obligation{PrincipalDue: 1000},
		model.Obligation{PrincipalDue: 1000},
	)

	n := newNotification("VA-500", 2500)
	n.TargetObligationID = seeded[1].ID
	outcome, err := r.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, int64(500), outcome.UnallocatedAmount)

	obligations := obligationsOf(t, r, testBorrower)
	assert.Equal(t, model.ObligationPaid, obligations[0].Status)
	assert.Equal(t, model.ObligationPaid, obligations[1].Status)
	assert.Equal(t, model.ObligationUnpaid, obligations[2].Status)
}

func TestProcessNotification_UnknownTargetHintIsIgnored(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000}, model.Obligation{PrincipalDue: 1000})

	n := newNotification("VA-501", 1500)
	n.TargetObligationID = "obl_unknown"
	outcome, err := r.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, int64(0), outcome.UnallocatedAmount)
	assert.Equal(t, int64(500), obligationsOf(t, r, testBorrower)[1].PrincipalPaid)
}

func TestSubmitSettlement_NormalizesPayload(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	outcome, err := r.SubmitSettlement(context.Background(), normalizer.ChannelBankVA, map[string]interface{}{
		"payment_id":            "pay_1",
		"external_id":           testBorrower,
		"amount":                float64(700),
		"transaction_timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)
	assert.Equal(t, int64(700), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)
}

func TestSubmitSettlement_InvalidPayloadIsNotRetryable(t *testing.T) {
	r, _, _ := newTestRepay(t)

	_, err := r.SubmitSettlement(context.Background(), normalizer.ChannelBankVA, map[string]interface{}{
		"payment_id":  "pay_2",
		"external_id": testBorrower,
		"amount":      float64(-5),
	})
	require.Error(t, err)
	assert.True(t, normalizer.IsNormalizationError(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 422, HTTPStatus(err))
}

type failingWaivers struct{}

func (failingWaivers) GetActiveWaiverGrant(context.Context, string) (*model.WaiverGrant, bool, error) {
	return nil, false, errors.New("waiver service unavailable")
}

func TestProcessNotification_LookupFailureLeavesPending(t *testing.T) {
	r, _, dispatcher := newTestRepay(t, WithWaiverProvider(failingWaivers{}))
	ctx := context.Background()
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	n := newNotification("VA-600", 300)
	_, err := r.ProcessNotification(ctx, n)
	require.Error(t, err)

	var lookup *AdjustmentLookupError
	require.ErrorAs(t, err, &lookup)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 503, HTTPStatus(err))

	stl, err := r.GetSettlementByReference(ctx, n.Channel, n.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, stl.Status)
	assert.Equal(t, 1, stl.Attempts)
	assert.Contains(t, stl.LastError, "waiver service unavailable")

	assert.Equal(t, int64(0), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)
	assert.Empty(t, dispatcher.names())
}

func TestProcessNotification_CancelledContextRollsBack(t *testing.T) {
	r, _, _ := newTestRepay(t)
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ProcessNotification(ctx, newNotification("VA-601", 300))
	require.Error(t, err)
	assert.Equal(t, int64(0), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)
}

func TestProcessNotification_ConservesAmount(t *testing.T) {
	faker := gofakeit.New(42)

	for i := 0; i < 40; i++ {
		r, _, _ := newTestRepay(t)
		ctx := context.Background()

		count := faker.IntRange(1, 5)
		schedule := make([]model.Obligation, count)
		var owed int64
		for j := range schedule {
			schedule[j] = model.Obligation{
				PrincipalDue: int64(faker.IntRange(0, 5000)),
				InterestDue:  int64(faker.IntRange(0, 800)),
				LateFeeDue:   int64(faker.IntRange(0, 200)),
			}
			owed += schedule[j].PrincipalDue + schedule[j].InterestDue + schedule[j].LateFeeDue
		}
		seedSchedule(t, r, testBorrower, schedule...)

		amount := int64(faker.IntRange(1, 20000))
		outcome, err := r.ProcessNotification(ctx, newNotification(faker.UUID(), amount))
		require.NoError(t, err)

		entries, err := r.GetLedgerEntries(ctx, outcome.SettlementID)
		require.NoError(t, err)
		var allocated int64
		for _, e := range entries {
			assert.GreaterOrEqual(t, e.Principal, int64(0))
			assert.GreaterOrEqual(t, e.Interest, int64(0))
			assert.GreaterOrEqual(t, e.LateFee, int64(0))
			allocated += e.Total
		}
		assert.Equal(t, amount, allocated+outcome.UnallocatedAmount, "iteration %d", i)

		expectedAllocated := amount
		if owed < amount {
			expectedAllocated = owed
		}
		assert.Equal(t, expectedAllocated, allocated, "iteration %d", i)

		for _, o := range obligationsOf(t, r, testBorrower) {
			assert.NoError(t, o.CheckBalances())
		}
	}
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]model.SettlementTransaction
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string]model.SettlementTransaction)
	}
	c.items[key] = *value.(*model.SettlementTransaction)
	return nil
}

func (c *mapCache) Get(_ context.Context, key string, data interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stl, ok := c.items[key]
	if !ok {
		return false, nil
	}
	*data.(*model.SettlementTransaction) = stl
	return true, nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func TestProcessNotification_CachedOutcomeShortCircuits(t *testing.T) {
	outcomes := &mapCache{}
	r, _, _ := newTestRepay(t, WithOutcomeCache(outcomes))
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	n := newNotification("VA-700", 100)
	first, err := r.ProcessNotification(context.Background(), n)
	require.NoError(t, err)

	cached, ok := outcomes.items[outcomeCacheKey(n.Channel, n.ExternalReference)]
	require.True(t, ok)
	assert.Equal(t, first.SettlementID, cached.SettlementID)
	assert.Equal(t, model.SettlementProcessed, cached.Status)

	again, err := r.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Status)
	assert.Equal(t, first.SettlementID, again.SettlementID)
}

func TestProcessNotification_RedisOutcomeCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r, _, _ := newTestRepay(t, WithRedis(client))
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	n := newNotification("VA-701", 100)
	_, err = r.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, mr.Exists(outcomeCacheKey(n.Channel, n.ExternalReference)))

	again, err := r.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Status)
}
