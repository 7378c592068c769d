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
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/repay/database/memory"
	"github.com/blnkfinance/repay/internal/notification"
	"github.com/blnkfinance/repay/model"
)

func seedStuck(t *testing.T, store *memory.Store, reference string, amount int64, attempts int) *model.SettlementTransaction {
	t.Helper()
	stl := model.NewPendingSettlement(newNotification(reference, amount))
	stl.CreatedAt = time.Now().UTC().Add(-time.Hour)
	stl.Attempts = attempts
	created, err := store.EnsureSettlement(context.Background(), stl)
	require.NoError(t, err)
	require.True(t, created)
	return stl
}

func TestRecoverPendingSettlements(t *testing.T) {
	r, store, _ := newTestRepay(t)
	ctx := context.Background()
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	stuck := seedStuck(t, store, "VA-S1", 400, 2)
	fresh := model.NewPendingSettlement(newNotification("VA-S2", 100))
	_, err := store.EnsureSettlement(ctx, fresh)
	require.NoError(t, err)

	result, err := r.RecoverPendingSettlements(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, RecoveryResult{Found: 1, Recovered: 1}, result)

	stl, err := r.GetSettlement(ctx, stuck.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementProcessed, stl.Status)
	assert.Equal(t, int64(400), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)

	stl, err = r.GetSettlement(ctx, fresh.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, stl.Status)
}

func TestRecoverPendingSettlements_ExhaustedAlertsOnce(t *testing.T) {
	r, store, _ := newTestRepay(t)
	ctx := context.Background()
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	var alerts int32
	notification.RegisterWebhookSender(func(event string, _ interface{}) error {
		if event == notification.SystemErrorEvent {
			atomic.AddInt32(&alerts, 1)
		}
		return nil
	})
	defer notification.RegisterWebhookSender(nil)

	stuck := seedStuck(t, store, "VA-S3", 400, r.settings.MaxRecoveryAttempts)

	result, err := r.RecoverPendingSettlements(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Exhausted)

	result, err = r.RecoverPendingSettlements(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Exhausted)

	stl, err := r.GetSettlement(ctx, stuck.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, stl.Status)
	assert.Equal(t, r.settings.MaxRecoveryAttempts+1, stl.Attempts)
	assert.Equal(t, int64(0), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&alerts) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&alerts))
}

func TestRecoverPendingSettlements_LookupFailureStaysPending(t *testing.T) {
	r, store, _ := newTestRepay(t, WithWaiverProvider(failingWaivers{}))
	ctx := context.Background()
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	stuck := seedStuck(t, store, "VA-S4", 400, 0)

	result, err := r.RecoverPendingSettlements(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, RecoveryResult{Found: 1, Failed: 1}, result)

	stl, err := r.GetSettlement(ctx, stuck.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, stl.Status)
	assert.Equal(t, 1, stl.Attempts)
}

func TestRecoverPendingSettlements_SkipsWhileLockHeld(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r, store, _ := newTestRepay(t, WithRedis(client))
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})
	seedStuck(t, store, "VA-S5", 400, 0)

	require.NoError(t, mr.Set(recoveryLockKey, "other-node"))

	result, err := r.RecoverPendingSettlements(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, int64(0), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)

	mr.Del(recoveryLockKey)
	result, err = r.RecoverPendingSettlements(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Recovered)
}

func TestSettlementRecoveryProcessor_StartStop(t *testing.T) {
	r, _, _ := newTestRepay(t)
	p := NewSettlementRecoveryProcessor(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	assert.True(t, p.IsRunning())
	p.Stop()
	assert.False(t, p.IsRunning())
}
