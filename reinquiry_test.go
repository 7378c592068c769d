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
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/repay/model"
	"github.com/blnkfinance/repay/normalizer"
)

func pendingInquirer(calls *int) InquirerFunc {
	return func(context.Context, string) (map[string]interface{}, error) {
		*calls++
		return nil, ErrInquiryPending
	}
}

func TestProcessReinquiry_SubmitsSettledPayment(t *testing.T) {
	inquirer := InquirerFunc(func(_ context.Context, reference string) (map[string]interface{}, error) {
		return map[string]interface{}{
			"payment_id":            reference,
			"external_id":           testBorrower,
			"amount":                float64(600),
			"transaction_timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil
	})
	r, _, _ := newTestRepay(t, WithInquirer(normalizer.ChannelBankVA, inquirer))
	seedSchedule(t, r, testBorrower, model.Obligation{PrincipalDue: 1000})

	outcome, err := r.ProcessReinquiry(context.Background(), ReinquiryTaskPayload{Channel: normalizer.ChannelBankVA, Reference: "VA-I1", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)
	assert.Equal(t, int64(600), obligationsOf(t, r, testBorrower)[0].PrincipalPaid)

	again, err := r.ProcessReinquiry(context.Background(), ReinquiryTaskPayload{Channel: normalizer.ChannelBankVA, Reference: "VA-I1", Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Status)
}

func TestProcessReinquiry_PendingIsRescheduled(t *testing.T) {
	q, _ := newTestQueue(t)
	var calls int
	r, _, _ := newTestRepay(t, WithQueue(q), WithInquirer(normalizer.ChannelBankVA, pendingInquirer(&calls)))

	_, err := r.ProcessReinquiry(context.Background(), ReinquiryTaskPayload{Channel: normalizer.ChannelBankVA, Reference: "VA-I2", Attempt: 1})
	assert.ErrorIs(t, err, ErrInquiryPending)
	assert.Equal(t, 1, calls)

	scheduled, err := q.Inspector.ListScheduledTasks(q.cfg.ReinquiryQueue)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)

	var next ReinquiryTaskPayload
	require.NoError(t, json.Unmarshal(scheduled[0].Payload, &next))
	assert.Equal(t, 2, next.Attempt)
}

func TestProcessReinquiry_GivesUpAfterLastAttempt(t *testing.T) {
	var calls int
	r, _, _ := newTestRepay(t, WithInquirer(normalizer.ChannelBankVA, pendingInquirer(&calls)))

	_, err := r.ProcessReinquiry(context.Background(), ReinquiryTaskPayload{
		Channel:   normalizer.ChannelBankVA,
		Reference: "VA-I3",
		Attempt:   r.settings.MaxReinquiries,
	})
	assert.ErrorIs(t, err, ErrInquiryPending)
	assert.Equal(t, 1, calls)

	body, err := json.Marshal(ReinquiryTaskPayload{Channel: normalizer.ChannelBankVA, Reference: "VA-I3", Attempt: r.settings.MaxReinquiries})
	require.NoError(t, err)
	assert.NoError(t, r.ProcessReinquiryTask(context.Background(), asynq.NewTask("reinquiry_queue", body)))
}

func TestScheduleReinquiry(t *testing.T) {
	r, _, _ := newTestRepay(t)
	assert.ErrorIs(t, r.ScheduleReinquiry(context.Background(), normalizer.ChannelBankVA, "VA-I4", 0), ErrQueueNotConfigured)

	q, _ := newTestQueue(t)
	var calls int
	r, _, _ = newTestRepay(t, WithQueue(q), WithInquirer(normalizer.ChannelBankVA, pendingInquirer(&calls)))

	assert.Error(t, r.ScheduleReinquiry(context.Background(), normalizer.ChannelEWallet, "EW-1", 0))
	require.NoError(t, r.ScheduleReinquiry(context.Background(), normalizer.ChannelBankVA, "VA-I4", 0))

	scheduled, err := q.Inspector.ListScheduledTasks(q.cfg.ReinquiryQueue)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.WithinDuration(t, time.Now().Add(r.settings.ReinquiryDelay()), scheduled[0].NextProcessAt, 5*time.Second)
	assert.Equal(t, 0, calls)
}
