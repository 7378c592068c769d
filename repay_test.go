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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/repay/config"
	"github.com/blnkfinance/repay/database/memory"
	"github.com/blnkfinance/repay/model"
	"github.com/blnkfinance/repay/normalizer"
)

const testBorrower = "bor_1"

type recordingDispatcher struct {
	mu     sync.Mutex
	events []model.PostCommitEvent
}

func (d *recordingDispatcher) SchedulePostCommit(_ context.Context, event model.PostCommitEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.events))
	for _, e := range d.events {
		names = append(names, e.Event)
	}
	return names
}

func (d *recordingDispatcher) count(event string) int {
	n := 0
	for _, name := range d.names() {
		if name == event {
			n++
		}
	}
	return n
}

func newTestRepay(t *testing.T, opts ...Option) (*Repay, *memory.Store, *recordingDispatcher) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: "localhost:6379"},
	})

	store := memory.New()
	dispatcher := &recordingDispatcher{}
	r, err := NewRepay(store, append([]Option{WithDispatcher(dispatcher)}, opts...)...)
	require.NoError(t, err)
	return r, store, dispatcher
}

func seedSchedule(t *testing.T, r *Repay, borrowerID string, obligations ...model.Obligation) []model.Obligation {
	t.Helper()
	for i := range obligations {
		if obligations[i].LoanID == "" {
			obligations[i].LoanID = "loan_1"
		}
		if obligations[i].DueDate.IsZero() {
			obligations[i].DueDate = time.Now().UTC().AddDate(0, i+1, 0)
		}
	}
	created, err := r.CreateSchedule(context.Background(), borrowerID, obligations)
	require.NoError(t, err)
	return created
}

func newNotification(reference string, amount int64) model.SettlementNotification {
	return model.SettlementNotification{
		Channel:           normalizer.ChannelBankVA,
		ExternalReference: reference,
		BorrowerID:        testBorrower,
		Amount:            amount,
		SettledAt:         time.Now().UTC(),
	}
}

func obligationsOf(t *testing.T, r *Repay, borrowerID string) []model.Obligation {
	t.Helper()
	obligations, err := r.GetObligations(context.Background(), borrowerID)
	require.NoError(t, err)
	return obligations
}

func entriesOfType(entries []model.LedgerEntry, entryType model.LedgerEntryType) []model.LedgerEntry {
	var out []model.LedgerEntry
	for _, e := range entries {
		if e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out
}
