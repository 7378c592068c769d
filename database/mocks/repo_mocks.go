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
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Settlement methods

func (m *MockDataSource) EnsureSettlement(ctx context.Context, stl *model.SettlementTransaction) (bool, error) {
	args := m.Called(ctx, stl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetSettlement(ctx context.Context, settlementID string) (*model.SettlementTransaction, error) {
	args := m.Called(ctx, settlementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SettlementTransaction), args.Error(1)
}

func (m *MockDataSource) GetSettlementByReference(ctx context.Context, channel, reference string) (*model.SettlementTransaction, error) {
	args := m.Called(ctx, channel, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SettlementTransaction), args.Error(1)
}

func (m *MockDataSource) GetStuckSettlements(ctx context.Context, createdBefore time.Time, limit int) ([]*model.SettlementTransaction, error) {
	args := m.Called(ctx, createdBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SettlementTransaction), args.Error(1)
}

func (m *MockDataSource) RecordSettlementAttempt(ctx context.Context, settlementID, lastError string) error {
	args := m.Called(ctx, settlementID, lastError)
	return args.Error(0)
}

// Obligation methods

func (m *MockDataSource) GetObligationsByBorrower(ctx context.Context, borrowerID string) ([]model.Obligation, error) {
	args := m.Called(ctx, borrowerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Obligation), args.Error(1)
}

func (m *MockDataSource) CreateSchedule(ctx context.Context, borrowerID string, obligations []model.Obligation) ([]model.Obligation, error) {
	args := m.Called(ctx, borrowerID, obligations)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Obligation), args.Error(1)
}

// Ledger methods

func (m *MockDataSource) GetLedgerEntries(ctx context.Context, settlementID string) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, settlementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LedgerEntry), args.Error(1)
}

// Account methods

func (m *MockDataSource) GetAccount(ctx context.Context, borrowerID string) (*model.Account, error) {
	args := m.Called(ctx, borrowerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

// Adjustment methods

func (m *MockDataSource) GetPendingRestructuring(ctx context.Context, borrowerID string) (*model.RestructuringPlan, bool, error) {
	args := m.Called(ctx, borrowerID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.RestructuringPlan), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetActiveWaiverGrant(ctx context.Context, obligationID string) (*model.WaiverGrant, bool, error) {
	args := m.Called(ctx, obligationID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.WaiverGrant), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) CreateRestructuringPlan(ctx context.Context, plan model.RestructuringPlan) (model.RestructuringPlan, error) {
	args := m.Called(ctx, plan)
	return args.Get(0).(model.RestructuringPlan), args.Error(1)
}

func (m *MockDataSource) CreateWaiverGrant(ctx context.Context, grant model.WaiverGrant) (model.WaiverGrant, error) {
	args := m.Called(ctx, grant)
	return args.Get(0).(model.WaiverGrant), args.Error(1)
}

// RunInUnit records the call. When the first return value is a
// database.UnitOfWork, fn is run against it before the recorded results are
// returned.
func (m *MockDataSource) RunInUnit(ctx context.Context, fn func(database.UnitOfWork) error) ([]model.PostCommitEvent, error) {
	args := m.Called(ctx, fn)
	if uow, ok := args.Get(0).(database.UnitOfWork); ok {
		if err := fn(uow); err != nil {
			return nil, err
		}
	}
	if events, ok := args.Get(1).([]model.PostCommitEvent); ok {
		return events, args.Error(2)
	}
	return nil, args.Error(2)
}
