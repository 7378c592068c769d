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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
)

// CreateSchedule seeds a borrower's obligations at disbursement and creates
// the account when it does not exist yet.
func (r *Repay) CreateSchedule(ctx context.Context, borrowerID string, obligations []model.Obligation) ([]model.Obligation, error) {
	ctx, span := tracer.Start(ctx, "CreateSchedule")
	defer span.End()

	if len(obligations) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "schedule must contain at least one obligation", nil)
	}
	created, err := r.datasource.CreateSchedule(ctx, borrowerID, obligations)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"borrower_id": borrowerID, "obligations": len(created)}).Info("schedule created")
	return created, nil
}

func (r *Repay) GetAccount(ctx context.Context, borrowerID string) (*model.Account, error) {
	return r.datasource.GetAccount(ctx, borrowerID)
}

// GetObligations lists every obligation of a borrower by sequence number.
func (r *Repay) GetObligations(ctx context.Context, borrowerID string) ([]model.Obligation, error) {
	return r.datasource.GetObligationsByBorrower(ctx, borrowerID)
}

// CreateRestructuringPlan records an approved plan. It activates on the
// first qualifying settlement after ApprovedAt.
func (r *Repay) CreateRestructuringPlan(ctx context.Context, plan model.RestructuringPlan) (model.RestructuringPlan, error) {
	if plan.Tenure <= 0 {
		return plan, apierror.NewAPIError(apierror.ErrBadRequest, "tenure must be positive", nil)
	}
	if plan.NewPrincipal < 0 || plan.NewInterest < 0 || plan.NewLateFee < 0 {
		return plan, apierror.NewAPIError(apierror.ErrBadRequest, "restructured amounts cannot be negative", nil)
	}
	if plan.Status == "" {
		plan.Status = model.AdjustmentApproved
	}
	if plan.ApprovedAt.IsZero() {
		plan.ApprovedAt = time.Now().UTC()
	}
	if _, err := r.datasource.GetAccount(ctx, plan.BorrowerID); err != nil {
		return plan, err
	}
	return r.datasource.CreateRestructuringPlan(ctx, plan)
}

// CreateWaiverGrant records a waiver grant over some of a borrower's obligations.
func (r *Repay) CreateWaiverGrant(ctx context.Context, grant model.WaiverGrant) (model.WaiverGrant, error) {
	if len(grant.ObligationIDs) == 0 {
		return grant, apierror.NewAPIError(apierror.ErrBadRequest, "waiver grant must target at least one obligation", nil)
	}
	if grant.MaxPrincipal < 0 || grant.MaxInterest < 0 || grant.MaxLateFee < 0 {
		return grant, apierror.NewAPIError(apierror.ErrBadRequest, "waiver budgets cannot be negative", nil)
	}
	if grant.Status == "" {
		grant.Status = model.AdjustmentActive
	}
	if _, err := r.datasource.GetAccount(ctx, grant.BorrowerID); err != nil {
		return grant, err
	}
	return r.datasource.CreateWaiverGrant(ctx, grant)
}
