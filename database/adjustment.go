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
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
)

// GetPendingRestructuring returns the oldest approved plan of the borrower
// that has no activation marker yet.
func (d Datasource) GetPendingRestructuring(ctx context.Context, borrowerID string) (*model.RestructuringPlan, bool, error) {
	ctx, span := otel.Tracer("Adjustment").Start(ctx, "Fetching pending restructuring")
	defer span.End()

	plan := &model.RestructuringPlan{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT r.request_id, r.borrower_id, r.loan_id, r.status, r.approved_at, r.activation_minimum_amount,
			r.tenure, r.first_due_date, r.interval_months, r.new_principal, r.new_interest, r.new_late_fee, r.created_at
		FROM repay.restructuring_requests r
		WHERE r.borrower_id = $1 AND r.status = 'approved'
			AND NOT EXISTS (SELECT 1 FROM repay.restructuring_activations a WHERE a.request_id = r.request_id)
		ORDER BY r.approved_at ASC
		LIMIT 1
	`, borrowerID).Scan(&plan.RequestID, &plan.BorrowerID, &plan.LoanID, &plan.Status, &plan.ApprovedAt, &plan.ActivationMinimumAmount,
		&plan.Tenure, &plan.FirstDueDate, &plan.IntervalMonths, &plan.NewPrincipal, &plan.NewInterest, &plan.NewLateFee, &plan.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to fetch pending restructuring")
	}
	return plan, true, nil
}

// GetActiveWaiverGrant returns the oldest active, unexpired grant whose
// obligation list contains obligationID.
func (d Datasource) GetActiveWaiverGrant(ctx context.Context, obligationID string) (*model.WaiverGrant, bool, error) {
	ctx, span := otel.Tracer("Adjustment").Start(ctx, "Fetching active waiver grant")
	defer span.End()

	grant := &model.WaiverGrant{}
	var expiresAt sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT request_id, borrower_id, obligation_ids, principal_percent, interest_percent, late_fee_percent,
			max_principal, max_interest, max_late_fee, status, expires_at, created_at
		FROM repay.waiver_grants
		WHERE $1 = ANY(obligation_ids) AND status = 'active'
			AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at ASC
		LIMIT 1
	`, obligationID, time.Now().UTC()).Scan(&grant.RequestID, &grant.BorrowerID, pq.Array(&grant.ObligationIDs),
		&grant.PrincipalPercent, &grant.InterestPercent, &grant.LateFeePercent,
		&grant.MaxPrincipal, &grant.MaxInterest, &grant.MaxLateFee, &grant.Status, &expiresAt, &grant.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to fetch waiver grant")
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		grant.ExpiresAt = &t
	}
	return grant, true, nil
}

func (d Datasource) CreateRestructuringPlan(ctx context.Context, plan model.RestructuringPlan) (model.RestructuringPlan, error) {
	if plan.RequestID == "" {
		plan.RequestID = model.GenerateUUIDWithSuffix("rst")
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO repay.restructuring_requests (request_id, borrower_id, loan_id, status, approved_at, activation_minimum_amount,
			tenure, first_due_date, interval_months, new_principal, new_interest, new_late_fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, plan.RequestID, plan.BorrowerID, plan.LoanID, plan.Status, plan.ApprovedAt, plan.ActivationMinimumAmount,
		plan.Tenure, plan.FirstDueDate, plan.IntervalMonths, plan.NewPrincipal, plan.NewInterest, plan.NewLateFee, plan.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return plan, apierror.NewAPIError(apierror.ErrConflict, "Restructuring request already exists", err)
		}
		return plan, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create restructuring request", err)
	}
	return plan, nil
}

func (d Datasource) CreateWaiverGrant(ctx context.Context, grant model.WaiverGrant) (model.WaiverGrant, error) {
	if grant.RequestID == "" {
		grant.RequestID = model.GenerateUUIDWithSuffix("wvr")
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO repay.waiver_grants (request_id, borrower_id, obligation_ids, principal_percent, interest_percent, late_fee_percent,
			max_principal, max_interest, max_late_fee, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, grant.RequestID, grant.BorrowerID, pq.Array(grant.ObligationIDs), grant.PrincipalPercent, grant.InterestPercent, grant.LateFeePercent,
		grant.MaxPrincipal, grant.MaxInterest, grant.MaxLateFee, grant.Status, grant.ExpiresAt, grant.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return grant, apierror.NewAPIError(apierror.ErrConflict, "Waiver grant already exists", err)
		}
		return grant, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create waiver grant", err)
	}
	return grant, nil
}

// RecordRestructuringActivation writes the one-shot activation marker. It
// returns false when the request was activated before.
func (u *unit) RecordRestructuringActivation(ctx context.Context, activation model.RestructuringActivation) (bool, error) {
	result, err := u.tx.ExecContext(ctx, `
		INSERT INTO repay.restructuring_activations (request_id, borrower_id, settlement_id, activated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO NOTHING
	`, activation.RequestID, activation.BorrowerID, activation.SettlementID, activation.ActivatedAt)
	if err != nil {
		return false, errors.Wrap(err, "failed to record restructuring activation")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rowsAffected == 1, nil
}

func (u *unit) GetWaiverConsumption(ctx context.Context, requestID string) (model.WaiverAmounts, error) {
	var consumed model.WaiverAmounts
	err := u.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(principal), 0), COALESCE(SUM(interest), 0), COALESCE(SUM(late_fee), 0)
		FROM repay.waiver_applications
		WHERE request_id = $1
	`, requestID).Scan(&consumed.Principal, &consumed.Interest, &consumed.LateFee)
	if err != nil {
		return model.WaiverAmounts{}, errors.Wrap(err, "failed to sum waiver applications")
	}
	return consumed, nil
}

func (u *unit) HasWaiverApplication(ctx context.Context, requestID, obligationID string) (bool, error) {
	var exists bool
	err := u.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM repay.waiver_applications WHERE request_id = $1 AND obligation_id = $2)
	`, requestID, obligationID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check waiver application")
	}
	return exists, nil
}

func (u *unit) RecordWaiverApplication(ctx context.Context, application model.WaiverApplication) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO repay.waiver_applications (request_id, obligation_id, settlement_id, principal, interest, late_fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, application.RequestID, application.ObligationID, application.SettlementID,
		application.Amounts.Principal, application.Amounts.Interest, application.Amounts.LateFee, application.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to record waiver application")
	}
	return nil
}
