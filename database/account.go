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
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
)

const accountColumns = `borrower_id, total_outstanding, total_paid, total_waived, unallocated_balance,
	status, version, created_at, updated_at`

func scanAccount(row scanner) (*model.Account, error) {
	a := &model.Account{}
	err := row.Scan(&a.BorrowerID, &a.TotalOutstanding, &a.TotalPaid, &a.TotalWaived, &a.UnallocatedBalance,
		&a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (d Datasource) GetAccount(ctx context.Context, borrowerID string) (*model.Account, error) {
	ctx, span := otel.Tracer("Account").Start(ctx, "Fetching account from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM repay.accounts
		WHERE borrower_id = $1
	`, borrowerID)

	account, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account for borrower '%s' not found", borrowerID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}
	return account, nil
}

// GetAccountForUpdate locks the borrower's account row. Every unit that moves
// money for a borrower takes this lock before touching obligations, so two
// settlements for the same borrower apply their deltas one after the other.
func (u *unit) GetAccountForUpdate(ctx context.Context, borrowerID string) (*model.Account, bool, error) {
	row := u.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM repay.accounts
		WHERE borrower_id = $1
		FOR UPDATE
	`, borrowerID)

	account, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to lock account")
	}
	return account, true, nil
}

// UpdateAccount writes the aggregate back, guarded by the version read under
// the lock.
func (u *unit) UpdateAccount(ctx context.Context, account *model.Account) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE repay.accounts
		SET total_outstanding = $2, total_paid = $3, total_waived = $4, unallocated_balance = $5,
			status = $6, version = version + 1, updated_at = NOW()
		WHERE borrower_id = $1 AND version = $7
	`, account.BorrowerID, account.TotalOutstanding, account.TotalPaid, account.TotalWaived, account.UnallocatedBalance,
		account.Status, account.Version)
	if err != nil {
		return errors.Wrap(err, "failed to update account")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "Optimistic locking failure: account version mismatch", nil)
	}

	account.Version++
	return nil
}
