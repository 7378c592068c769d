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
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
)

const settlementColumns = `settlement_id, channel, external_reference, borrower_id, amount, status,
	COALESCE(rejection_reason, ''), settled_at, processed_at, unallocated_amount, attempts,
	COALESCE(last_error, ''), COALESCE(reverses_settlement_id, ''), notification, created_at`

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row scanner) (*model.SettlementTransaction, error) {
	stl := &model.SettlementTransaction{}
	var processedAt sql.NullTime
	var notificationJSON []byte

	err := row.Scan(&stl.SettlementID, &stl.Channel, &stl.ExternalReference, &stl.BorrowerID, &stl.Amount, &stl.Status,
		&stl.RejectionReason, &stl.SettledAt, &processedAt, &stl.UnallocatedAmount, &stl.Attempts,
		&stl.LastError, &stl.ReversesSettlementID, &notificationJSON, &stl.CreatedAt)
	if err != nil {
		return nil, err
	}

	if processedAt.Valid {
		t := processedAt.Time
		stl.ProcessedAt = &t
	}
	if len(notificationJSON) > 0 {
		if err := json.Unmarshal(notificationJSON, &stl.Notification); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal settlement notification")
		}
	}
	return stl, nil
}

func insertSettlement(ctx context.Context, q querier, stl *model.SettlementTransaction) (bool, error) {
	notificationJSON, err := json.Marshal(stl.Notification)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal settlement notification", err)
	}

	var reverses sql.NullString
	if stl.ReversesSettlementID != "" {
		reverses = sql.NullString{String: stl.ReversesSettlementID, Valid: true}
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO repay.settlement_transactions (settlement_id, channel, external_reference, borrower_id, amount, status, settled_at, reverses_settlement_id, notification, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (channel, external_reference) DO NOTHING
	`, stl.SettlementID, stl.Channel, stl.ExternalReference, stl.BorrowerID, stl.Amount, stl.Status, stl.SettledAt, reverses, notificationJSON, stl.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Settlement %s has already been reversed", stl.ReversesSettlementID), err)
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record settlement", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// EnsureSettlement inserts the pending settlement row. It returns false when a
// row for the same channel and external reference already exists, in which
// case nothing is written.
func (d Datasource) EnsureSettlement(ctx context.Context, stl *model.SettlementTransaction) (bool, error) {
	ctx, span := otel.Tracer("Settlement").Start(ctx, "Ensuring settlement row")
	defer span.End()

	return insertSettlement(ctx, d.Conn, stl)
}

func (d Datasource) GetSettlement(ctx context.Context, settlementID string) (*model.SettlementTransaction, error) {
	ctx, span := otel.Tracer("Settlement").Start(ctx, "Getting settlement from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM repay.settlement_transactions
		WHERE settlement_id = $1
	`, settlementID)

	stl, err := scanSettlement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Settlement with ID '%s' not found", settlementID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve settlement", err)
	}
	return stl, nil
}

func (d Datasource) GetSettlementByReference(ctx context.Context, channel, reference string) (*model.SettlementTransaction, error) {
	ctx, span := otel.Tracer("Settlement").Start(ctx, "Getting settlement from db by reference")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM repay.settlement_transactions
		WHERE channel = $1 AND external_reference = $2
	`, channel, reference)

	stl, err := scanSettlement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Settlement with reference '%s' on channel '%s' not found", reference, channel), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve settlement", err)
	}
	return stl, nil
}

// GetStuckSettlements lists settlements still pending that were created
// before the cut-off, oldest first.
func (d Datasource) GetStuckSettlements(ctx context.Context, createdBefore time.Time, limit int) ([]*model.SettlementTransaction, error) {
	ctx, span := otel.Tracer("Settlement").Start(ctx, "Fetching stuck settlements")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+settlementColumns+`
		FROM repay.settlement_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch stuck settlements", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var settlements []*model.SettlementTransaction
	for rows.Next() {
		stl, err := scanSettlement(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan settlement", err)
		}
		settlements = append(settlements, stl)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating settlements", err)
	}
	return settlements, nil
}

func (d Datasource) RecordSettlementAttempt(ctx context.Context, settlementID, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE repay.settlement_transactions
		SET attempts = attempts + 1, last_error = $2
		WHERE settlement_id = $1 AND status = 'pending'
	`, settlementID, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record settlement attempt", err)
	}
	return nil
}

// LockSettlement reads the settlement row with FOR UPDATE. Two units racing
// on the same reference serialize here.
func (u *unit) LockSettlement(ctx context.Context, channel, reference string) (*model.SettlementTransaction, error) {
	row := u.tx.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM repay.settlement_transactions
		WHERE channel = $1 AND external_reference = $2
		FOR UPDATE
	`, channel, reference)

	stl, err := scanSettlement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Settlement with reference '%s' on channel '%s' not found", reference, channel), err)
		}
		return nil, errors.Wrap(err, "failed to lock settlement")
	}
	return stl, nil
}

func (u *unit) MarkSettlementProcessed(ctx context.Context, settlementID string, unallocated int64, at time.Time) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE repay.settlement_transactions
		SET status = 'processed', unallocated_amount = $2, processed_at = $3, last_error = NULL
		WHERE settlement_id = $1 AND status = 'pending'
	`, settlementID, unallocated, at)
	if err != nil {
		return errors.Wrap(err, "failed to mark settlement processed")
	}
	return expectOneRow(result, settlementID)
}

func (u *unit) RejectSettlement(ctx context.Context, settlementID, reason string) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE repay.settlement_transactions
		SET status = 'rejected', rejection_reason = $2, processed_at = NOW()
		WHERE settlement_id = $1 AND status = 'pending'
	`, settlementID, reason)
	if err != nil {
		return errors.Wrap(err, "failed to reject settlement")
	}
	return expectOneRow(result, settlementID)
}

func expectOneRow(result sql.Result, settlementID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errors.Wrapf(ErrSettlementNotPending, "settlement %s", settlementID)
	}
	return nil
}
