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
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
)

const obligationColumns = `obligation_id, loan_id, borrower_id, sequence_number, due_date,
	principal_due, interest_due, late_fee_due, principal_paid, interest_paid, late_fee_paid,
	status, version, created_at, updated_at`

func scanObligation(row scanner) (model.Obligation, error) {
	var o model.Obligation
	err := row.Scan(&o.ID, &o.LoanID, &o.BorrowerID, &o.SequenceNumber, &o.DueDate,
		&o.PrincipalDue, &o.InterestDue, &o.LateFeeDue, &o.PrincipalPaid, &o.InterestPaid, &o.LateFeePaid,
		&o.Status, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func queryObligations(ctx context.Context, q querier, query string, args ...interface{}) ([]model.Obligation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var obligations []model.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}

func insertObligations(ctx context.Context, q querier, obligations []model.Obligation) error {
	for _, o := range obligations {
		_, err := q.ExecContext(ctx, `
			INSERT INTO repay.obligations (obligation_id, loan_id, borrower_id, sequence_number, due_date,
				principal_due, interest_due, late_fee_due, principal_paid, interest_paid, late_fee_paid,
				status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, o.ID, o.LoanID, o.BorrowerID, o.SequenceNumber, o.DueDate,
			o.PrincipalDue, o.InterestDue, o.LateFeeDue, o.PrincipalPaid, o.InterestPaid, o.LateFeePaid,
			o.Status, o.Version, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apierror.NewAPIError(apierror.ErrConflict, "Obligation with the same sequence number already exists", err)
			}
			return errors.Wrapf(err, "failed to insert obligation %s", o.ID)
		}
	}
	return nil
}

// GetObligationsByBorrower returns every obligation of the borrower ordered by
// sequence number, whatever its status.
func (d Datasource) GetObligationsByBorrower(ctx context.Context, borrowerID string) ([]model.Obligation, error) {
	ctx, span := otel.Tracer("Obligation").Start(ctx, "Fetching obligations by borrower")
	defer span.End()

	obligations, err := queryObligations(ctx, d.Conn, `
		SELECT `+obligationColumns+`
		FROM repay.obligations
		WHERE borrower_id = $1
		ORDER BY sequence_number ASC
	`, borrowerID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch obligations", err)
	}
	return obligations, nil
}

// CreateSchedule seeds the account of a borrower together with its first
// obligations. Obligations without an id get one, and missing sequence
// numbers continue after the highest existing one.
func (d Datasource) CreateSchedule(ctx context.Context, borrowerID string, obligations []model.Obligation) ([]model.Obligation, error) {
	ctx, span := otel.Tracer("Obligation").Start(ctx, "Creating repayment schedule")
	defer span.End()

	var created []model.Obligation
	_, err := d.RunInUnit(ctx, func(uow UnitOfWork) error {
		u := uow.(*unit)
		if _, err := u.tx.ExecContext(ctx, `
			INSERT INTO repay.accounts (borrower_id, status)
			VALUES ($1, 'active')
			ON CONFLICT (borrower_id) DO NOTHING
		`, borrowerID); err != nil {
			return errors.Wrap(err, "failed to create account")
		}

		account, found, err := u.GetAccountForUpdate(ctx, borrowerID)
		if err != nil {
			return err
		}
		if !found {
			return ErrAccountNotFound
		}

		next, err := u.MaxSequenceNumber(ctx, borrowerID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		created = make([]model.Obligation, 0, len(obligations))
		for _, o := range obligations {
			if o.ID == "" {
				o.ID = model.GenerateUUIDWithSuffix("obl")
			}
			if o.SequenceNumber == 0 {
				next++
				o.SequenceNumber = next
			} else if o.SequenceNumber > next {
				next = o.SequenceNumber
			}
			o.BorrowerID = borrowerID
			if o.Status == "" {
				o.Status = model.ObligationUnpaid
			}
			o.CreatedAt, o.UpdatedAt = now, now
			if err := o.CheckBalances(); err != nil {
				return apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), nil)
			}
			created = append(created, o)
		}
		if err := u.InsertObligations(ctx, created); err != nil {
			return err
		}

		all, err := u.ListObligations(ctx, borrowerID)
		if err != nil {
			return err
		}
		account.Refresh(all)
		return u.UpdateAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	logrus.Infof("created %d obligations for borrower %s", len(created), borrowerID)
	return created, nil
}

// GetOldestUnpaid locks and returns the lowest-sequence obligation that is
// still unpaid or partially paid.
func (u *unit) GetOldestUnpaid(ctx context.Context, borrowerID string) (model.Obligation, bool, error) {
	row := u.tx.QueryRowContext(ctx, `
		SELECT `+obligationColumns+`
		FROM repay.obligations
		WHERE borrower_id = $1 AND status IN ('unpaid', 'partially_paid')
		ORDER BY sequence_number ASC
		LIMIT 1
		FOR UPDATE
	`, borrowerID)

	o, err := scanObligation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Obligation{}, false, nil
		}
		return model.Obligation{}, false, errors.Wrap(err, "failed to fetch oldest unpaid obligation")
	}
	return o, true, nil
}

// GetOutstandingSet locks the borrower's outstanding obligations in
// allocation order. A positive upToSequence drops everything after it.
func (u *unit) GetOutstandingSet(ctx context.Context, borrowerID string, upToSequence int) ([]*model.Obligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM repay.obligations
		WHERE borrower_id = $1 AND status IN ('unpaid', 'partially_paid')`
	args := []interface{}{borrowerID}
	if upToSequence > 0 {
		query += ` AND sequence_number <= $2`
		args = append(args, upToSequence)
	}
	query += `
		ORDER BY sequence_number ASC
		FOR UPDATE`

	obligations, err := queryObligations(ctx, u.tx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch outstanding obligations")
	}

	set := make([]*model.Obligation, len(obligations))
	for i := range obligations {
		set[i] = &obligations[i]
	}
	return set, nil
}

func (u *unit) GetObligation(ctx context.Context, obligationID string) (model.Obligation, bool, error) {
	row := u.tx.QueryRowContext(ctx, `
		SELECT `+obligationColumns+`
		FROM repay.obligations
		WHERE obligation_id = $1
		FOR UPDATE
	`, obligationID)

	o, err := scanObligation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Obligation{}, false, nil
		}
		return model.Obligation{}, false, errors.Wrap(err, "failed to fetch obligation")
	}
	return o, true, nil
}

func (u *unit) ListObligations(ctx context.Context, borrowerID string) ([]model.Obligation, error) {
	obligations, err := queryObligations(ctx, u.tx, `
		SELECT `+obligationColumns+`
		FROM repay.obligations
		WHERE borrower_id = $1
		ORDER BY sequence_number ASC
	`, borrowerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list obligations")
	}
	return obligations, nil
}

// ApplyDeltas adds delta to the paid sub-balances of one obligation and
// recomputes its status. Negative deltas are used by reversals. The update is
// guarded by the version read under the row lock, and any result that would
// leave a sub-balance negative or above its due is refused.
func (u *unit) ApplyDeltas(ctx context.Context, delta model.ObligationDelta, settledAt time.Time) (*model.Obligation, error) {
	o, found, err := u.GetObligation(ctx, delta.ObligationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrObligationNotFound, "obligation %s", delta.ObligationID)
	}
	if delta.IsZero() {
		return &o, nil
	}
	if o.Status == model.ObligationRestructured || o.Status == model.ObligationVoid {
		return nil, errors.Wrapf(ErrStaleObligationState, "obligation %s is %s", o.ID, o.Status)
	}
	if err := o.ApplyDelta(delta, settledAt); err != nil {
		return nil, errors.Wrap(ErrStaleObligationState, err.Error())
	}

	result, err := u.tx.ExecContext(ctx, `
		UPDATE repay.obligations
		SET principal_paid = $2, interest_paid = $3, late_fee_paid = $4, status = $5,
			version = version + 1, updated_at = NOW()
		WHERE obligation_id = $1 AND version = $6
	`, o.ID, o.PrincipalPaid, o.InterestPaid, o.LateFeePaid, o.Status, o.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply obligation delta")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return nil, errors.Wrapf(ErrStaleObligationState, "obligation %s version %d", o.ID, o.Version)
	}

	o.Version++
	return &o, nil
}

// UpdateObligationDues persists reduced dues after a waiver.
func (u *unit) UpdateObligationDues(ctx context.Context, o *model.Obligation) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE repay.obligations
		SET principal_due = $2, interest_due = $3, late_fee_due = $4, status = $5,
			version = version + 1, updated_at = NOW()
		WHERE obligation_id = $1 AND version = $6
	`, o.ID, o.PrincipalDue, o.InterestDue, o.LateFeeDue, o.Status, o.Version)
	if err != nil {
		return errors.Wrap(err, "failed to update obligation dues")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errors.Wrapf(ErrStaleObligationState, "obligation %s version %d", o.ID, o.Version)
	}

	o.Version++
	return nil
}

func (u *unit) MarkObligationsStatus(ctx context.Context, obligationIDs []string, status model.ObligationStatus) error {
	if len(obligationIDs) == 0 {
		return nil
	}
	_, err := u.tx.ExecContext(ctx, `
		UPDATE repay.obligations
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE obligation_id = ANY($1)
	`, pq.Array(obligationIDs), status)
	if err != nil {
		return errors.Wrap(err, "failed to update obligation status")
	}
	return nil
}

func (u *unit) InsertObligations(ctx context.Context, obligations []model.Obligation) error {
	return insertObligations(ctx, u.tx, obligations)
}

func (u *unit) MaxSequenceNumber(ctx context.Context, borrowerID string) (int, error) {
	var maxSeq int
	err := u.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM repay.obligations
		WHERE borrower_id = $1
	`, borrowerID).Scan(&maxSeq)
	if err != nil {
		return 0, errors.Wrap(err, "failed to fetch max sequence number")
	}
	return maxSeq, nil
}
