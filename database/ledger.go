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

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/model"
)

const ledgerEntryColumns = `entry_id, settlement_id, obligation_id, borrower_id, entry_type,
	principal, interest, late_fee, total, COALESCE(reverses_entry_id, ''), created_at`

func queryLedgerEntries(ctx context.Context, q querier, settlementID string) ([]model.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+ledgerEntryColumns+`
		FROM repay.ledger_entries
		WHERE settlement_id = $1
		ORDER BY id ASC
	`, settlementID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		err := rows.Scan(&e.EntryID, &e.SettlementID, &e.ObligationID, &e.BorrowerID, &e.EntryType,
			&e.Principal, &e.Interest, &e.LateFee, &e.Total, &e.ReversesEntryID, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLedgerEntries lists the entries written by one settlement in the order
// they were appended.
func (d Datasource) GetLedgerEntries(ctx context.Context, settlementID string) ([]model.LedgerEntry, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Fetching ledger entries by settlement")
	defer span.End()

	entries, err := queryLedgerEntries(ctx, d.Conn, settlementID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch ledger entries", err)
	}
	return entries, nil
}

// AppendLedgerEntries inserts entries in order. Entries are never updated.
func (u *unit) AppendLedgerEntries(ctx context.Context, entries ...model.LedgerEntry) error {
	for _, e := range entries {
		var reverses sql.NullString
		if e.ReversesEntryID != "" {
			reverses = sql.NullString{String: e.ReversesEntryID, Valid: true}
		}

		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO repay.ledger_entries (entry_id, settlement_id, obligation_id, borrower_id, entry_type,
				principal, interest, late_fee, total, reverses_entry_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, e.EntryID, e.SettlementID, e.ObligationID, e.BorrowerID, e.EntryType,
			e.Principal, e.Interest, e.LateFee, e.Total, reverses, e.CreatedAt)
		if err != nil {
			return errors.Wrapf(err, "failed to append ledger entry %s", e.EntryID)
		}
	}
	return nil
}

func (u *unit) GetLedgerEntriesForSettlement(ctx context.Context, settlementID string) ([]model.LedgerEntry, error) {
	entries, err := queryLedgerEntries(ctx, u.tx, settlementID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch ledger entries")
	}
	return entries, nil
}
