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

	"github.com/blnkfinance/repay/model"
	"github.com/pkg/errors"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same statements
// serve reads outside a unit and locked reads inside one.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// unit is the Postgres UnitOfWork. It wraps one transaction opened with the
// caller's context, so cancelling the context rolls everything back.
type unit struct {
	tx      *sql.Tx
	events  []model.PostCommitEvent
	discard bool
}

// RunInUnit opens a transaction, runs fn and commits. Any error from fn, or a
// call to Discard, rolls the transaction back and drops queued events.
//
// Parameters:
// - ctx context.Context: Bounds the transaction; cancellation rolls it back.
// - fn func(UnitOfWork) error: The work to run atomically.
//
// Returns:
// - []model.PostCommitEvent: Events queued by fn, only after a successful commit.
// - error: The error returned by fn, or a begin/commit failure.
func (d Datasource) RunInUnit(ctx context.Context, fn func(UnitOfWork) error) ([]model.PostCommitEvent, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin unit of work")
	}

	u := &unit{tx: tx}
	if err := fn(u); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if u.discard {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return nil, errors.Wrap(err, "failed to roll back unit of work")
		}
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit unit of work")
	}
	return u.events, nil
}

func (u *unit) AfterCommit(event model.PostCommitEvent) {
	u.events = append(u.events, event)
}

func (u *unit) Discard() {
	u.discard = true
}
