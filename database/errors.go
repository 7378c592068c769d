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
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var (
	// ErrObligationNotFound means an obligation id taken from an earlier read
	// no longer resolves. The unit must be rolled back and retried.
	ErrObligationNotFound = errors.New("obligation not found")

	// ErrStaleObligationState means a guarded update matched no row: the
	// obligation changed since it was read, or the delta would overpay it.
	ErrStaleObligationState = errors.New("obligation state is stale")

	// ErrSettlementNotPending means a status transition was attempted on a
	// settlement that is already terminal.
	ErrSettlementNotPending = errors.New("settlement is not pending")

	ErrAccountNotFound = errors.New("account not found")
)

// IsRetryableConflict reports whether err is a Postgres serialization failure
// or deadlock, both of which succeed when the whole unit is replayed.
func IsRetryableConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "serialization_failure", "deadlock_detected", "lock_not_available":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}
