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
	"errors"
	"fmt"
	"net/http"

	"github.com/blnkfinance/repay/allocation"
	"github.com/blnkfinance/repay/database"
	"github.com/blnkfinance/repay/internal/apierror"
	"github.com/blnkfinance/repay/normalizer"
)

var (
	// ErrQueueNotConfigured is returned by operations that need the task
	// queue when Repay was built without one.
	ErrQueueNotConfigured = errors.New("task queue is not configured")

	// ErrInquiryPending is returned by an Inquirer when the channel has not
	// settled the payment yet.
	ErrInquiryPending = errors.New("payment is still pending at the channel")

	ErrSearchNotConfigured = errors.New("search is not configured")
)

// AdjustmentLookupError wraps a failed restructuring or waiver lookup. The
// settlement stays pending and is retried later.
type AdjustmentLookupError struct {
	Source     string
	BorrowerID string
	Err        error
}

func (e *AdjustmentLookupError) Error() string {
	return fmt.Sprintf("%s lookup failed for borrower %s: %v", e.Source, e.BorrowerID, e.Err)
}

func (e *AdjustmentLookupError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether processing the same notification again can
// succeed. Normalization failures and invariant violations never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var invariant *allocation.InvariantViolation
	if normalizer.IsNormalizationError(err) || errors.As(err, &invariant) {
		return false
	}

	var lookup *AdjustmentLookupError
	switch {
	case errors.As(err, &lookup):
		return true
	case errors.Is(err, database.ErrObligationNotFound),
		errors.Is(err, database.ErrStaleObligationState):
		return true
	case database.IsRetryableConflict(err):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// isConflict reports whether the unit should be replayed right away rather
// than left for the recovery sweep.
func isConflict(err error) bool {
	return database.IsRetryableConflict(err) ||
		errors.Is(err, database.ErrStaleObligationState) ||
		errors.Is(err, database.ErrObligationNotFound)
}

// HTTPStatus maps a settlement error to the status the API answers with.
func HTTPStatus(err error) int {
	switch {
	case normalizer.IsNormalizationError(err):
		return http.StatusUnprocessableEntity
	case IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return apierror.MapErrorToHTTPStatus(err)
}
